// cmd/backfill/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/inboxintel-backend/internal/app"
	"github.com/unclebandit/inboxintel-backend/internal/config"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
)

func main() {
	log := logging.Module("backfill")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)

	days := flag.Int("days", cfg.BackfillDays, "how many days of message history to import")
	flag.Parse()
	if *days <= 0 {
		log.Fatalf("-days must be positive, got %d", *days)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open message store")
	}
	defer a.Close()

	if a.Guesty == nil {
		log.Fatal("GUESTY_API_KEY and GUESTY_API_SECRET are required for a backfill")
	}

	// Backfill only ingests, so the pipeline needs no classifier or notifier.
	p := a.Pipeline(nil, nil, nil)
	result, err := p.Backfill(ctx, *days)

	fmt.Printf("Backfill (%d days)\n", *days)
	fmt.Printf("  fetched:    %d\n", result.Inserted+result.Duplicates+result.Rejected)
	fmt.Printf("  new:        %d\n", result.Inserted)
	fmt.Printf("  duplicates: %d\n", result.Duplicates)
	fmt.Printf("  rejected:   %d\n", result.Rejected)

	if err != nil {
		log.WithError(err).Fatal("backfill stopped early")
	}
	log.Info("✅ Backfill complete")
}
