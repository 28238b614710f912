// cmd/report/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/unclebandit/inboxintel-backend/internal/app"
	"github.com/unclebandit/inboxintel-backend/internal/config"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/service"
)

func main() {
	log := logging.Module("report")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)

	dateFlag := flag.String("date", time.Now().UTC().Format("2006-01-02"), "arrival date (YYYY-MM-DD)")
	xlsxPath := flag.String("xlsx", "", "write a spreadsheet to this path instead of markdown to stdout")
	flag.Parse()

	date, err := time.Parse("2006-01-02", *dateFlag)
	if err != nil {
		log.Fatalf("invalid -date %q: expected YYYY-MM-DD", *dateFlag)
	}

	ctx := context.Background()
	a, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open message store")
	}
	defer a.Close()

	if a.Guesty == nil {
		log.Fatal("GUESTY_API_KEY and GUESTY_API_SECRET are required to look up arrivals")
	}

	arrivals, err := a.Guesty.ArrivalsOn(ctx, date)
	if err != nil {
		log.WithError(err).Fatal("failed to fetch arrivals")
	}
	digest, err := a.Reports.BuildDailyDigest(ctx, date, arrivals)
	if err != nil {
		log.WithError(err).Fatal("failed to build digest")
	}

	if *xlsxPath == "" {
		fmt.Println(service.RenderMarkdown(digest))
		return
	}

	f, err := os.Create(*xlsxPath)
	if err != nil {
		log.WithError(err).Fatal("failed to create spreadsheet")
	}
	defer f.Close()
	if err := service.WriteXLSX(digest, f); err != nil {
		log.WithError(err).Fatal("failed to write spreadsheet")
	}
	log.WithField("path", *xlsxPath).Info("✅ Report written")
}
