// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/inboxintel-backend/internal/app"
	"github.com/unclebandit/inboxintel-backend/internal/config"
	"github.com/unclebandit/inboxintel-backend/internal/controller"
	"github.com/unclebandit/inboxintel-backend/internal/handler"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/metrics"
)

func main() {
	log := logging.Module("server")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open message store")
	}
	defer a.Close()

	r := newRouter(a)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebhookPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("🚀 Server running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server shut down")
}

func newRouter(a *app.App) chi.Router {
	webhookHandler := handler.NewWebhookHandler(a.Ingestion, a.Messages)
	reportController := &controller.ReportController{
		Reports: a.Reports,
	}
	if a.Guesty != nil {
		reportController.Arrivals = a.Guesty
	}

	r := chi.NewRouter()

	r.Get("/", handler.HealthHandler)
	r.Handle("/metrics", metrics.Handler())

	// Message routes
	r.Post("/webhooks/guesty/messages", webhookHandler.ReceiveMessageHandler)
	r.Get("/messages/stats", webhookHandler.StatsHandler)

	// Report routes
	r.Get("/reports/daily", reportController.DailyReport)

	return r
}
