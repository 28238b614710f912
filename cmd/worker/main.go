package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/inboxintel-backend/internal/app"
	"github.com/unclebandit/inboxintel-backend/internal/config"
	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/service"
)

var log = logging.Module("worker")

func main() {
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

	c, err := a.Classifier()
	if err != nil {
		log.WithError(err).Fatal("failed to build classifier")
	}
	n, err := a.Notifier(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to build notifier")
	}
	p := a.Pipeline(c, n, a.Locker(ctx))

	log.WithFields(logrus.Fields{
		"provider":     cfg.LLMProvider,
		"notifier":     n.Name(),
		"poll":         cfg.PollInterval.String(),
		"process":      cfg.ProcessInterval.String(),
		"report_hour":  cfg.ReportHour,
		"guesty_ready": a.Guesty != nil,
	}).Info("Worker running")

	if a.Guesty != nil {
		go pollLoop(ctx, p, cfg.PollInterval)
		go reportLoop(ctx, p, cfg.ReportHour)
	}
	processLoop(ctx, p, cfg.ProcessInterval)

	log.Info("worker shut down")
}

func pollLoop(ctx context.Context, p *service.Pipeline, interval time.Duration) {
	failures := 0
	for {
		result, err := p.PollOnce(ctx)
		switch {
		case err == nil:
			failures = 0
			log.WithFields(logrus.Fields{
				"inserted":   result.Inserted,
				"duplicates": result.Duplicates,
				"rejected":   result.Rejected,
			}).Info("poll complete")
		case ctx.Err() != nil:
			return
		default:
			failures++
			logging.LogError(logging.GetLogger(), "worker", "pollLoop", "poll failed", nil, err)
		}
		if !sleep(ctx, wait(interval, failures, err)) {
			return
		}
	}
}

func processLoop(ctx context.Context, p *service.Pipeline, interval time.Duration) {
	failures := 0
	for {
		result, err := p.RunClassificationCycle(ctx)
		switch {
		case err == nil:
			failures = 0
			if result.Attempted > 0 {
				log.WithFields(logrus.Fields{
					"classified":    result.Classified,
					"failed":        result.Failed,
					"dead_lettered": result.DeadLettered,
				}).Info("classification cycle complete")
			}
		case errors.Is(err, appErrors.ErrCycleInProgress):
			log.Info("classification cycle held by another worker")
		case ctx.Err() != nil:
			return
		default:
			failures++
			logging.LogError(logging.GetLogger(), "worker", "processLoop", "classification cycle failed", nil, err)
		}
		if !sleep(ctx, wait(interval, failures, err)) {
			return
		}
	}
}

func reportLoop(ctx context.Context, p *service.Pipeline, hour int) {
	for {
		next := nextReportTime(time.Now(), hour)
		log.WithField("at", next.Format(time.RFC3339)).Debug("next daily report scheduled")
		if !sleep(ctx, time.Until(next)) {
			return
		}
		digest, err := p.RunDailyReport(ctx, next)
		if err != nil {
			logging.LogError(logging.GetLogger(), "worker", "reportLoop", "daily report failed", next.Format("2006-01-02"), err)
			continue
		}
		log.WithField("arrivals", len(digest.Entries)).Info("daily report sent")
	}
}

// wait backs off only on store failures; other errors retry at the normal pace.
func wait(interval time.Duration, failures int, err error) time.Duration {
	if err != nil && appErrors.IsStoreFailure(err) {
		return backoff(interval, failures)
	}
	return interval
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
