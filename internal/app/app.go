// Package app wires configuration into the store, capabilities and pipeline
// shared by the binaries under cmd/.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unclebandit/inboxintel-backend/internal/classifier"
	"github.com/unclebandit/inboxintel-backend/internal/config"
	"github.com/unclebandit/inboxintel-backend/internal/db"
	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/guesty"
	"github.com/unclebandit/inboxintel-backend/internal/lock"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/notify"
	"github.com/unclebandit/inboxintel-backend/internal/queue"
	"github.com/unclebandit/inboxintel-backend/internal/repository"
	"github.com/unclebandit/inboxintel-backend/internal/service"
)

// App owns every long-lived resource. Close releases them in reverse order.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Messages *repository.MessageRepository
	Alerts   *repository.AlertLogRepository

	Ingestion *service.IngestionService
	Reports   *service.ReportService
	// Guesty is nil when no API credentials are configured.
	Guesty *guesty.Client

	closers []func() error
}

// OpenStore connects to the database, creates the schema and builds the
// ingestion and report services. It is enough for the webhook server.
func OpenStore(ctx context.Context, cfg *config.Config) (*App, error) {
	conn, dialect, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn}
	a.closers = append(a.closers, conn.Close)

	if err := repository.EnsureSchema(ctx, conn, dialect); err != nil {
		a.Close()
		return nil, err
	}
	a.Messages = repository.NewMessageRepository(conn, dialect, cfg.MaxAttempts)
	a.Alerts = repository.NewAlertLogRepository(conn, dialect)
	a.Reports = service.NewReportService(a.Messages)

	a.Ingestion, err = service.NewIngestionService(a.Messages)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.GuestyAPIKey != "" && cfg.GuestyAPISecret != "" {
		a.Guesty, err = guesty.New(ctx, guesty.Config{
			ClientID:     cfg.GuestyAPIKey,
			ClientSecret: cfg.GuestyAPISecret,
			BaseURL:      cfg.GuestyBaseURL,
			TokenURL:     cfg.GuestyTokenURL,
			PageLimit:    cfg.ReservationLimit,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logging.Module("app").Warn("GUESTY_API_KEY/GUESTY_API_SECRET not set, polling and reports are disabled")
	}
	return a, nil
}

// Classifier builds the configured provider with a hot-reloaded prompt.
func (a *App) Classifier() (classifier.Classifier, error) {
	prompts, err := classifier.WatchPrompts(a.Config.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	a.closers = append(a.closers, prompts.Close)

	return classifier.Build(a.Config.LLMProvider, classifier.Options{
		GeminiAPIKey: a.Config.GeminiAPIKey,
		OllamaURL:    a.Config.OllamaURL,
		Prompts:      prompts,
	})
}

// Notifier builds the configured channels. When one of them is "queue",
// a relay forwarding the queue topic to RelayChannels is started first.
func (a *App) Notifier(ctx context.Context) (notify.Notifier, error) {
	settings := notify.SettingsFromConfig(a.Config)

	if notify.NeedsQueue(a.Config.NotifyChannels) {
		if notify.NeedsQueue(a.Config.RelayChannels) {
			return nil, fmt.Errorf("%w: ALERT_RELAY_CHANNELS cannot include queue", appErrors.ErrInvalidConfig)
		}
		q := a.alertQueue()
		relay, err := notify.BuildAll(a.Config.RelayChannels, settings)
		if err != nil {
			return nil, err
		}
		if err := queue.StartRelay(q, a.Config.AlertQueue, notify.Relay(ctx, relay)); err != nil {
			return nil, err
		}
		settings.Queue = q
	}
	return notify.BuildAll(a.Config.NotifyChannels, settings)
}

// alertQueue prefers AMQP and falls back to the in-process queue when the
// broker is unreachable.
func (a *App) alertQueue() queue.Queue {
	log := logging.Module("app")
	if a.Config.AMQPURL != "" {
		q, err := queue.NewAMQPQueue(a.Config.AMQPURL)
		if err == nil {
			a.closers = append(a.closers, q.Close)
			log.Info("alert queue: amqp")
			return q
		}
		log.WithError(err).Warn("amqp unavailable, using in-memory alert queue")
	}
	return queue.NewInMemoryQueue()
}

// Locker returns a Redis-backed locker when REDIS_ADDRESS is set.
func (a *App) Locker(ctx context.Context) lock.Locker {
	if a.Config.RedisAddress == "" {
		return lock.NewLocalLocker()
	}
	locker, rdb, err := lock.ConnectRedis(ctx, a.Config.RedisAddress)
	if err != nil {
		logging.Module("app").WithError(err).Warn("redis unavailable, cycle lock is process-local")
		return lock.NewLocalLocker()
	}
	a.closers = append(a.closers, rdb.Close)
	return locker
}

// Pipeline assembles the scheduled jobs. n receives both alerts and the
// daily digest.
func (a *App) Pipeline(c classifier.Classifier, n notify.Notifier, locker lock.Locker) *service.Pipeline {
	cfg := a.Config
	policy := cfg.Policy()

	dispatcher := service.NewAlertDispatcher(a.Messages, a.Alerts, n)
	dispatcher.NotifyTimeout = cfg.NotifyTimeout

	worker := service.NewWorker(a.Messages, c, dispatcher, policy)
	worker.Locker = locker
	worker.ClassifyTimeout = cfg.ClassifyTimeout
	worker.MaxAttempts = cfg.MaxAttempts

	p := &service.Pipeline{
		Ingestion:    a.Ingestion,
		Worker:       worker,
		Reports:      a.Reports,
		Notifier:     n,
		PollLookback: cfg.PollInterval,
		PageSize:     cfg.ReservationLimit,
		BatchSize:    cfg.ClassifyBatch,
	}
	// Assigning a nil *guesty.Client would make the interfaces non-nil.
	if a.Guesty != nil {
		p.Messages = a.Guesty
		p.Arrivals = a.Guesty
	}
	return p
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
