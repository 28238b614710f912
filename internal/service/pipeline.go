package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/metrics"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/notify"
)

// MessageSource pages through messages in the reservation system.
type MessageSource interface {
	ListMessages(ctx context.Context, since time.Time, skip, limit int) (model.MessagePage, error)
}

// ArrivalSource lists reservations checking in on a date.
type ArrivalSource interface {
	ArrivalsOn(ctx context.Context, date time.Time) ([]model.Arrival, error)
}

const (
	defaultPageSize        = 100
	defaultPendingLookback = 24 * time.Hour
)

// Pipeline is what the scheduler calls on each tick.
type Pipeline struct {
	Ingestion *IngestionService
	// Worker also owns the alert dispatcher and policy.
	Worker   *Worker
	Reports  *ReportService
	Messages MessageSource
	Arrivals ArrivalSource
	// Notifier receives the daily digest.
	Notifier notify.Notifier

	PollLookback    time.Duration
	PendingLookback time.Duration
	PageSize        int
	BatchSize       int
	Now             func() time.Time
}

// PollOnce ingests messages created within the poll lookback window.
func (p *Pipeline) PollOnce(ctx context.Context) (BatchResult, error) {
	start := time.Now()
	defer metrics.ObserveSince("poll", start)

	since := p.now().Add(-p.PollLookback)
	total, err := p.page(ctx, since, func(page model.MessagePage, _ int) (BatchResult, error) {
		return p.Ingestion.IngestPollBatch(ctx, page.Results)
	})
	logging.Module("pipeline").WithFields(logrus.Fields{
		"since":      since.Format(time.RFC3339),
		"inserted":   total.Inserted,
		"duplicates": total.Duplicates,
		"rejected":   total.Rejected,
	}).Info("poll finished")
	return total, err
}

// Backfill ingests every message from the last days days.
func (p *Pipeline) Backfill(ctx context.Context, days int) (BatchResult, error) {
	start := time.Now()
	defer metrics.ObserveSince("backfill", start)

	since := p.now().AddDate(0, 0, -days)
	return p.page(ctx, since, func(page model.MessagePage, skip int) (BatchResult, error) {
		return p.Ingestion.IngestBackfillBatch(ctx, page.Results, PageInfo{Skip: skip, Total: page.Count})
	})
}

func (p *Pipeline) page(ctx context.Context, since time.Time, ingest func(model.MessagePage, int) (BatchResult, error)) (BatchResult, error) {
	var total BatchResult
	limit := p.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	for skip := 0; ; {
		page, err := p.Messages.ListMessages(ctx, since, skip, limit)
		if err != nil {
			return total, appErrors.NewCapabilityFailure("message source", err)
		}
		res, err := ingest(page, skip)
		total.Inserted += res.Inserted
		total.Duplicates += res.Duplicates
		total.Rejected += res.Rejected
		if err != nil {
			return total, err
		}

		skip += len(page.Results)
		total.NextSkip = skip
		if len(page.Results) == 0 || skip >= page.Count {
			return total, nil
		}
		logging.Module("pipeline").WithFields(logrus.Fields{
			"skip":  skip,
			"count": page.Count,
		}).Debug("fetching next page")
	}
}

// RunClassificationCycle classifies a batch, then retries alerts that have
// not gone out yet, all under the worker's cycle lock.
func (p *Pipeline) RunClassificationCycle(ctx context.Context) (CycleResult, error) {
	if p.Worker.Dispatcher == nil {
		return p.Worker.RunCycle(ctx, p.BatchSize)
	}
	lookback := p.PendingLookback
	if lookback <= 0 {
		lookback = defaultPendingLookback
	}
	return p.Worker.RunCycleAndRetryAlerts(ctx, p.BatchSize, p.now().Add(-lookback))
}

// RunDailyReport builds the digest for date and sends it through the notifier.
func (p *Pipeline) RunDailyReport(ctx context.Context, date time.Time) (*model.Digest, error) {
	start := time.Now()
	defer metrics.ObserveSince("report", start)

	arrivals, err := p.Arrivals.ArrivalsOn(ctx, date)
	if err != nil {
		return nil, appErrors.NewCapabilityFailure("reservation lookup", err)
	}
	digest, err := p.Reports.BuildDailyDigest(ctx, date, arrivals)
	if err != nil {
		return nil, err
	}

	if p.Notifier != nil {
		n := notify.Notification{
			Title: "Daily Summary",
			Body:  RenderMarkdown(digest),
		}
		if err := p.Notifier.Send(ctx, n); err != nil {
			return digest, appErrors.NewCapabilityFailure("notifier", err)
		}
	}
	return digest, nil
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
