package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/inboxintel-backend/internal/classifier"
	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/lock"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/metrics"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/repository"
)

const (
	cycleLockKey = "inboxintel:classification-cycle"
	// minCycleLockTTL is the floor; lockTTL adds the worst case of the batch.
	minCycleLockTTL = 10 * time.Minute
	cycleLockMargin = time.Minute
)

// CycleResult counts what one classification cycle did.
type CycleResult struct {
	Attempted    int `json:"attempted"`
	Classified   int `json:"classified"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
	// Pending holds the retry pass over earlier alerts, when one ran.
	Pending DispatchSummary `json:"pending"`
}

// Worker classifies unprocessed messages and hands them to the dispatcher.
type Worker struct {
	MessageRepo repository.MessageRepositoryInterface
	Classifier  classifier.Classifier
	Dispatcher  *AlertDispatcher
	Policy      model.AlertPolicy
	// Locker keeps cycles from overlapping. Nil runs unguarded.
	Locker lock.Locker
	// ClassifyTimeout bounds each classifier call.
	ClassifyTimeout time.Duration
	// MaxAttempts matches the repository cap and is used for reporting.
	MaxAttempts int

	validate *validator.Validate
}

// Constructor
func NewWorker(repo repository.MessageRepositoryInterface, c classifier.Classifier, d *AlertDispatcher, policy model.AlertPolicy) *Worker {
	return &Worker{
		MessageRepo:     repo,
		Classifier:      c,
		Dispatcher:      d,
		Policy:          policy,
		ClassifyTimeout: 30 * time.Second,
		validate:        validator.New(),
	}
}

// RunCycle processes up to batchSize unprocessed messages, oldest first.
// Classifier failures are recorded and skipped. Store failures end the cycle
// and are returned along with the counts so far.
func (w *Worker) RunCycle(ctx context.Context, batchSize int) (CycleResult, error) {
	return w.run(ctx, batchSize, time.Time{})
}

// RunCycleAndRetryAlerts is RunCycle followed by DispatchPending for
// messages processed since pendingSince, both under the same cycle lock so
// that two workers never retry the same alert.
func (w *Worker) RunCycleAndRetryAlerts(ctx context.Context, batchSize int, pendingSince time.Time) (CycleResult, error) {
	return w.run(ctx, batchSize, pendingSince)
}

func (w *Worker) run(ctx context.Context, batchSize int, pendingSince time.Time) (CycleResult, error) {
	start := time.Now()
	defer metrics.ObserveSince("classification", start)

	retryAlerts := !pendingSince.IsZero() && w.Dispatcher != nil
	log := logging.Module("worker").WithField("cycle_id", uuid.NewString())

	if w.Locker != nil {
		held, err := w.Locker.Obtain(ctx, cycleLockKey, w.lockTTL(batchSize, retryAlerts))
		if errors.Is(err, lock.ErrNotObtained) {
			log.Info("another classification cycle is running")
			return CycleResult{}, appErrors.ErrCycleInProgress
		}
		if err != nil {
			return CycleResult{}, fmt.Errorf("obtain cycle lock: %w", err)
		}
		defer func() {
			if err := held.Release(context.Background()); err != nil {
				log.WithError(err).Warn("failed to release cycle lock")
			}
		}()
	}

	result, err := w.classifyBatch(ctx, log, batchSize)
	if err != nil || !retryAlerts {
		return result, err
	}

	result.Pending, err = w.Dispatcher.DispatchPending(ctx, pendingSince, w.Policy)
	if err != nil {
		return result, err
	}
	if result.Pending.Sent > 0 || result.Pending.Failed > 0 {
		log.WithFields(logrus.Fields{
			"sent":   result.Pending.Sent,
			"failed": result.Pending.Failed,
		}).Info("pending alerts retried")
	}
	return result, nil
}

func (w *Worker) classifyBatch(ctx context.Context, log *logrus.Entry, batchSize int) (CycleResult, error) {
	var result CycleResult
	messages, err := w.MessageRepo.FetchUnprocessed(ctx, batchSize)
	if err != nil {
		return result, appErrors.NewStoreFailure("fetch unprocessed", err)
	}
	if len(messages) == 0 {
		log.Debug("no unprocessed messages")
		return result, nil
	}

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			log.WithField("attempted", result.Attempted).Info("cycle cancelled")
			return result, err
		}
		result.Attempted++

		classification, err := w.classify(ctx, msg.Text)
		if err != nil && ctx.Err() != nil {
			// Shutting down; not the message's fault.
			return result, ctx.Err()
		}

		// Once classified, a record is finished even if ctx is cancelled.
		commitCtx := context.WithoutCancel(ctx)
		if err != nil {
			result.Failed++
			metrics.Classifications.WithLabelValues("failed").Inc()
			attempts, ferr := w.MessageRepo.RecordFailure(commitCtx, msg.ExternalID, err.Error())
			if ferr != nil {
				return result, appErrors.NewStoreFailure("record failure", ferr)
			}
			entry := log.WithFields(logrus.Fields{"external_id": msg.ExternalID, "attempts": attempts})
			if w.MaxAttempts > 0 && attempts >= w.MaxAttempts {
				result.DeadLettered++
				metrics.Classifications.WithLabelValues("dead_lettered").Inc()
				entry.WithError(err).Error("classification failed permanently, message dead-lettered")
			} else {
				entry.WithError(err).Warn("classification failed, will retry")
			}
			continue
		}

		marked, err := w.MessageRepo.MarkProcessed(commitCtx, msg.ExternalID, classification)
		if err != nil {
			if errors.Is(err, appErrors.ErrMessageNotFound) {
				log.WithField("external_id", msg.ExternalID).Warn("message disappeared before classification was stored")
				continue
			}
			return result, appErrors.NewStoreFailure("mark processed", err)
		}
		if marked == repository.MarkAlreadyProcessed {
			// A concurrent cycle got there first and owns the dispatch.
			log.WithField("external_id", msg.ExternalID).Info("message already processed")
			continue
		}

		result.Classified++
		metrics.Classifications.WithLabelValues("classified").Inc()
		msg.Apply(classification, time.Now().UTC())
		log.WithFields(logrus.Fields{
			"external_id": msg.ExternalID,
			"category":    classification.Category,
			"confidence":  classification.Confidence,
		}).Info("message classified")

		if w.Dispatcher != nil {
			if _, err := w.Dispatcher.EvaluateAndDispatch(commitCtx, msg, w.Policy); err != nil {
				return result, err
			}
		}
	}

	log.WithFields(logrus.Fields{
		"attempted":     result.Attempted,
		"classified":    result.Classified,
		"failed":        result.Failed,
		"dead_lettered": result.DeadLettered,
	}).Info("classification cycle finished")
	return result, nil
}

// classify calls the classifier under the timeout and validates its output.
func (w *Worker) classify(ctx context.Context, text string) (model.Classification, error) {
	cctx := ctx
	if w.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, w.ClassifyTimeout)
		defer cancel()
	}

	c, err := w.Classifier.Classify(cctx, text)
	if err != nil {
		return model.Classification{}, appErrors.NewCapabilityFailure("classifier", err)
	}
	if err := w.validator().Struct(c); err != nil {
		return model.Classification{}, fmt.Errorf("invalid classification: %w", err)
	}
	if strings.TrimSpace(c.Summary) == "" {
		return model.Classification{}, fmt.Errorf("invalid classification: blank summary")
	}
	if _, ok := model.ParseCategory(string(c.Category)); !ok {
		return model.Classification{}, fmt.Errorf("invalid classification: unknown category %q", c.Category)
	}
	return c, nil
}

// lockTTL covers the slowest possible cycle: every classification and
// every alert hitting its timeout.
func (w *Worker) lockTTL(batchSize int, retryAlerts bool) time.Duration {
	var notifyTimeout time.Duration
	if w.Dispatcher != nil {
		notifyTimeout = w.Dispatcher.NotifyTimeout
	}
	ttl := time.Duration(batchSize)*(w.ClassifyTimeout+notifyTimeout) + cycleLockMargin
	if retryAlerts {
		ttl += time.Duration(defaultPendingPageSize) * notifyTimeout
	}
	if ttl < minCycleLockTTL {
		return minCycleLockTTL
	}
	return ttl
}

func (w *Worker) validator() *validator.Validate {
	if w.validate == nil {
		w.validate = validator.New()
	}
	return w.validate
}
