package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/metrics"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/notify"
	"github.com/unclebandit/inboxintel-backend/internal/repository"
)

type DispatchStatus string

const (
	DispatchSent       DispatchStatus = "sent"
	DispatchSuppressed DispatchStatus = "suppressed"
	DispatchFailed     DispatchStatus = "failed"
)

const (
	ReasonNotProcessed     = "not-processed"
	ReasonNotAlertable     = "category-not-alertable"
	ReasonBelowConfidence  = "below-confidence"
	ReasonAlreadyAlerted   = "already-alerted"
	defaultPendingPageSize = 100
)

type DispatchOutcome struct {
	Status DispatchStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

// DispatchSummary counts the outcomes of a DispatchPending run.
type DispatchSummary struct {
	Sent       int `json:"sent"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

// AlertDispatcher sends at most one alert per message.
type AlertDispatcher struct {
	MessageRepo  repository.MessageRepositoryInterface
	AlertLogRepo repository.AlertLogRepositoryInterface
	Notifier     notify.Notifier
	// NotifyTimeout bounds each notifier call.
	NotifyTimeout time.Duration
	Now           func() time.Time
}

func NewAlertDispatcher(messages repository.MessageRepositoryInterface, alerts repository.AlertLogRepositoryInterface, n notify.Notifier) *AlertDispatcher {
	return &AlertDispatcher{
		MessageRepo:   messages,
		AlertLogRepo:  alerts,
		Notifier:      n,
		NotifyTimeout: 10 * time.Second,
		Now:           time.Now,
	}
}

// Qualifies applies the policy alone, without consulting the alert log.
func Qualifies(m model.Message, p model.AlertPolicy) (bool, string) {
	if !m.Classified() {
		return false, ReasonNotProcessed
	}
	if !p.AlertCategories[*m.Category] {
		return false, ReasonNotAlertable
	}
	if *m.Confidence < p.MinConfidence {
		return false, ReasonBelowConfidence
	}
	return true, ""
}

// EvaluateAndDispatch sends an alert for m if the policy allows it and no
// alert was sent before. Notifier failures are reported as DispatchFailed
// with a nil error; only store failures return an error.
func (d *AlertDispatcher) EvaluateAndDispatch(ctx context.Context, m model.Message, p model.AlertPolicy) (DispatchOutcome, error) {
	log := logging.Module("dispatcher").WithField("external_id", m.ExternalID)

	if ok, reason := Qualifies(m, p); !ok {
		return d.suppress(log, reason), nil
	}

	alerted, err := d.AlertLogRepo.HasSuccessfulAlert(ctx, m.ExternalID)
	if err != nil {
		return DispatchOutcome{}, appErrors.NewStoreFailure("check alert log", err)
	}
	if alerted {
		return d.suppress(log, ReasonAlreadyAlerted), nil
	}

	n := RenderAlert(m)
	if err := d.send(ctx, n); err != nil {
		metrics.Alerts.WithLabelValues(string(DispatchFailed)).Inc()
		log.WithError(err).WithField("channel", d.Notifier.Name()).Error("alert delivery failed")
		return DispatchOutcome{Status: DispatchFailed, Reason: err.Error()}, nil
	}

	entry := &model.AlertLog{
		ID:                uuid.NewString(),
		MessageExternalID: m.ExternalID,
		Category:          *m.Category,
		Channel:           d.Notifier.Name(),
		SentAt:            d.now(),
	}
	if _, err := d.AlertLogRepo.RecordAlert(ctx, entry); err != nil {
		// The alert went out; a repeat on a later pass is the accepted cost.
		logging.LogError(logging.GetLogger(), "dispatcher", "EvaluateAndDispatch", "alert sent but not logged", m.ExternalID, err)
	}

	metrics.Alerts.WithLabelValues(string(DispatchSent)).Inc()
	log.WithFields(logrus.Fields{
		"category": *m.Category,
		"channel":  entry.Channel,
	}).Info("alert sent")
	return DispatchOutcome{Status: DispatchSent}, nil
}

// DispatchPending retries messages processed since the given time that
// qualify under p and have no alert on record, such as those whose notifier
// failed earlier.
func (d *AlertDispatcher) DispatchPending(ctx context.Context, since time.Time, p model.AlertPolicy) (DispatchSummary, error) {
	var summary DispatchSummary
	messages, err := d.MessageRepo.FetchProcessedWithoutAlert(ctx, since, p, defaultPendingPageSize)
	if err != nil {
		return summary, appErrors.NewStoreFailure("fetch pending alerts", err)
	}
	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome, err := d.EvaluateAndDispatch(ctx, m, p)
		if err != nil {
			return summary, err
		}
		switch outcome.Status {
		case DispatchSent:
			summary.Sent++
		case DispatchSuppressed:
			summary.Suppressed++
		case DispatchFailed:
			summary.Failed++
		}
	}
	return summary, nil
}

func (d *AlertDispatcher) send(ctx context.Context, n notify.Notification) error {
	if d.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.NotifyTimeout)
		defer cancel()
	}
	return appErrors.NewCapabilityFailure("notifier", d.Notifier.Send(ctx, n))
}

func (d *AlertDispatcher) suppress(log *logrus.Entry, reason string) DispatchOutcome {
	metrics.Alerts.WithLabelValues(string(DispatchSuppressed)).Inc()
	log.WithField("reason", reason).Debug("alert suppressed")
	return DispatchOutcome{Status: DispatchSuppressed, Reason: reason}
}

func (d *AlertDispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
