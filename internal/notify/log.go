package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/inboxintel-backend/internal/logging"
)

type logNotifier struct {
	entry *logrus.Entry
}

func newLogNotifier(Settings) (Notifier, error) {
	return &logNotifier{entry: logging.Module("notify")}, nil
}

func (l *logNotifier) Name() string { return "log" }

func (l *logNotifier) Send(_ context.Context, n Notification) error {
	l.entry.WithFields(logrus.Fields{
		"title":       n.Title,
		"category":    n.Category,
		"external_id": n.MessageExternalID,
		"priority":    n.Priority,
	}).Info(n.Body)
	return nil
}
