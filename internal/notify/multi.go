package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
)

// Multi sends to every channel. It succeeds when at least one accepts.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Name() string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return strings.Join(names, "+")
}

func (m *Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	accepted := 0
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			logging.Module("notify").WithError(err).WithField("channel", notifier.Name()).Warn("channel rejected notification")
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return fmt.Errorf("%w: %w", appErrors.ErrNoNotifierAccept, errors.Join(errs...))
	}
	return nil
}
