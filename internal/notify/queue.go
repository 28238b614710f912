package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unclebandit/inboxintel-backend/internal/queue"
)

// queueNotifier hands alerts to a queue for asynchronous delivery. A relay
// on the other side of the queue owns retries.
type queueNotifier struct {
	q     queue.Queue
	topic string
}

func newQueueNotifier(s Settings) (Notifier, error) {
	if s.Queue == nil {
		return nil, fmt.Errorf("queue notifier requires a queue")
	}
	topic := s.AlertQueue
	if topic == "" {
		topic = "guest_alerts"
	}
	return &queueNotifier{q: s.Queue, topic: topic}, nil
}

func (q *queueNotifier) Name() string { return "queue" }

func (q *queueNotifier) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return q.q.Publish(q.topic, body)
}

// Relay returns a queue handler that decodes notifications and forwards
// them to next.
func Relay(ctx context.Context, next Notifier) func(body []byte) error {
	return func(body []byte) error {
		var n Notification
		if err := json.Unmarshal(body, &n); err != nil {
			return fmt.Errorf("decode queued notification: %w", err)
		}
		return next.Send(ctx, n)
	}
}
