package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/unclebandit/inboxintel-backend/internal/logging"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

const (
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
)

// InMemoryQueue is an in-process queue with bounded retry
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	wg       sync.WaitGroup

	MaxRetries int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		MaxRetries: defaultMaxRetries,
		Backoff:    defaultBackoff,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := append([]func(payload any) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := JobPayload{
		Topic:      topic,
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: q.MaxRetries,
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(handler, job)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()
	log := logging.Module("queue").WithField("topic", job.Topic)

	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			log.WithField("attempt", job.RetryCount+1).Debug("job processed")
			return // ACK
		}

		job.RetryCount++
		log.WithError(err).Warnf("job failed (attempt %d/%d)", job.RetryCount, job.MaxRetries+1)

		if job.RetryCount > job.MaxRetries {
			log.WithError(err).Errorf("job permanently failed after %d attempts", job.RetryCount)
			return // No requeue
		}

		// Linear backoff before retry
		time.Sleep(time.Duration(job.RetryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished, including retries.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Encode turns a queue payload into JSON bytes. Raw bytes pass through.
func Encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return json.Marshal(payload)
}

// StartRelay subscribes to topic and hands every payload, as JSON, to
// deliver. A deliver error triggers the queue's retry.
func StartRelay(q Queue, topic string, deliver func(body []byte) error) error {
	err := q.Subscribe(topic, func(payload any) error {
		body, err := Encode(payload)
		if err != nil {
			logging.Module("queue").WithError(err).Error("dropping undecodable payload")
			return nil // no retry
		}
		return deliver(body)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	logging.Module("queue").WithField("topic", topic).Info("relay subscribed")
	return nil
}
