package queue

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/unclebandit/inboxintel-backend/internal/logging"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes JSON bodies to durable RabbitMQ queues named after the
// topic. Failed deliveries are republished with an incremented retry header
// until MaxRetries is reached.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex

	MaxRetries int
}

func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, MaxRetries: defaultMaxRetries}, nil
}

func (q *AMQPQueue) declare(topic string) error {
	_, err := q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retries int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.ch.Publish(
		"",    // default exchange
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{retryHeader: int32(retries)},
			Body:         body,
		},
	)
}

// Subscribe consumes topic with manual acks. The handler receives the raw
// body as []byte.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	if err := q.declare(topic); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	msgs, err := q.ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		log := logging.Module("queue").WithField("topic", topic)
		for d := range msgs {
			err := handler(d.Body)
			if err == nil {
				_ = d.Ack(false)
				continue
			}

			retries := retryCount(d.Headers)
			if retries < q.MaxRetries {
				log.WithError(err).Warnf("delivery failed (attempt %d/%d), requeueing", retries+1, q.MaxRetries+1)
				if perr := q.publish(topic, d.Body, retries+1); perr != nil {
					log.WithError(perr).Error("requeue failed")
					_ = d.Nack(false, true)
					continue
				}
			} else {
				log.WithError(err).Errorf("delivery permanently failed after %d attempts", retries+1)
			}
			_ = d.Ack(false)
		}
		log.Info("consumer stopped")
	}()
	return nil
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

var (
	_ Queue = (*AMQPQueue)(nil)
	_ Queue = (*InMemoryQueue)(nil)
)
