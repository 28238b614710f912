package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

type pubSubNotifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func newPubSub(s Settings) (Notifier, error) {
	if s.PubSubProjectID == "" || s.PubSubTopic == "" {
		return nil, fmt.Errorf("pubsub notifier requires PUBSUB_PROJECT_ID and PUBSUB_TOPIC")
	}
	ctx := context.Background()

	var opts []option.ClientOption
	if s.PubSubCredsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(s.PubSubCredsJSON)))
	}
	client, err := pubsub.NewClient(ctx, s.PubSubProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewPubSubNotifier(client, s.PubSubTopic), nil
}

// NewPubSubNotifier publishes to topic on an existing client.
func NewPubSubNotifier(client *pubsub.Client, topic string) Notifier {
	return &pubSubNotifier{client: client, topic: client.Topic(topic)}
}

func (p *pubSubNotifier) Name() string { return "pubsub" }

func (p *pubSubNotifier) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	attrs := map[string]string{}
	if n.Category != "" {
		attrs["category"] = string(n.Category)
	}
	if n.MessageExternalID != "" {
		attrs["message_external_id"] = n.MessageExternalID
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}
