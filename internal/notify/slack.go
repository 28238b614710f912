package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type slack struct {
	webhookURL string
	client     *http.Client
}

func newSlack(s Settings) (Notifier, error) {
	if s.SlackWebhookURL == "" {
		return nil, fmt.Errorf("SLACK_WEBHOOK_URL not configured")
	}
	return &slack{webhookURL: s.SlackWebhookURL, client: s.HTTPClient}, nil
}

func (s *slack) Name() string { return "slack" }

func (s *slack) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(map[string]string{"text": "*" + n.Title + "*\n" + n.Body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
