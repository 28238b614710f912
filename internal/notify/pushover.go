package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const pushoverAPIURL = "https://api.pushover.net/1/messages.json"

type pushover struct {
	token, user string
	apiURL      string
	client      *http.Client
}

func newPushover(s Settings) (Notifier, error) {
	if s.PushoverToken == "" || s.PushoverUser == "" {
		return nil, fmt.Errorf("pushover credentials not configured")
	}
	apiURL := s.PushoverURL
	if apiURL == "" {
		apiURL = pushoverAPIURL
	}
	return &pushover{token: s.PushoverToken, user: s.PushoverUser, apiURL: apiURL, client: s.HTTPClient}, nil
}

func (p *pushover) Name() string { return "pushover" }

type pushoverResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors"`
}

func (p *pushover) Send(ctx context.Context, n Notification) error {
	form := url.Values{
		"token":    {p.token},
		"user":     {p.user},
		"title":    {n.Title},
		"message":  {n.Body},
		"priority": {strconv.Itoa(n.Priority)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	defer resp.Body.Close()

	var out pushoverResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover returned %d: %v", resp.StatusCode, out.Errors)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode pushover response: %w", decodeErr)
	}
	if out.Status != 1 {
		if len(out.Errors) == 0 {
			out.Errors = []string{"unknown error"}
		}
		return fmt.Errorf("pushover api error: %v", out.Errors)
	}
	return nil
}
