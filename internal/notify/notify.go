// Package notify delivers alerts to the host through one or more channels.
package notify

import (
	"context"
	"net/http"
	"strings"

	"github.com/unclebandit/inboxintel-backend/internal/config"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/queue"
)

// Notification is a rendered alert ready for delivery.
type Notification struct {
	Title             string         `json:"title"`
	Body              string         `json:"body"`
	Priority          int            `json:"priority"`
	MessageExternalID string         `json:"message_external_id,omitempty"`
	Category          model.Category `json:"category,omitempty"`
}

type Notifier interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Settings holds everything the channel factories need.
type Settings struct {
	PushoverToken string
	PushoverUser  string
	PushoverURL   string

	SlackWebhookURL string

	EmailFrom     string
	EmailTo       []string
	EmailSMTPHost string
	EmailSMTPPort int
	EmailSMTPUser string
	EmailSMTPPass string

	Queue      queue.Queue
	AlertQueue string

	PubSubProjectID string
	PubSubTopic     string
	PubSubCredsJSON string

	HTTPClient *http.Client
}

// SettingsFromConfig copies channel settings out of cfg. Queue is left for
// the caller to attach.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PushoverToken:   cfg.PushoverToken,
		PushoverUser:    cfg.PushoverUser,
		SlackWebhookURL: cfg.SlackWebhookURL,
		EmailFrom:       cfg.EmailFrom,
		EmailTo:         cfg.EmailTo,
		EmailSMTPHost:   cfg.EmailSMTPHost,
		EmailSMTPPort:   cfg.EmailSMTPPort,
		EmailSMTPUser:   cfg.EmailSMTPUser,
		EmailSMTPPass:   cfg.EmailSMTPPass,
		AlertQueue:      cfg.AlertQueue,
		PubSubProjectID: cfg.PubSubProjectID,
		PubSubTopic:     cfg.PubSubTopic,
		PubSubCredsJSON: cfg.PubSubCredsJSON,
	}
}

// NeedsQueue reports whether any of the named channels publishes to a queue.
func NeedsQueue(channels []string) bool {
	for _, c := range channels {
		if normalizeChannel(c) == "queue" {
			return true
		}
	}
	return false
}

func normalizeChannel(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
