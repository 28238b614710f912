package notify

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
)

type Factory func(s Settings) (Notifier, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

func Register(channel string, factory Factory) {
	channel = normalizeChannel(channel)
	if channel == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[channel] = factory
}

func Channels() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build returns the notifier registered under channel.
func Build(channel string, s Settings) (Notifier, error) {
	registry.mu.RLock()
	factory, ok := registry.factories[normalizeChannel(channel)]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: notifier %q (known: %s)", appErrors.ErrUnknownProvider, channel, strings.Join(Channels(), ", "))
	}
	if s.HTTPClient == nil {
		s.HTTPClient = http.DefaultClient
	}
	return factory(s)
}

// BuildAll builds each channel and fans them out behind a Multi. A single
// channel is returned as is.
func BuildAll(channels []string, s Settings) (Notifier, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no notification channels configured", appErrors.ErrInvalidConfig)
	}
	notifiers := make([]Notifier, 0, len(channels))
	for _, channel := range channels {
		n, err := Build(channel, s)
		if err != nil {
			return nil, fmt.Errorf("build %s notifier: %w", channel, err)
		}
		notifiers = append(notifiers, n)
	}
	if len(notifiers) == 1 {
		return notifiers[0], nil
	}
	return NewMulti(notifiers...), nil
}

func init() {
	Register("pushover", newPushover)
	Register("slack", newSlack)
	Register("email", newEmail)
	Register("queue", newQueueNotifier)
	Register("pubsub", newPubSub)
	Register("log", newLogNotifier)
}
