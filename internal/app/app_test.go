package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/unclebandit/inboxintel-backend/internal/config"
	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/lock"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/notify"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabaseURL:     "sqlite://" + filepath.Join(t.TempDir(), "app.db"),
		LLMProvider:     "keyword",
		PromptsFile:     filepath.Join(t.TempDir(), "missing.yml"),
		NotifyChannels:  []string{"queue"},
		RelayChannels:   []string{"log"},
		AlertQueue:      "guest_alerts",
		AlertCategories: []string{"EARLY_CHECKIN"},
		MinConfidence:   0.7,
		ClassifyBatch:   10,
		MaxAttempts:     5,
		ClassifyTimeout: time.Second,
		NotifyTimeout:   time.Second,
	}
}

func TestOpenStoreWithoutGuesty(t *testing.T) {
	a, err := OpenStore(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer a.Close()

	if a.Guesty != nil {
		t.Error("expected no guesty client without credentials")
	}
	p := a.Pipeline(nil, nil, nil)
	if p.Messages != nil || p.Arrivals != nil {
		t.Error("sources must stay nil interfaces without a client")
	}
}

func TestPipelineClassifiesAndRelaysThroughQueue(t *testing.T) {
	ctx := context.Background()
	a, err := OpenStore(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer a.Close()

	c, err := a.Classifier()
	if err != nil {
		t.Fatalf("Classifier failed: %v", err)
	}
	n, err := a.Notifier(ctx)
	if err != nil {
		t.Fatalf("Notifier failed: %v", err)
	}
	if n.Name() != "queue" {
		t.Fatalf("expected queue notifier, got %s", n.Name())
	}

	p := a.Pipeline(c, n, lock.NewLocalLocker())
	payload := []byte(`{"event":"reservation.messageReceived","message":{"_id":"m1","body":"Can we check in early, around 11am?","createdAt":"2025-03-01T09:00:00Z"}}`)
	if out, err := a.Ingestion.IngestWebhook(ctx, payload); err != nil || out.Outcome != "inserted" {
		t.Fatalf("ingest failed: %+v %v", out, err)
	}

	result, err := p.RunClassificationCycle(ctx)
	if err != nil {
		t.Fatalf("RunClassificationCycle failed: %v", err)
	}
	if result.Classified != 1 {
		t.Fatalf("expected one classified message, got %+v", result)
	}

	stored, err := a.Messages.GetByExternalID(ctx, "m1")
	if err != nil {
		t.Fatalf("GetByExternalID failed: %v", err)
	}
	if *stored.Category != model.CategoryEarlyCheckin {
		t.Errorf("expected EARLY_CHECKIN, got %s", *stored.Category)
	}
	entry, err := a.Alerts.GetByExternalID(ctx, "m1")
	if err != nil || entry == nil || entry.Channel != "queue" {
		t.Errorf("expected alert logged on the queue channel, got %+v %v", entry, err)
	}
}

func TestNotifierRejectsQueueRelayLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.RelayChannels = []string{"queue"}
	a, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer a.Close()

	if _, err := a.Notifier(context.Background()); !errors.Is(err, appErrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNotifierWithoutQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.NotifyChannels = []string{"log", "slack"}
	cfg.SlackWebhookURL = "http://127.0.0.1:1/hook"
	a, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer a.Close()

	n, err := a.Notifier(context.Background())
	if err != nil {
		t.Fatalf("Notifier failed: %v", err)
	}
	if _, ok := n.(*notify.Multi); !ok || n.Name() != "log+slack" {
		t.Errorf("expected fan-out notifier, got %T %s", n, n.Name())
	}
}
