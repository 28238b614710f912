package service_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/inboxintel-backend/internal/db"
	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/notify"
	"github.com/unclebandit/inboxintel-backend/internal/repository"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type store struct {
	conn     *sql.DB
	messages *repository.MessageRepository
	alerts   *repository.AlertLogRepository
}

func openStore(t *testing.T) *store {
	t.Helper()
	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "service_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := repository.EnsureSchema(ctx, conn, dialect); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return &store{
		conn:     conn,
		messages: repository.NewMessageRepository(conn, dialect, 3),
		alerts:   repository.NewAlertLogRepository(conn, dialect),
	}
}

func pollJSON(id, body, createdAt, reservationID string) []byte {
	return []byte(fmt.Sprintf(`{"_id":%q,"body":%q,"createdAt":%q,"conversationId":"conv-1","reservationId":%q,"from":"Ana"}`,
		id, body, createdAt, reservationID))
}

func webhookJSON(event, id, body, createdAt string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"reservationId":"res-1","conversation":{"_id":"conv-1"},"message":{"_id":%q,"body":%q,"createdAt":%q,"from":"Ana Diaz"}}`,
		event, id, body, createdAt))
}

// failingRepo fails UpsertIfAbsent from the failAt-th call on.
type failingRepo struct {
	*repository.MessageRepository
	mu     sync.Mutex
	calls  int
	failAt int
}

func (f *failingRepo) UpsertIfAbsent(ctx context.Context, m *model.Message) (repository.UpsertResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls >= f.failAt
	f.mu.Unlock()
	if fail {
		return 0, appErrors.NewStoreFailure("upsert message", errors.New("disk I/O error"))
	}
	return f.MessageRepository.UpsertIfAbsent(ctx, m)
}

// recordingNotifier counts deliveries and can be told to fail.
type recordingNotifier struct {
	mu   sync.Mutex
	err  error
	sent []notify.Notification
}

func (r *recordingNotifier) Name() string { return "recorder" }

func (r *recordingNotifier) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingNotifier) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

func classified(id string, category model.Category, confidence float64) model.Message {
	m := model.Message{
		ExternalID:    id,
		ReservationID: model.StringPtr("res-1"),
		GuestName:     model.StringPtr("Ana"),
		Text:          "Could we check in at 11am?",
		ReceivedAt:    baseTime,
		Source:        model.SourceWebhook,
	}
	m.Apply(model.Classification{Category: category, Confidence: confidence, Summary: "wants 11am check-in"}, baseTime)
	return m
}

func alertAll(minConfidence float64) model.AlertPolicy {
	return model.NewAlertPolicy([]string{"EARLY_CHECKIN", "LATE_CHECKOUT", "MAINTENANCE_ISSUE", "SPECIAL_REQUEST"}, minConfidence)
}
