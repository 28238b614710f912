package repository

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
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox_test.db")
	conn, dialect, err := db.Open(context.Background(), "sqlite://"+path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := EnsureSchema(context.Background(), conn, dialect); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return conn
}

func newMessage(id string, receivedAt time.Time) *model.Message {
	return &model.Message{
		ExternalID:    id,
		ReservationID: model.StringPtr("res-1"),
		GuestName:     model.StringPtr("Ana"),
		Text:          "Can we check in at 11am?",
		ReceivedAt:    receivedAt,
		Source:        model.SourceWebhook,
	}
}

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestUpsertIfAbsentIsIdempotent(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), db.SQLite, 5)
	ctx := context.Background()

	first, err := repo.UpsertIfAbsent(ctx, newMessage("m1", baseTime))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first != UpsertInserted {
		t.Fatalf("expected inserted, got %s", first)
	}

	again := newMessage("m1", baseTime.Add(time.Hour))
	again.Text = "different text"
	second, err := repo.UpsertIfAbsent(ctx, again)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second != UpsertDuplicate {
		t.Fatalf("expected duplicate, got %s", second)
	}

	stored, err := repo.GetByExternalID(ctx, "m1")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if stored.Text != "Can we check in at 11am?" {
		t.Errorf("duplicate insert must not overwrite, got %q", stored.Text)
	}
	if !stored.ReceivedAt.Equal(baseTime) {
		t.Errorf("expected received_at %v, got %v", baseTime, stored.ReceivedAt)
	}
	if stored.Processed {
		t.Errorf("new messages start unprocessed")
	}
}

func TestUpsertIfAbsentConcurrent(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), db.SQLite, 5)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan UpsertResult, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repo.UpsertIfAbsent(ctx, newMessage("race", baseTime))
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	inserted := 0
	for res := range results {
		if res == UpsertInserted {
			inserted++
		}
	}
	if inserted != 1 {
		t.Fatalf("expected exactly one inserted, got %d", inserted)
	}
}

func TestFetchUnprocessedOrdersAndCaps(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), db.SQLite, 2)
	ctx := context.Background()

	for i, id := range []string{"c", "a", "b"} {
		if _, err := repo.UpsertIfAbsent(ctx, newMessage(id, baseTime.Add(time.Duration(i%2)*time.Minute))); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	got, err := repo.FetchUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("FetchUnprocessed: %v", err)
	}
	order := ""
	for _, m := range got {
		order += m.ExternalID
	}
	// c and b share the earliest timestamp, so external_id breaks the tie.
	if order != "bca" {
		t.Fatalf("expected order bca, got %s", order)
	}

	for i := 0; i < 2; i++ {
		if _, err := repo.RecordFailure(ctx, "b", "timeout"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	got, err = repo.FetchUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("FetchUnprocessed: %v", err)
	}
	for _, m := range got {
		if m.ExternalID == "b" {
			t.Fatalf("dead-lettered message should not be fetched")
		}
	}

	limited, err := repo.FetchUnprocessed(ctx, 1)
	if err != nil {
		t.Fatalf("FetchUnprocessed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestMarkProcessedIsAtomicAndOnce(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), db.SQLite, 5)
	ctx := context.Background()

	if _, err := repo.UpsertIfAbsent(ctx, newMessage("m1", baseTime)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := repo.RecordFailure(ctx, "m1", "bad json"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	c := model.Classification{Category: model.CategoryEarlyCheckin, Confidence: 0.92, Summary: "Wants 11am check-in"}
	res, err := repo.MarkProcessed(ctx, "m1", c)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if res != MarkApplied {
		t.Fatalf("expected MarkApplied, got %v", res)
	}

	stored, err := repo.GetByExternalID(ctx, "m1")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if !stored.Classified() {
		t.Fatalf("expected all classification fields set: %+v", stored)
	}
	if *stored.Category != model.CategoryEarlyCheckin || *stored.Confidence != 0.92 {
		t.Errorf("unexpected classification %v %v", *stored.Category, *stored.Confidence)
	}
	if stored.LastError != nil {
		t.Errorf("last_error should be cleared on success")
	}

	other := model.Classification{Category: model.CategoryGeneralQuestion, Confidence: 0.5, Summary: "other"}
	res, err = repo.MarkProcessed(ctx, "m1", other)
	if err != nil {
		t.Fatalf("second MarkProcessed: %v", err)
	}
	if res != MarkAlreadyProcessed {
		t.Fatalf("expected MarkAlreadyProcessed, got %v", res)
	}
	stored, _ = repo.GetByExternalID(ctx, "m1")
	if *stored.Category != model.CategoryEarlyCheckin {
		t.Errorf("processed message must not be reclassified")
	}

	if _, err := repo.MarkProcessed(ctx, "missing", c); !errors.Is(err, appErrors.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestRecordFailureLeavesClassificationEmpty(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), db.SQLite, 5)
	ctx := context.Background()

	if _, err := repo.UpsertIfAbsent(ctx, newMessage("m1", baseTime)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	attempts, err := repo.RecordFailure(ctx, "m1", "classifier timeout")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}

	stored, _ := repo.GetByExternalID(ctx, "m1")
	if stored.Processed || stored.Category != nil || stored.Summary != nil {
		t.Errorf("failure must not touch classification: %+v", stored)
	}
	if model.StringValue(stored.LastError, "") != "classifier timeout" {
		t.Errorf("expected last_error recorded, got %v", stored.LastError)
	}

	if _, err := repo.RecordFailure(ctx, "missing", "x"); !errors.Is(err, appErrors.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestQueryByDateRangeAndReservation(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), db.SQLite, 5)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m := newMessage(fmt.Sprintf("m%d", i), baseTime.Add(time.Duration(i)*time.Hour))
		if i == 3 {
			m.ReservationID = model.StringPtr("res-2")
		}
		if _, err := repo.UpsertIfAbsent(ctx, m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := repo.QueryByDateRange(ctx, baseTime.Add(time.Hour), baseTime.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("QueryByDateRange: %v", err)
	}
	if len(got) != 2 || got[0].ExternalID != "m1" || got[1].ExternalID != "m2" {
		t.Fatalf("expected half-open range [m1, m2], got %+v", got)
	}

	byRes, err := repo.QueryByReservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("QueryByReservation: %v", err)
	}
	if len(byRes) != 3 {
		t.Fatalf("expected 3 messages for res-1, got %d", len(byRes))
	}
	for i := 1; i < len(byRes); i++ {
		if byRes[i].ReceivedAt.Before(byRes[i-1].ReceivedAt) {
			t.Fatalf("expected chronological order")
		}
	}
}

func TestFetchProcessedWithoutAlertAndStats(t *testing.T) {
	conn := openSQLite(t)
	repo := NewMessageRepository(conn, db.SQLite, 1)
	alerts := NewAlertLogRepository(conn, db.SQLite)
	ctx := context.Background()
	repo.Now = func() time.Time { return baseTime.Add(24 * time.Hour) }

	for _, id := range []string{"a", "b", "c"} {
		if _, err := repo.UpsertIfAbsent(ctx, newMessage(id, baseTime)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	c := model.Classification{Category: model.CategoryLateCheckout, Confidence: 0.8, Summary: "late"}
	for _, id := range []string{"a", "b"} {
		if _, err := repo.MarkProcessed(ctx, id, c); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}
	if _, err := alerts.RecordAlert(ctx, &model.AlertLog{MessageExternalID: "a", Category: c.Category, Channel: "log", SentAt: baseTime}); err != nil {
		t.Fatalf("RecordAlert: %v", err)
	}
	if _, err := repo.RecordFailure(ctx, "c", "boom"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	pending, err := repo.FetchProcessedWithoutAlert(ctx, baseTime, model.NewAlertPolicy([]string{"LATE_CHECKOUT"}, 0.7), 10)
	if err != nil {
		t.Fatalf("FetchProcessedWithoutAlert: %v", err)
	}
	if len(pending) != 1 || pending[0].ExternalID != "b" {
		t.Fatalf("expected only b pending alert, got %+v", pending)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["total"] != 3 || stats["processed"] != 2 || stats["dead_lettered"] != 1 || stats["pending"] != 0 {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestFetchProcessedWithoutAlertAppliesPolicy(t *testing.T) {
	conn := openSQLite(t)
	repo := NewMessageRepository(conn, db.SQLite, 5)
	ctx := context.Background()
	repo.Now = func() time.Time { return baseTime.Add(time.Hour) }

	rows := []struct {
		id string
		c  model.Classification
	}{
		{"general", model.Classification{Category: model.CategoryGeneralQuestion, Confidence: 0.99, Summary: "wifi"}},
		{"low", model.Classification{Category: model.CategoryLateCheckout, Confidence: 0.69, Summary: "maybe late"}},
		{"floor", model.Classification{Category: model.CategoryLateCheckout, Confidence: 0.7, Summary: "late"}},
		{"other", model.Classification{Category: model.CategoryMaintenanceIssue, Confidence: 0.9, Summary: "leak"}},
	}
	for _, row := range rows {
		if _, err := repo.UpsertIfAbsent(ctx, newMessage(row.id, baseTime)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if _, err := repo.MarkProcessed(ctx, row.id, row.c); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}

	pending, err := repo.FetchProcessedWithoutAlert(ctx, baseTime, model.NewAlertPolicy([]string{"LATE_CHECKOUT"}, 0.7), 10)
	if err != nil {
		t.Fatalf("FetchProcessedWithoutAlert: %v", err)
	}
	if len(pending) != 1 || pending[0].ExternalID != "floor" {
		t.Fatalf("expected only the qualifying row, got %+v", pending)
	}

	none, err := repo.FetchProcessedWithoutAlert(ctx, baseTime, model.NewAlertPolicy(nil, 0.7), 10)
	if err != nil || len(none) != 0 {
		t.Errorf("expected nothing for an empty policy, got %+v, %v", none, err)
	}
}

func TestStatsGroupsStates(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		want        map[string]int
	}{
		{"with cap", 2, map[string]int{"total": 4, "processed": 1, "pending": 2, "dead_lettered": 1}},
		{"without cap", 0, map[string]int{"total": 4, "processed": 1, "pending": 3, "dead_lettered": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMessageRepository(openSQLite(t), db.SQLite, tt.maxAttempts)
			ctx := context.Background()
			for _, id := range []string{"done", "fresh", "once", "twice"} {
				if _, err := repo.UpsertIfAbsent(ctx, newMessage(id, baseTime)); err != nil {
					t.Fatalf("upsert: %v", err)
				}
			}
			if _, err := repo.MarkProcessed(ctx, "done", model.Classification{Category: model.CategoryGeneralQuestion, Confidence: 0.9, Summary: "wifi"}); err != nil {
				t.Fatalf("MarkProcessed: %v", err)
			}
			for _, id := range []string{"once", "twice", "twice"} {
				if _, err := repo.RecordFailure(ctx, id, "timeout"); err != nil {
					t.Fatalf("RecordFailure: %v", err)
				}
			}

			stats, err := repo.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			for key, want := range tt.want {
				if stats[key] != want {
					t.Errorf("%s: expected %d, got %d (%v)", key, want, stats[key], stats)
				}
			}
		})
	}
}
