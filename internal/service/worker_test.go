package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unclebandit/inboxintel-backend/internal/classifier"
	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/lock"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/notify"
	"github.com/unclebandit/inboxintel-backend/internal/service"
)

func seed(t *testing.T, s *store, ids ...string) {
	t.Helper()
	for i, id := range ids {
		m := &model.Message{
			ExternalID:    id,
			ReservationID: model.StringPtr("res-1"),
			Text:          "message " + id,
			ReceivedAt:    baseTime.Add(time.Duration(i) * time.Minute),
			Source:        model.SourcePoll,
		}
		if _, err := s.messages.UpsertIfAbsent(context.Background(), m); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func fixed(c model.Classification) classifier.Func {
	return func(context.Context, string) (model.Classification, error) { return c, nil }
}

func TestRunCycleClassifiesAndContinuesPastFailures(t *testing.T) {
	s := openStore(t)
	seed(t, s, "ok1", "bad", "ok2")

	c := classifier.Func(func(_ context.Context, text string) (model.Classification, error) {
		if text == "message bad" {
			return model.Classification{}, errors.New("model overloaded")
		}
		return model.Classification{Category: model.CategoryGeneralQuestion, Confidence: 0.8, Summary: "asks about wifi"}, nil
	})
	w := service.NewWorker(s.messages, c, nil, alertAll(0.7))

	result, err := w.RunCycle(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if result.Attempted != 3 || result.Classified != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	bad, _ := s.messages.GetByExternalID(context.Background(), "bad")
	if bad.Processed || bad.Category != nil || bad.Attempts != 1 || bad.LastError == nil {
		t.Errorf("failed message should stay unprocessed with a recorded error: %+v", bad)
	}
	ok, _ := s.messages.GetByExternalID(context.Background(), "ok1")
	if !ok.Classified() {
		t.Errorf("expected ok1 to be fully classified: %+v", ok)
	}
}

func TestRunCycleRejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name string
		c    model.Classification
	}{
		{"unknown category", model.Classification{Category: "REFUND", Confidence: 0.9, Summary: "wants money"}},
		{"confidence above one", model.Classification{Category: model.CategoryLateCheckout, Confidence: 1.2, Summary: "late"}},
		{"negative confidence", model.Classification{Category: model.CategoryLateCheckout, Confidence: -0.1, Summary: "late"}},
		{"empty summary", model.Classification{Category: model.CategoryLateCheckout, Confidence: 0.9}},
		{"blank summary", model.Classification{Category: model.CategoryLateCheckout, Confidence: 0.9, Summary: "  \t "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStore(t)
			seed(t, s, "m1")
			w := service.NewWorker(s.messages, fixed(tt.c), nil, alertAll(0.7))

			result, err := w.RunCycle(context.Background(), 10)
			if err != nil {
				t.Fatalf("RunCycle failed: %v", err)
			}
			if result.Failed != 1 || result.Classified != 0 {
				t.Errorf("expected invalid output to count as failure, got %+v", result)
			}
			stored, _ := s.messages.GetByExternalID(context.Background(), "m1")
			if stored.Processed || stored.Summary != nil {
				t.Errorf("invalid output must not be stored: %+v", stored)
			}
		})
	}
}

func TestRunCycleDeadLettersAfterMaxAttempts(t *testing.T) {
	s := openStore(t)
	seed(t, s, "stuck")

	failing := classifier.Func(func(context.Context, string) (model.Classification, error) {
		return model.Classification{}, errors.New("timeout")
	})
	w := service.NewWorker(s.messages, failing, nil, alertAll(0.7))
	w.MaxAttempts = 3

	var dead int
	for i := 0; i < 3; i++ {
		result, err := w.RunCycle(context.Background(), 10)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		dead += result.DeadLettered
	}
	if dead != 1 {
		t.Fatalf("expected one dead-lettered message, got %d", dead)
	}

	result, err := w.RunCycle(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if result.Attempted != 0 {
		t.Errorf("dead-lettered message should not be fetched again, got %+v", result)
	}
}

func TestRunCycleHonoursTimeout(t *testing.T) {
	s := openStore(t)
	seed(t, s, "slow")

	slow := classifier.Func(func(ctx context.Context, _ string) (model.Classification, error) {
		<-ctx.Done()
		return model.Classification{}, ctx.Err()
	})
	w := service.NewWorker(s.messages, slow, nil, alertAll(0.7))
	w.ClassifyTimeout = 20 * time.Millisecond

	result, err := w.RunCycle(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("expected timeout to count as failure, got %+v", result)
	}
}

func TestRunCycleStopsOnCancellation(t *testing.T) {
	s := openStore(t)
	seed(t, s, "c1", "c2", "c3")

	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	c := classifier.Func(func(context.Context, string) (model.Classification, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
		}
		return model.Classification{Category: model.CategoryGeneralQuestion, Confidence: 0.5, Summary: "hello"}, nil
	})
	w := service.NewWorker(s.messages, c, nil, alertAll(0.7))

	result, err := w.RunCycle(ctx, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Classified != 1 {
		t.Errorf("expected the in-flight record to be committed, got %+v", result)
	}
	first, _ := s.messages.GetByExternalID(context.Background(), "c1")
	if !first.Processed {
		t.Errorf("committed record should stay processed")
	}
}

func TestRunCycleLockPreventsOverlap(t *testing.T) {
	s := openStore(t)
	seed(t, s, "m1")

	locker := lock.NewLocalLocker()
	held, err := locker.Obtain(context.Background(), "inboxintel:classification-cycle", time.Minute)
	if err != nil {
		t.Fatalf("Obtain failed: %v", err)
	}

	w := service.NewWorker(s.messages, fixed(model.Classification{Category: model.CategoryGeneralQuestion, Confidence: 0.5, Summary: "hi"}), nil, alertAll(0.7))
	w.Locker = locker

	if _, err := w.RunCycle(context.Background(), 10); !errors.Is(err, appErrors.ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}
	_ = held.Release(context.Background())

	result, err := w.RunCycle(context.Background(), 10)
	if err != nil || result.Classified != 1 {
		t.Fatalf("expected cycle to run after release, got %+v, %v", result, err)
	}
}

func TestRunCycleRespectsBatchSize(t *testing.T) {
	s := openStore(t)
	ids := make([]string, 5)
	for i := range ids {
		ids[i] = fmt.Sprintf("b%d", i)
	}
	seed(t, s, ids...)

	w := service.NewWorker(s.messages, fixed(model.Classification{Category: model.CategoryGeneralQuestion, Confidence: 0.5, Summary: "hi"}), nil, alertAll(0.7))
	result, err := w.RunCycle(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if result.Attempted != 2 {
		t.Errorf("expected 2 attempted, got %+v", result)
	}
	stats, _ := s.messages.Stats(context.Background())
	if stats["pending"] != 3 {
		t.Errorf("expected 3 pending, got %v", stats)
	}
}

// lockCheckingNotifier records, per send, whether the cycle lock was held.
type lockCheckingNotifier struct {
	locker lock.Locker
	held   []bool
}

func (n *lockCheckingNotifier) Name() string { return "lock-check" }

func (n *lockCheckingNotifier) Send(ctx context.Context, _ notify.Notification) error {
	l, err := n.locker.Obtain(ctx, "inboxintel:classification-cycle", time.Minute)
	if err == nil {
		_ = l.Release(ctx)
	}
	n.held = append(n.held, errors.Is(err, lock.ErrNotObtained))
	return nil
}

func TestRunCycleAndRetryAlertsHoldsCycleLock(t *testing.T) {
	s := openStore(t)
	storeClassified(t, s, classified("pending", model.CategoryEarlyCheckin, 0.9))

	locker := lock.NewLocalLocker()
	n := &lockCheckingNotifier{locker: locker}
	d := service.NewAlertDispatcher(s.messages, s.alerts, n)
	w := service.NewWorker(s.messages, fixed(model.Classification{}), d, alertAll(0.7))
	w.Locker = locker

	result, err := w.RunCycleAndRetryAlerts(context.Background(), 10, baseTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RunCycleAndRetryAlerts failed: %v", err)
	}
	if result.Attempted != 0 || result.Pending.Sent != 1 {
		t.Fatalf("expected only the pending alert to be sent, got %+v", result)
	}
	if len(n.held) != 1 || !n.held[0] {
		t.Errorf("expected one send under the cycle lock, got %v", n.held)
	}

	// The lock is released afterwards.
	held, err := locker.Obtain(context.Background(), "inboxintel:classification-cycle", time.Minute)
	if err != nil {
		t.Fatalf("expected lock to be free after the cycle, got %v", err)
	}
	_ = held.Release(context.Background())
}

// ttlLocker records the TTL each cycle asks for.
type ttlLocker struct {
	ttls []time.Duration
}

type noopLock struct{}

func (noopLock) Release(context.Context) error { return nil }

func (l *ttlLocker) Obtain(_ context.Context, _ string, ttl time.Duration) (lock.Lock, error) {
	l.ttls = append(l.ttls, ttl)
	return noopLock{}, nil
}

func TestRunCycleLockTTLCoversSlowestBatch(t *testing.T) {
	s := openStore(t)
	d := service.NewAlertDispatcher(s.messages, s.alerts, &recordingNotifier{})
	d.NotifyTimeout = 10 * time.Second
	w := service.NewWorker(s.messages, fixed(model.Classification{}), d, alertAll(0.7))
	w.ClassifyTimeout = 30 * time.Second
	locker := &ttlLocker{}
	w.Locker = locker
	ctx := context.Background()

	if _, err := w.RunCycle(ctx, 2); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if _, err := w.RunCycle(ctx, 50); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if _, err := w.RunCycleAndRetryAlerts(ctx, 50, baseTime); err != nil {
		t.Fatalf("RunCycleAndRetryAlerts failed: %v", err)
	}

	// 50 x (30s + 10s) + 1m margin, then 100 pending alerts x 10s on top.
	want := []time.Duration{10 * time.Minute, 2000*time.Second + time.Minute, 3000*time.Second + time.Minute}
	if len(locker.ttls) != len(want) {
		t.Fatalf("expected %d lock requests, got %v", len(want), locker.ttls)
	}
	for i := range want {
		if locker.ttls[i] != want[i] {
			t.Errorf("cycle %d: expected ttl %v, got %v", i, want[i], locker.ttls[i])
		}
	}
}
