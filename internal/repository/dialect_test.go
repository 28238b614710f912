package repository

import (
	"testing"
	"time"

	"github.com/unclebandit/inboxintel-backend/internal/db"
)

func TestRebind(t *testing.T) {
	query := `SELECT 1 FROM messages WHERE external_id = ? AND processed = ?`

	if got := rebind(db.Postgres, query); got != `SELECT 1 FROM messages WHERE external_id = $1 AND processed = $2` {
		t.Errorf("unexpected postgres query %q", got)
	}
	if got := rebind(db.SQLite, query); got != query {
		t.Errorf("sqlite query should be unchanged, got %q", got)
	}
}

func TestTimeArgSortsAsText(t *testing.T) {
	early := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	late := early.Add(1500 * time.Millisecond)

	a := timeArg(db.SQLite, early).(string)
	b := timeArg(db.SQLite, late).(string)
	if len(a) != len(b) || a >= b {
		t.Fatalf("expected fixed width ascending strings, got %q and %q", a, b)
	}

	var scanned dbTime
	if err := scanned.Scan(b); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !scanned.Time.Equal(late) {
		t.Errorf("expected %v, got %v", late, scanned.Time)
	}
}

func TestDBTimeScan(t *testing.T) {
	local := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 2*3600))

	var v dbTime
	if err := v.Scan(local); err != nil || !v.Valid || v.Time.Location() != time.UTC {
		t.Fatalf("expected UTC time, got %+v err=%v", v, err)
	}
	if err := v.Scan([]byte("2025-06-01 10:00:00")); err != nil || !v.Time.Equal(local) {
		t.Fatalf("expected byte slice to parse, got %+v err=%v", v, err)
	}
	if err := v.Scan(nil); err != nil || v.Valid {
		t.Fatalf("expected nil to be invalid, got %+v", v)
	}
	if err := v.Scan(42); err == nil {
		t.Fatalf("expected error for int")
	}
}

func TestPrefixed(t *testing.T) {
	if got := prefixed("m", "id, external_id,\n\treceived_at"); got != "m.id, m.external_id, m.received_at" {
		t.Errorf("unexpected %q", got)
	}
}
