package repository

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/inboxintel-backend/internal/db"
)

const (
	storeOperationTimeout = 5 * time.Second

	// sqliteTimeLayout is fixed width so text comparison orders like time.
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// rebind rewrites ? placeholders into $1, $2... for postgres.
func rebind(dialect db.Dialect, query string) string {
	if dialect != db.Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// timeArg converts t into the value each driver stores comparably.
func timeArg(dialect db.Dialect, t time.Time) any {
	t = t.UTC()
	if dialect == db.SQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func nullableTimeArg(dialect db.Dialect, t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeArg(dialect, *t)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// dbTime scans TIMESTAMPTZ, DATETIME and sqlite text columns alike.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognised time value %q", s)
}

func (t dbTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
