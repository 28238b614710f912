package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/inboxintel-backend/internal/db"
	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/model"
)

// UpsertResult reports whether an insert-if-absent created a row.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota
	UpsertDuplicate
)

func (r UpsertResult) String() string {
	if r == UpsertInserted {
		return "inserted"
	}
	return "duplicate"
}

// MarkResult distinguishes a fresh classification from a repeat.
type MarkResult int

const (
	MarkApplied MarkResult = iota
	MarkAlreadyProcessed
)

type MessageRepositoryInterface interface {
	UpsertIfAbsent(ctx context.Context, m *model.Message) (UpsertResult, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Message, error)
	FetchUnprocessed(ctx context.Context, limit int) ([]model.Message, error)
	MarkProcessed(ctx context.Context, externalID string, c model.Classification) (MarkResult, error)
	RecordFailure(ctx context.Context, externalID, reason string) (int, error)
	QueryByDateRange(ctx context.Context, start, end time.Time) ([]model.Message, error)
	QueryByReservation(ctx context.Context, reservationID string) ([]model.Message, error)
	FetchProcessedWithoutAlert(ctx context.Context, since time.Time, p model.AlertPolicy, limit int) ([]model.Message, error)
	Stats(ctx context.Context) (map[string]int, error)
}

type MessageRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
	// MaxAttempts stops fetching a message once it has failed this many
	// times. Zero disables the cap.
	MaxAttempts int
	Now         func() time.Time
}

func NewMessageRepository(conn *sql.DB, dialect db.Dialect, maxAttempts int) *MessageRepository {
	return &MessageRepository{DB: conn, Dialect: dialect, MaxAttempts: maxAttempts, Now: time.Now}
}

const messageColumns = `id, external_id, conversation_id, reservation_id, guest_name, message_text,
	received_at, source, processed, category, confidence, summary, attempts, last_error,
	created_at, processed_at`

func (r *MessageRepository) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// ====================== Ingestion ======================

// UpsertIfAbsent inserts m unless a row with the same external_id exists.
// The uniqueness check is the table constraint, so concurrent callers with
// the same key see exactly one UpsertInserted.
func (r *MessageRepository) UpsertIfAbsent(ctx context.Context, m *model.Message) (UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	args := []any{
		m.ExternalID,
		nullableString(m.ConversationID),
		nullableString(m.ReservationID),
		nullableString(m.GuestName),
		m.Text,
		timeArg(r.Dialect, m.ReceivedAt),
		string(m.Source),
		false,
		0,
		timeArg(r.Dialect, m.CreatedAt),
	}
	insert := `INSERT INTO messages (external_id, conversation_id, reservation_id, guest_name,
		message_text, received_at, source, processed, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if r.Dialect == db.MySQL {
		res, err := r.DB.ExecContext(ctx, insert+` ON DUPLICATE KEY UPDATE external_id = external_id`, args...)
		if err != nil {
			return 0, appErrors.NewStoreFailure("upsert message", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, appErrors.NewStoreFailure("upsert message", err)
		}
		if affected == 0 {
			return UpsertDuplicate, nil
		}
		if id, err := res.LastInsertId(); err == nil {
			m.ID = id
		}
		return UpsertInserted, nil
	}

	query := rebind(r.Dialect, insert+` ON CONFLICT (external_id) DO NOTHING RETURNING id`)
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&m.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return UpsertDuplicate, nil
	}
	if err != nil {
		return 0, appErrors.NewStoreFailure("upsert message", err)
	}
	return UpsertInserted, nil
}

func (r *MessageRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	query := rebind(r.Dialect, `SELECT `+messageColumns+` FROM messages WHERE external_id = ?`)
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.ErrMessageNotFound
	}
	if err != nil {
		return nil, appErrors.NewStoreFailure("get message", err)
	}
	return m, nil
}

// ====================== Classification ======================

// FetchUnprocessed returns up to limit unclassified messages, oldest first.
func (r *MessageRepository) FetchUnprocessed(ctx context.Context, limit int) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE processed = ?`
	args := []any{false}
	if r.MaxAttempts > 0 {
		query += ` AND attempts < ?`
		args = append(args, r.MaxAttempts)
	}
	query += ` ORDER BY received_at ASC, external_id ASC LIMIT ?`
	args = append(args, limit)
	return r.queryMessages(ctx, "fetch unprocessed", query, args...)
}

// MarkProcessed writes the classification and flips processed in a single
// statement. A row that is already processed is left untouched.
func (r *MessageRepository) MarkProcessed(ctx context.Context, externalID string, c model.Classification) (MarkResult, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	query := rebind(r.Dialect, `
		UPDATE messages
		SET processed = ?, category = ?, confidence = ?, summary = ?, processed_at = ?, last_error = NULL
		WHERE external_id = ? AND processed = ?`)
	res, err := r.DB.ExecContext(ctx, query,
		true, string(c.Category), c.Confidence, c.Summary, timeArg(r.Dialect, r.now()),
		externalID, false,
	)
	if err != nil {
		return 0, appErrors.NewStoreFailure("mark processed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, appErrors.NewStoreFailure("mark processed", err)
	}
	if affected > 0 {
		return MarkApplied, nil
	}

	exists, err := r.exists(ctx, externalID)
	if err != nil {
		return 0, appErrors.NewStoreFailure("mark processed", err)
	}
	if !exists {
		return 0, appErrors.ErrMessageNotFound
	}
	return MarkAlreadyProcessed, nil
}

// RecordFailure bumps the attempt counter of an unprocessed message and
// returns the new count.
func (r *MessageRepository) RecordFailure(ctx context.Context, externalID, reason string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	update := rebind(r.Dialect, `UPDATE messages SET attempts = attempts + 1, last_error = ? WHERE external_id = ? AND processed = ?`)
	if _, err := r.DB.ExecContext(ctx, update, reason, externalID, false); err != nil {
		return 0, appErrors.NewStoreFailure("record failure", err)
	}

	var attempts int
	err := r.DB.QueryRowContext(ctx, rebind(r.Dialect, `SELECT attempts FROM messages WHERE external_id = ?`), externalID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, appErrors.ErrMessageNotFound
	}
	if err != nil {
		return 0, appErrors.NewStoreFailure("record failure", err)
	}
	return attempts, nil
}

// ====================== Queries ======================

// QueryByDateRange returns messages with start <= received_at < end.
func (r *MessageRepository) QueryByDateRange(ctx context.Context, start, end time.Time) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE received_at >= ? AND received_at < ?
		ORDER BY received_at ASC, external_id ASC`
	return r.queryMessages(ctx, "query by date range", query, timeArg(r.Dialect, start), timeArg(r.Dialect, end))
}

func (r *MessageRepository) QueryByReservation(ctx context.Context, reservationID string) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE reservation_id = ?
		ORDER BY received_at ASC, external_id ASC`
	return r.queryMessages(ctx, "query by reservation", query, reservationID)
}

// FetchProcessedWithoutAlert lists messages classified at or after since
// that qualify under p and have no successful alert recorded.
func (r *MessageRepository) FetchProcessedWithoutAlert(ctx context.Context, since time.Time, p model.AlertPolicy, limit int) ([]model.Message, error) {
	categories := p.Categories()
	if len(categories) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(categories)), ", ")
	query := `SELECT ` + prefixed("m", messageColumns) + `
		FROM messages m
		LEFT JOIN alert_logs a ON a.message_external_id = m.external_id
		WHERE m.processed = ? AND m.processed_at >= ? AND a.message_external_id IS NULL
			AND m.category IN (` + placeholders + `) AND m.confidence >= ?
		ORDER BY m.processed_at ASC, m.external_id ASC
		LIMIT ?`
	args := []any{true, timeArg(r.Dialect, since)}
	for _, c := range categories {
		args = append(args, string(c))
	}
	args = append(args, p.MinConfidence, limit)
	return r.queryMessages(ctx, "fetch processed without alert", query, args...)
}

// Stats counts messages by pipeline state in one grouped query.
func (r *MessageRepository) Stats(ctx context.Context) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	// Select and group expressions must match, so the cap is inlined.
	query := `SELECT processed, 0, COUNT(*) FROM messages GROUP BY processed`
	if r.MaxAttempts > 0 {
		exhausted := `CASE WHEN attempts >= ` + strconv.Itoa(r.MaxAttempts) + ` THEN 1 ELSE 0 END`
		query = `SELECT processed, ` + exhausted + `, COUNT(*) FROM messages GROUP BY processed, ` + exhausted
	}
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, appErrors.NewStoreFailure("stats", err)
	}
	defer rows.Close()

	stats := map[string]int{"total": 0, "pending": 0, "processed": 0, "dead_lettered": 0}
	for rows.Next() {
		var processed bool
		var capped, count int
		if err := rows.Scan(&processed, &capped, &count); err != nil {
			return nil, appErrors.NewStoreFailure("stats", err)
		}
		stats["total"] += count
		switch {
		case processed:
			stats["processed"] += count
		case capped == 1:
			stats["dead_lettered"] += count
		default:
			stats["pending"] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewStoreFailure("stats", err)
	}
	return stats, nil
}

func (r *MessageRepository) exists(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, rebind(r.Dialect, `SELECT 1 FROM messages WHERE external_id = ?`), externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MessageRepository) queryMessages(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	rows, err := r.DB.QueryContext(ctx, rebind(r.Dialect, query), args...)
	if err != nil {
		return nil, appErrors.NewStoreFailure(op, err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, appErrors.NewStoreFailure(op, err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewStoreFailure(op, err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m                                    model.Message
		conversationID, reservationID, guest sql.NullString
		category, summary, lastError         sql.NullString
		source                               string
		confidence                           sql.NullFloat64
		receivedAt, createdAt, processedAt   dbTime
	)
	err := row.Scan(
		&m.ID, &m.ExternalID, &conversationID, &reservationID, &guest, &m.Text,
		&receivedAt, &source, &m.Processed, &category, &confidence, &summary, &m.Attempts, &lastError,
		&createdAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	m.ConversationID = nullString(conversationID)
	m.ReservationID = nullString(reservationID)
	m.GuestName = nullString(guest)
	m.Summary = nullString(summary)
	m.LastError = nullString(lastError)
	m.Source = model.Source(source)
	m.ReceivedAt = receivedAt.Time
	m.CreatedAt = createdAt.Time
	m.ProcessedAt = processedAt.ptr()
	if category.Valid {
		c := model.Category(category.String)
		m.Category = &c
	}
	if confidence.Valid {
		v := confidence.Float64
		m.Confidence = &v
	}
	return &m, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
