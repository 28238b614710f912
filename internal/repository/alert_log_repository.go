package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/unclebandit/inboxintel-backend/internal/db"
	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/model"
)

type AlertLogRepositoryInterface interface {
	HasSuccessfulAlert(ctx context.Context, externalID string) (bool, error)
	RecordAlert(ctx context.Context, entry *model.AlertLog) (UpsertResult, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.AlertLog, error)
}

// AlertLogRepository stores one row per message that was alerted on
// successfully. The primary key on message_external_id is what keeps a
// message from alerting twice.
type AlertLogRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func NewAlertLogRepository(conn *sql.DB, dialect db.Dialect) *AlertLogRepository {
	return &AlertLogRepository{DB: conn, Dialect: dialect}
}

func (r *AlertLogRepository) HasSuccessfulAlert(ctx context.Context, externalID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	var one int
	query := rebind(r.Dialect, `SELECT 1 FROM alert_logs WHERE message_external_id = ?`)
	err := r.DB.QueryRowContext(ctx, query, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, appErrors.NewStoreFailure("check alert log", err)
	}
	return true, nil
}

// RecordAlert inserts entry unless the message already has a log row.
func (r *AlertLogRepository) RecordAlert(ctx context.Context, entry *model.AlertLog) (UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	insert := `INSERT INTO alert_logs (message_external_id, id, category, channel, sent_at) VALUES (?, ?, ?, ?, ?)`
	switch r.Dialect {
	case db.MySQL:
		insert += ` ON DUPLICATE KEY UPDATE message_external_id = message_external_id`
	default:
		insert += ` ON CONFLICT (message_external_id) DO NOTHING`
	}

	res, err := r.DB.ExecContext(ctx, rebind(r.Dialect, insert),
		entry.MessageExternalID, entry.ID, string(entry.Category), entry.Channel, timeArg(r.Dialect, entry.SentAt),
	)
	if err != nil {
		return 0, appErrors.NewStoreFailure("record alert", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, appErrors.NewStoreFailure("record alert", err)
	}
	if affected == 0 {
		return UpsertDuplicate, nil
	}
	return UpsertInserted, nil
}

func (r *AlertLogRepository) GetByExternalID(ctx context.Context, externalID string) (*model.AlertLog, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOperationTimeout)
	defer cancel()

	query := rebind(r.Dialect, `SELECT id, message_external_id, category, channel, sent_at FROM alert_logs WHERE message_external_id = ?`)
	var (
		entry    model.AlertLog
		category string
		sentAt   dbTime
	)
	err := r.DB.QueryRowContext(ctx, query, externalID).Scan(&entry.ID, &entry.MessageExternalID, &category, &entry.Channel, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewStoreFailure("get alert log", err)
	}
	entry.Category = model.Category(category)
	entry.SentAt = sentAt.Time
	return &entry, nil
}

var _ AlertLogRepositoryInterface = (*AlertLogRepository)(nil)
