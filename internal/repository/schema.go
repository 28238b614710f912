package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/inboxintel-backend/internal/db"
)

var schemaStatements = map[db.Dialect][]string{
	db.Postgres: {
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT,
			reservation_id TEXT,
			guest_name TEXT,
			message_text TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			category TEXT,
			confidence DOUBLE PRECISION,
			summary TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pending ON messages (processed, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_reservation ON messages (reservation_id)`,
		`CREATE TABLE IF NOT EXISTS alert_logs (
			message_external_id TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			category TEXT NOT NULL,
			channel TEXT NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL
		)`,
	},
	db.MySQL: {
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			external_id VARCHAR(191) NOT NULL,
			conversation_id VARCHAR(191),
			reservation_id VARCHAR(191),
			guest_name VARCHAR(255),
			message_text TEXT NOT NULL,
			received_at DATETIME(6) NOT NULL,
			source VARCHAR(16) NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			category VARCHAR(32),
			confidence DOUBLE,
			summary TEXT,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at DATETIME(6) NOT NULL,
			processed_at DATETIME(6),
			UNIQUE KEY uq_messages_external_id (external_id),
			KEY idx_messages_pending (processed, received_at),
			KEY idx_messages_reservation (reservation_id)
		) DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS alert_logs (
			message_external_id VARCHAR(191) PRIMARY KEY,
			id CHAR(36) NOT NULL,
			category VARCHAR(32) NOT NULL,
			channel VARCHAR(255) NOT NULL,
			sent_at DATETIME(6) NOT NULL
		) DEFAULT CHARSET=utf8mb4`,
	},
	db.SQLite: {
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT,
			reservation_id TEXT,
			guest_name TEXT,
			message_text TEXT NOT NULL,
			received_at TEXT NOT NULL,
			source TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			category TEXT,
			confidence REAL,
			summary TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TEXT NOT NULL,
			processed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pending ON messages (processed, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_reservation ON messages (reservation_id)`,
		`CREATE TABLE IF NOT EXISTS alert_logs (
			message_external_id TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			category TEXT NOT NULL,
			channel TEXT NOT NULL,
			sent_at TEXT NOT NULL
		)`,
	},
}

// EnsureSchema creates the messages and alert_logs tables when missing.
func EnsureSchema(ctx context.Context, conn *sql.DB, dialect db.Dialect) error {
	statements, ok := schemaStatements[dialect]
	if !ok {
		return fmt.Errorf("no schema for dialect %q", dialect)
	}
	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
