package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// Checksum returns the sha256 of the migration SQL
func (m *Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

func migrationTableSQL(dialect string) string {
	if dialect == dialectPostgres {
		return `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version VARCHAR(32) PRIMARY KEY,
				description TEXT NOT NULL,
				checksum VARCHAR(64) NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL
			)`
	}
	return `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create journal notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS journal_notifications (
					id TEXT PRIMARY KEY,
					tag TEXT NOT NULL,
					equipment_name TEXT NOT NULL,
					status TEXT NOT NULL,
					severity TEXT NOT NULL,
					message TEXT NOT NULL,
					timestamp DATETIME NOT NULL,
					acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
					acknowledged_by TEXT, -- JSON
					acknowledged_at DATETIME,
					ack_origin TEXT,
					source TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					received_at DATETIME NOT NULL,
					deleted_at DATETIME
				);

				CREATE INDEX IF NOT EXISTS idx_journal_received_at ON journal_notifications(received_at);
				CREATE INDEX IF NOT EXISTS idx_journal_tag ON journal_notifications(tag);
				CREATE INDEX IF NOT EXISTS idx_journal_status ON journal_notifications(status);
				CREATE INDEX IF NOT EXISTS idx_journal_acknowledged ON journal_notifications(acknowledged);
			`,
		},
		{
			Version:     "002",
			Description: "Create session events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS session_events (
					id TEXT PRIMARY KEY,
					state TEXT NOT NULL,
					detail TEXT,
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_session_events_created_at ON session_events(created_at);
			`,
		},
		{
			Version:     "003",
			Description: "Create journal cleanups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS journal_cleanups (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					ran_at DATETIME NOT NULL,
					retention_days INTEGER NOT NULL,
					rows_deleted INTEGER NOT NULL DEFAULT 0
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create journal notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS journal_notifications (
					id VARCHAR(64) PRIMARY KEY,
					tag VARCHAR(128) NOT NULL,
					equipment_name VARCHAR(255) NOT NULL,
					status VARCHAR(16) NOT NULL,
					severity VARCHAR(16) NOT NULL,
					message TEXT NOT NULL,
					timestamp TIMESTAMPTZ NOT NULL,
					acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
					acknowledged_by TEXT,
					acknowledged_at TIMESTAMPTZ,
					ack_origin VARCHAR(16),
					source VARCHAR(16) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL,
					received_at TIMESTAMPTZ NOT NULL,
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_journal_received_at ON journal_notifications(received_at);
				CREATE INDEX IF NOT EXISTS idx_journal_tag ON journal_notifications(tag);
				CREATE INDEX IF NOT EXISTS idx_journal_status ON journal_notifications(status);
				CREATE INDEX IF NOT EXISTS idx_journal_acknowledged ON journal_notifications(acknowledged);
			`,
		},
		{
			Version:     "002",
			Description: "Create session events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS session_events (
					id VARCHAR(64) PRIMARY KEY,
					state VARCHAR(32) NOT NULL,
					detail TEXT,
					created_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_session_events_created_at ON session_events(created_at);
			`,
		},
		{
			Version:     "003",
			Description: "Create journal cleanups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS journal_cleanups (
					id BIGSERIAL PRIMARY KEY,
					ran_at TIMESTAMPTZ NOT NULL,
					retention_days INTEGER NOT NULL,
					rows_deleted BIGINT NOT NULL DEFAULT 0
				);
			`,
		},
	}
}
