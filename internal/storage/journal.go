// File: internal/storage/journal.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"

	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

const notificationColumns = `id, tag, equipment_name, status, severity, message, timestamp,
	acknowledged, acknowledged_by, acknowledged_at, ack_origin, source, created_at, received_at, deleted_at`

const upsertNotificationSQL = `
	INSERT INTO journal_notifications
	(id, tag, equipment_name, status, severity, message, timestamp,
	 acknowledged, acknowledged_by, acknowledged_at, ack_origin, source, created_at, received_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		tag = excluded.tag,
		equipment_name = excluded.equipment_name,
		status = excluded.status,
		severity = excluded.severity,
		message = excluded.message,
		timestamp = excluded.timestamp,
		acknowledged = journal_notifications.acknowledged OR excluded.acknowledged,
		acknowledged_by = COALESCE(excluded.acknowledged_by, journal_notifications.acknowledged_by),
		acknowledged_at = COALESCE(journal_notifications.acknowledged_at, excluded.acknowledged_at)
`

// sqlJournal holds the journal queries shared by the SQL backends.
// Queries are written with ? placeholders and rebound per dialect.
type sqlJournal struct {
	db         *sql.DB
	dialect    string
	logger     *logrus.Entry
	migrations []*Migration
}

func (j *sqlJournal) rebind(query string) string {
	if j.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection
func (j *sqlJournal) Close() error {
	if j.db != nil {
		err := j.db.Close()
		j.db = nil
		j.logger.Info("Journal database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (j *sqlJournal) Ping() error {
	if j.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return j.db.Ping()
}

// Migrate applies migrations that are not yet recorded in schema_migrations
func (j *sqlJournal) Migrate() error {
	if j.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	if _, err := j.db.Exec(migrationTableSQL(j.dialect)); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	applied := make(map[string]bool)
	rows, err := j.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err.Error())
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan migration version", err.Error())
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range j.migrations {
		if applied[migration.Version] {
			continue
		}
		j.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := j.db.Begin()
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin migration", err.Error())
		}
		if _, err := tx.Exec(migration.SQL); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version), err.Error())
		}
		if _, err := tx.Exec(j.rebind("INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES (?, ?, ?, ?)"),
			migration.Version, migration.Description, migration.Checksum(), time.Now().UTC()); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
		if err := tx.Commit(); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit migration", err.Error())
		}
	}

	j.logger.Info("Database migrations completed")
	return nil
}

// SaveNotification upserts one entry. The first source and receive time are kept
// and an acknowledged entry never reverts.
func (j *sqlJournal) SaveNotification(ctx context.Context, entry *models.JournalEntry) error {
	args, err := notificationArgs(entry)
	if err != nil {
		return err
	}
	if _, err := j.db.ExecContext(ctx, j.rebind(upsertNotificationSQL), args...); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save notification", err.Error())
	}
	return nil
}

// SaveNotifications upserts entries in one transaction
func (j *sqlJournal) SaveNotifications(ctx context.Context, entries []*models.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, j.rebind(upsertNotificationSQL))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	for _, entry := range entries {
		args, err := notificationArgs(entry)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save notification in batch", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}
	return nil
}

// GetNotification returns one entry
func (j *sqlJournal) GetNotification(ctx context.Context, id string) (*models.JournalEntry, error) {
	row := j.db.QueryRowContext(ctx,
		j.rebind("SELECT "+notificationColumns+" FROM journal_notifications WHERE id = ?"), id)

	entry, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Notification not found in journal", id)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get notification", err.Error())
	}
	return entry, nil
}

// GetNotifications lists entries newest first
func (j *sqlJournal) GetNotifications(ctx context.Context, filter models.JournalFilter) ([]*models.JournalEntry, error) {
	where, args := buildWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := "SELECT " + notificationColumns + " FROM journal_notifications" + where +
		" ORDER BY received_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := j.db.QueryContext(ctx, j.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query notifications", err.Error())
	}
	defer rows.Close()

	entries := []*models.JournalEntry{}
	for rows.Next() {
		entry, err := scanNotification(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification", err.Error())
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate notifications", err.Error())
	}
	return entries, nil
}

// GetNotificationCount counts entries matching the filter
func (j *sqlJournal) GetNotificationCount(ctx context.Context, filter models.JournalFilter) (int64, error) {
	where, args := buildWhere(filter)

	var count int64
	err := j.db.QueryRowContext(ctx, j.rebind("SELECT COUNT(*) FROM journal_notifications"+where), args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count notifications", err.Error())
	}
	return count, nil
}

// MarkAcknowledged records an acknowledgement; the first acknowledgement time and origin win
func (j *sqlJournal) MarkAcknowledged(ctx context.Context, id, origin string, by *models.Acknowledger, at time.Time) error {
	byJSON, err := acknowledgerJSON(by)
	if err != nil {
		return err
	}

	result, err := j.db.ExecContext(ctx, j.rebind(`
		UPDATE journal_notifications SET
			acknowledged = TRUE,
			acknowledged_by = COALESCE(?, acknowledged_by),
			acknowledged_at = COALESCE(acknowledged_at, ?),
			ack_origin = COALESCE(ack_origin, ?)
		WHERE id = ?
	`), byJSON, at.UTC(), origin, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark notification acknowledged", err.Error())
	}
	return requireRow(result, id)
}

// MarkDeleted soft-deletes an entry
func (j *sqlJournal) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	result, err := j.db.ExecContext(ctx,
		j.rebind("UPDATE journal_notifications SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL"),
		at.UTC(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark notification deleted", err.Error())
	}
	return requireRow(result, id)
}

// SaveSessionEvent records a session transition
func (j *sqlJournal) SaveSessionEvent(ctx context.Context, event *models.SessionEvent) error {
	if event.ID == "" {
		event.ID = utils.GenerateID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		j.rebind("INSERT INTO session_events (id, state, detail, created_at) VALUES (?, ?, ?, ?)"),
		event.ID, string(event.State), event.Detail, event.CreatedAt.UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save session event", err.Error())
	}
	return nil
}

// GetSessionEvents lists session transitions newest first
func (j *sqlJournal) GetSessionEvents(ctx context.Context, limit int) ([]*models.SessionEvent, error) {
	if limit <= 0 || limit > maxQueryLimit {
		limit = defaultQueryLimit
	}

	rows, err := j.db.QueryContext(ctx,
		j.rebind("SELECT id, state, detail, created_at FROM session_events ORDER BY created_at DESC LIMIT ?"), limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query session events", err.Error())
	}
	defer rows.Close()

	events := []*models.SessionEvent{}
	for rows.Next() {
		var event models.SessionEvent
		var state string
		var detail sql.NullString
		if err := rows.Scan(&event.ID, &state, &detail, &event.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan session event", err.Error())
		}
		event.State = models.ConnectionState(state)
		event.Detail = detail.String
		events = append(events, &event)
	}
	return events, rows.Err()
}

// countStats fills the row counts and time bounds shared by both backends
func (j *sqlJournal) countStats(stats *StorageStats) error {
	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM journal_notifications", &stats.TotalNotifications},
		{"SELECT COUNT(*) FROM journal_notifications WHERE acknowledged = FALSE AND deleted_at IS NULL", &stats.UnacknowledgedEntries},
		{"SELECT COUNT(*) FROM journal_notifications WHERE deleted_at IS NOT NULL", &stats.DeletedEntries},
		{"SELECT COUNT(*) FROM session_events", &stats.TotalSessionEvents},
	}
	for _, c := range counts {
		if err := j.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get journal statistics", err.Error())
		}
	}

	// plain column reads keep the declared column type for the driver
	var oldest, latest time.Time
	if err := j.db.QueryRow("SELECT received_at FROM journal_notifications ORDER BY received_at ASC LIMIT 1").Scan(&oldest); err == nil {
		stats.OldestEntry = &oldest
	}
	if err := j.db.QueryRow("SELECT received_at FROM journal_notifications ORDER BY received_at DESC LIMIT 1").Scan(&latest); err == nil {
		stats.LatestEntry = &latest
	}
	var lastCleanup time.Time
	if err := j.db.QueryRow("SELECT ran_at FROM journal_cleanups ORDER BY ran_at DESC LIMIT 1").Scan(&lastCleanup); err == nil {
		stats.LastCleanup = &lastCleanup
	}
	return nil
}

// Cleanup removes entries and session events older than the retention window
func (j *sqlJournal) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays).UTC()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin cleanup transaction", err.Error())
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, j.rebind("DELETE FROM journal_notifications WHERE received_at < ?"), cutoffTime)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup old notifications", err.Error())
	}
	notificationsDeleted, _ := result.RowsAffected()

	result, err = tx.ExecContext(ctx, j.rebind("DELETE FROM session_events WHERE created_at < ?"), cutoffTime)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup old session events", err.Error())
	}
	eventsDeleted, _ := result.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		j.rebind("INSERT INTO journal_cleanups (ran_at, retention_days, rows_deleted) VALUES (?, ?, ?)"),
		time.Now().UTC(), retentionDays, notificationsDeleted+eventsDeleted); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record cleanup", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit cleanup transaction", err.Error())
	}

	j.logger.WithFields(logrus.Fields{
		"notifications_deleted":  notificationsDeleted,
		"session_events_deleted": eventsDeleted,
		"retention_days":         retentionDays,
	}).Info("Journal cleanup completed")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.JournalEntry, error) {
	var entry models.JournalEntry
	var status, severity string
	var byJSON, origin sql.NullString
	var acknowledgedAt, deletedAt sql.NullTime

	err := row.Scan(&entry.ID, &entry.Tag, &entry.EquipmentName, &status, &severity, &entry.Message,
		&entry.Timestamp, &entry.Acknowledged, &byJSON, &acknowledgedAt, &origin, &entry.Source,
		&entry.CreatedAt, &entry.ReceivedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	entry.Status = models.Status(status)
	entry.Severity = models.Severity(severity)
	entry.AckOrigin = origin.String
	if byJSON.Valid && byJSON.String != "" {
		var by models.Acknowledger
		if err := json.Unmarshal([]byte(byJSON.String), &by); err != nil {
			return nil, fmt.Errorf("failed to unmarshal acknowledger: %w", err)
		}
		entry.AcknowledgedBy = &by
	}
	if acknowledgedAt.Valid {
		at := acknowledgedAt.Time
		entry.AcknowledgedAt = &at
	}
	if deletedAt.Valid {
		at := deletedAt.Time
		entry.DeletedAt = &at
	}
	return &entry, nil
}

func notificationArgs(entry *models.JournalEntry) ([]interface{}, error) {
	if entry.ID == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Notification id is required")
	}
	byJSON, err := acknowledgerJSON(entry.AcknowledgedBy)
	if err != nil {
		return nil, err
	}

	receivedAt := entry.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = entry.Timestamp
	}
	var acknowledgedAt interface{}
	if entry.AcknowledgedAt != nil {
		acknowledgedAt = entry.AcknowledgedAt.UTC()
	}
	var origin interface{}
	if entry.AckOrigin != "" {
		origin = entry.AckOrigin
	}

	return []interface{}{
		entry.ID, entry.Tag, entry.EquipmentName, string(entry.Status), string(entry.Severity), entry.Message,
		entry.Timestamp.UTC(), entry.Acknowledged, byJSON, acknowledgedAt, origin, entry.Source,
		createdAt.UTC(), receivedAt.UTC(),
	}, nil
}

func acknowledgerJSON(by *models.Acknowledger) (interface{}, error) {
	if by == nil {
		return nil, nil
	}
	data, err := json.Marshal(by)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal acknowledger", err.Error())
	}
	return string(data), nil
}

func buildWhere(filter models.JournalFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Severity != nil {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(*filter.Severity))
	}
	if filter.Acknowledged != nil {
		clauses = append(clauses, "acknowledged = ?")
		args = append(args, *filter.Acknowledged)
	}
	if filter.Tag != nil {
		clauses = append(clauses, "tag = ?")
		args = append(args, *filter.Tag)
	}
	if filter.Since != nil {
		clauses = append(clauses, "received_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func requireRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Notification not found in journal", id)
	}
	return nil
}
