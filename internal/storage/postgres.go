package storage

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	sqlJournal
	config *StorageConfig
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlJournal: sqlJournal{
			dialect:    dialectPostgres,
			logger:     utils.ComponentLogger("journal-postgres"),
			migrations: GetPostgresMigrations(),
		},
		config: config,
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.WithField("max_connections", p.config.MaxConnections).Info("PostgreSQL database connected")

	return nil
}

// GetStorageStats returns journal statistics
func (p *PostgreSQLStorage) GetStorageStats() (*StorageStats, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	stats := &StorageStats{StorageType: dialectPostgres}
	if err := p.countStats(stats); err != nil {
		return nil, err
	}

	if err := p.db.QueryRow("SELECT pg_database_size(current_database())").Scan(&stats.DatabaseSize); err != nil {
		stats.DatabaseSize = 0
	}

	return stats, nil
}

// Vacuum reclaims space and refreshes planner statistics
func (p *PostgreSQLStorage) Vacuum() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	p.logger.Info("Starting database vacuum")

	for _, table := range []string{"journal_notifications", "session_events"} {
		if _, err := p.db.Exec("VACUUM ANALYZE " + table); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to vacuum database", err.Error())
		}
	}

	p.logger.Info("Database vacuum completed")
	return nil
}
