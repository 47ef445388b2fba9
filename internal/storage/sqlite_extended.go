package storage

import (
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// GetStorageStats returns journal statistics
func (s *SQLiteStorage) GetStorageStats() (*StorageStats, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	stats := &StorageStats{StorageType: dialectSQLite}
	if err := s.countStats(stats); err != nil {
		return nil, err
	}

	// Get database size (SQLite specific)
	err := s.db.QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&stats.DatabaseSize)
	if err != nil {
		stats.DatabaseSize = 0
	}

	return stats, nil
}

// Vacuum optimizes the database
func (s *SQLiteStorage) Vacuum() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database vacuum")

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to vacuum database", err.Error())
	}

	s.logger.Info("Database vacuum completed")
	return nil
}

// GetDatabaseInfo returns SQLite pragma values
func (s *SQLiteStorage) GetDatabaseInfo() (map[string]interface{}, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	info := make(map[string]interface{})

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err == nil {
		info["journal_mode"] = journalMode
	}
	var pageSize, pageCount int64
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err == nil {
		info["page_size"] = pageSize
	}
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err == nil {
		info["page_count"] = pageCount
	}
	var version string
	if err := s.db.QueryRow("SELECT sqlite_version()").Scan(&version); err == nil {
		info["sqlite_version"] = version
	}
	info["path"] = s.config.ConnectionString

	return info, nil
}
