// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/mine-alert-notifier/internal/models"
)

// Storage defines the interface for the alert journal
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Notification operations
	SaveNotification(ctx context.Context, entry *models.JournalEntry) error
	SaveNotifications(ctx context.Context, entries []*models.JournalEntry) error
	GetNotification(ctx context.Context, id string) (*models.JournalEntry, error)
	GetNotifications(ctx context.Context, filter models.JournalFilter) ([]*models.JournalEntry, error)
	GetNotificationCount(ctx context.Context, filter models.JournalFilter) (int64, error)
	MarkAcknowledged(ctx context.Context, id, origin string, by *models.Acknowledger, at time.Time) error
	MarkDeleted(ctx context.Context, id string, at time.Time) error

	// Session event operations
	SaveSessionEvent(ctx context.Context, event *models.SessionEvent) error
	GetSessionEvents(ctx context.Context, limit int) ([]*models.SessionEvent, error)

	// Statistics and monitoring
	GetStorageStats() (*StorageStats, error)

	// Maintenance operations
	Cleanup(ctx context.Context, retentionDays int) error
	Vacuum() error
}

// StorageStats provides storage statistics
type StorageStats struct {
	StorageType           string     `json:"storage_type"`
	TotalNotifications    int64      `json:"total_notifications"`
	UnacknowledgedEntries int64      `json:"unacknowledged_entries"`
	DeletedEntries        int64      `json:"deleted_entries"`
	TotalSessionEvents    int64      `json:"total_session_events"`
	OldestEntry           *time.Time `json:"oldest_entry,omitempty"`
	LatestEntry           *time.Time `json:"latest_entry,omitempty"`
	DatabaseSize          int64      `json:"database_size_bytes"`
	LastCleanup           *time.Time `json:"last_cleanup,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}
