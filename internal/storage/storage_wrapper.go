package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metrics *metrics.PrometheusMetrics
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, m *metrics.PrometheusMetrics) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage: storage,
		metrics: m,
	}
}

func (s *StorageWithMetrics) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordJournalOperation(operation, status, time.Since(start))
}

// SaveNotification saves an entry and records metrics
func (s *StorageWithMetrics) SaveNotification(ctx context.Context, entry *models.JournalEntry) error {
	start := time.Now()
	err := s.Storage.SaveNotification(ctx, entry)
	s.observe("upsert", start, err)
	return err
}

// SaveNotifications saves a batch and records metrics
func (s *StorageWithMetrics) SaveNotifications(ctx context.Context, entries []*models.JournalEntry) error {
	start := time.Now()
	err := s.Storage.SaveNotifications(ctx, entries)
	s.observe("upsert_batch", start, err)
	return err
}

// GetNotifications lists entries and records metrics
func (s *StorageWithMetrics) GetNotifications(ctx context.Context, filter models.JournalFilter) ([]*models.JournalEntry, error) {
	start := time.Now()
	entries, err := s.Storage.GetNotifications(ctx, filter)
	s.observe("select", start, err)
	return entries, err
}

// MarkAcknowledged records an acknowledgement and records metrics
func (s *StorageWithMetrics) MarkAcknowledged(ctx context.Context, id, origin string, by *models.Acknowledger, at time.Time) error {
	start := time.Now()
	err := s.Storage.MarkAcknowledged(ctx, id, origin, by, at)
	s.observe("acknowledge", start, err)
	return err
}

// MarkDeleted records a deletion and records metrics
func (s *StorageWithMetrics) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	start := time.Now()
	err := s.Storage.MarkDeleted(ctx, id, at)
	s.observe("delete", start, err)
	return err
}

// SaveSessionEvent saves a session event and records metrics
func (s *StorageWithMetrics) SaveSessionEvent(ctx context.Context, event *models.SessionEvent) error {
	start := time.Now()
	err := s.Storage.SaveSessionEvent(ctx, event)
	s.observe("session_event", start, err)
	return err
}

// Cleanup prunes the journal and records metrics
func (s *StorageWithMetrics) Cleanup(ctx context.Context, retentionDays int) error {
	start := time.Now()
	err := s.Storage.Cleanup(ctx, retentionDays)
	s.observe("cleanup", start, err)
	return err
}
