package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// Journal records store and session activity into Storage
type Journal struct {
	storage Storage
	logger  *logrus.Entry
}

// NewJournal creates a journal over storage
func NewJournal(storage Storage) *Journal {
	return &Journal{
		storage: storage,
		logger:  utils.ComponentLogger("journal"),
	}
}

// Storage returns the underlying storage
func (j *Journal) Storage() Storage {
	return j.storage
}

// RecordFetched journals a fetched page
func (j *Journal) RecordFetched(ctx context.Context, notifications []models.Notification) error {
	now := time.Now()
	entries := make([]*models.JournalEntry, 0, len(notifications))
	for _, n := range notifications {
		entries = append(entries, &models.JournalEntry{
			Notification: n,
			Source:       models.SourceFetch,
			ReceivedAt:   now,
		})
	}
	return j.storage.SaveNotifications(ctx, entries)
}

// RecordPushed journals a pushed alert
func (j *Journal) RecordPushed(ctx context.Context, notification models.Notification) error {
	return j.storage.SaveNotification(ctx, &models.JournalEntry{
		Notification: notification,
		Source:       models.SourcePush,
		ReceivedAt:   time.Now(),
	})
}

// RecordAcknowledged journals an acknowledgement. Ids never seen by the journal are skipped.
func (j *Journal) RecordAcknowledged(ctx context.Context, id, origin string, by *models.Acknowledger, at time.Time) error {
	err := j.storage.MarkAcknowledged(ctx, id, origin, by, at)
	if utils.IsErrorCode(err, utils.ErrCodeNotFound) {
		j.logger.WithField("id", id).Debug("Acknowledged notification not in journal")
		return nil
	}
	return err
}

// RecordDeleted journals a deletion. Ids never seen by the journal are skipped.
func (j *Journal) RecordDeleted(ctx context.Context, id string, at time.Time) error {
	err := j.storage.MarkDeleted(ctx, id, at)
	if utils.IsErrorCode(err, utils.ErrCodeNotFound) {
		j.logger.WithField("id", id).Debug("Deleted notification not in journal")
		return nil
	}
	return err
}

// RecordSessionEvent journals a session transition
func (j *Journal) RecordSessionEvent(ctx context.Context, event models.SessionEvent) error {
	return j.storage.SaveSessionEvent(ctx, &event)
}

// RunRetention prunes the journal every interval until ctx is done
func (j *Journal) RunRetention(ctx context.Context, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := j.storage.Cleanup(ctx, retentionDays); err != nil && ctx.Err() == nil {
			j.logger.WithError(err).Warn("Journal cleanup failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
