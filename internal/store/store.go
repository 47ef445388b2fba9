// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// Operations that can trigger a resynchronization
const (
	OpAcknowledge = "acknowledge"
	OpDelete      = "delete"
)

// Feedback messages shown to the user
const (
	MsgLoadFailed        = "Failed to load notifications"
	MsgAcknowledged      = "Notification acknowledged"
	MsgAcknowledgeFailed = "Failed to acknowledge notification"
	MsgDeleted           = "Notification deleted"
	MsgDeleteFailed      = "Failed to delete notification"
)

// NotificationAPI is the REST surface the store drives
type NotificationAPI interface {
	ListNotifications(ctx context.Context, params models.ListParams) (*models.NotificationsResponse, error)
	GetUnacknowledgedCount(ctx context.Context) (int, error)
	AcknowledgeNotification(ctx context.Context, id string) (*models.Notification, error)
	DeleteNotification(ctx context.Context, id string) (*models.DeleteResponse, error)
}

// Feedback receives transient user-facing notices
type Feedback interface {
	Success(message string)
	Error(message string)
}

// Recorder persists what the store observed. Failures are logged and never affect store state.
type Recorder interface {
	RecordFetched(ctx context.Context, notifications []models.Notification) error
	RecordPushed(ctx context.Context, notification models.Notification) error
	RecordAcknowledged(ctx context.Context, id, origin string, by *models.Acknowledger, at time.Time) error
	RecordDeleted(ctx context.Context, id string, at time.Time) error
}

// Options configures the store
type Options struct {
	PageSize   int
	DedupePush bool
	Recorder   Recorder
}

// Snapshot is an immutable view of the store
type Snapshot struct {
	Notifications       []models.Notification `json:"notifications"`
	UnacknowledgedCount int                   `json:"unacknowledgedCount"`
	CurrentPage         int                   `json:"currentPage"`
	TotalPages          int                   `json:"totalPages"`
	TotalCount          int                   `json:"totalCount"`
	Loading             bool                  `json:"loading"`
	LastParams          models.ListParams     `json:"lastParams"`
	LastError           string                `json:"lastError,omitempty"`
	UpdatedAt           time.Time             `json:"updatedAt"`
}

// Store is the client-side source of truth for notifications of one session
type Store struct {
	api      NotificationAPI
	feedback Feedback
	recorder Recorder
	opts     Options
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Entry

	mu             sync.RWMutex
	notifications  []models.Notification
	unacknowledged int
	currentPage    int
	totalPages     int
	totalCount     int
	inFlight       int
	lastParams     models.ListParams
	lastError      string
	updatedAt      time.Time

	publishMu   sync.Mutex
	subMu       sync.Mutex
	subscribers map[uint64]func(Snapshot)
	nextSubID   uint64
}

// New creates a store; a nil feedback discards notices
func New(api NotificationAPI, feedback Feedback, opts Options, m *metrics.PrometheusMetrics) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if feedback == nil {
		feedback = nopFeedback{}
	}

	return &Store{
		api:           api,
		feedback:      feedback,
		recorder:      opts.Recorder,
		opts:          opts,
		metrics:       m,
		logger:        utils.ComponentLogger("store"),
		notifications: []models.Notification{},
		lastParams:    models.ListParams{}.WithDefaults(opts.PageSize),
		subscribers:   make(map[uint64]func(Snapshot)),
	}
}

// FetchNotifications replaces the list with one page from the backend.
// Concurrent fetches are not sequenced: the last response to resolve wins.
func (s *Store) FetchNotifications(ctx context.Context, params models.ListParams) error {
	params = params.WithDefaults(s.opts.PageSize)

	s.mu.Lock()
	s.inFlight++
	s.lastParams = params
	s.mu.Unlock()
	s.publish()

	resp, err := s.api.ListNotifications(ctx, params)

	s.mu.Lock()
	s.inFlight--
	if err != nil {
		s.lastError = utils.UserMessage(err)
		s.mu.Unlock()
		s.publish()

		s.logger.WithFields(logrus.Fields{
			"page":  params.Page,
			"limit": params.Limit,
			"error": err.Error(),
		}).Error("Failed to fetch notifications")
		if !errors.Is(err, context.Canceled) {
			s.feedback.Error(MsgLoadFailed)
		}
		return err
	}

	s.notifications = cloneAll(resp.Notifications)
	s.currentPage = resp.CurrentPage
	if s.currentPage == 0 {
		s.currentPage = params.Page
	}
	s.totalPages = resp.TotalPages
	s.totalCount = resp.TotalCount
	s.lastError = ""
	s.updatedAt = time.Now()
	fetched := cloneAll(s.notifications)
	page := s.currentPage
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"page":        page,
		"count":       len(fetched),
		"total_count": resp.TotalCount,
	}).Debug("Fetched notifications")

	if s.recorder != nil {
		if err := s.recorder.RecordFetched(ctx, fetched); err != nil {
			s.logger.WithError(err).Warn("Failed to journal fetched notifications")
		}
	}
	s.publish()
	return nil
}

// RefreshUnacknowledgedCount replaces the unread counter with the backend's value.
// Failures are logged only.
func (s *Store) RefreshUnacknowledgedCount(ctx context.Context) error {
	count, err := s.api.GetUnacknowledgedCount(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to refresh unacknowledged count")
		return err
	}
	if count < 0 {
		count = 0
	}

	s.mu.Lock()
	s.unacknowledged = count
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.publish()
	return nil
}

// AcknowledgeNotification optimistically marks id acknowledged, then confirms it with the backend.
// An id already acknowledged locally is a no-op.
func (s *Store) AcknowledgeNotification(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Notification id is required")
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx >= 0 && s.notifications[idx].Acknowledged {
		s.mu.Unlock()
		s.logger.WithField("id", id).Debug("Notification already acknowledged")
		return nil
	}
	loaded := idx >= 0
	if loaded {
		s.notifications[idx].Acknowledged = true
		s.unacknowledged = decrement(s.unacknowledged)
		s.updatedAt = time.Now()
	}
	s.mu.Unlock()
	s.publish()

	updated, err := s.api.AcknowledgeNotification(ctx, id)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"id": id, "error": err.Error()}).Error("Failed to acknowledge notification")
		s.feedback.Error(MsgAcknowledgeFailed)
		s.reconcile(ctx, OpAcknowledge, err)
		return err
	}

	at := time.Now()
	var by *models.Acknowledger
	if updated != nil {
		by = updated.AcknowledgedBy
		if updated.AcknowledgedAt != nil {
			at = *updated.AcknowledgedAt
		}
		s.mu.Lock()
		if i := s.indexOf(id); i >= 0 {
			s.notifications[i].MarkAcknowledged(updated.AcknowledgedBy, updated.AcknowledgedAt)
		}
		s.mu.Unlock()
	}

	if !loaded {
		s.RefreshUnacknowledgedCount(ctx)
	}

	s.metrics.RecordAcknowledgement(models.OriginLocal)
	if s.recorder != nil {
		if err := s.recorder.RecordAcknowledged(ctx, id, models.OriginLocal, by, at); err != nil {
			s.logger.WithError(err).Warn("Failed to journal acknowledgement")
		}
	}
	s.logger.WithField("id", id).Info("Notification acknowledged")
	s.feedback.Success(MsgAcknowledged)
	s.publish()
	return nil
}

// DeleteNotification optimistically removes id, then confirms it with the backend.
// The unread counter drops only when the removed entry was unacknowledged; the total always drops.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Notification id is required")
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	loaded := idx >= 0
	if loaded {
		removed := s.notifications[idx]
		s.notifications = append(s.notifications[:idx:idx], s.notifications[idx+1:]...)
		if !removed.Acknowledged {
			s.unacknowledged = decrement(s.unacknowledged)
		}
		s.totalCount = decrement(s.totalCount)
		s.updatedAt = time.Now()
	}
	s.mu.Unlock()
	s.publish()

	if _, err := s.api.DeleteNotification(ctx, id); err != nil {
		s.logger.WithFields(logrus.Fields{"id": id, "error": err.Error()}).Error("Failed to delete notification")
		s.feedback.Error(MsgDeleteFailed)
		s.reconcile(ctx, OpDelete, err)
		return err
	}

	if !loaded {
		s.RefreshUnacknowledgedCount(ctx)
	}

	if s.recorder != nil {
		if err := s.recorder.RecordDeleted(ctx, id, time.Now()); err != nil {
			s.logger.WithError(err).Warn("Failed to journal delete")
		}
	}
	s.logger.WithField("id", id).Info("Notification deleted")
	s.feedback.Success(MsgDeleted)
	return nil
}

// ApplyAlert merges a pushed notification and reports whether it was new.
// New entries are prepended; with DedupePush an existing id is updated in place
// and an acknowledged entry stays acknowledged.
func (s *Store) ApplyAlert(ctx context.Context, n models.Notification) bool {
	n = n.Clone()

	s.mu.Lock()
	inserted := true
	if idx := s.indexOf(n.ID); s.opts.DedupePush && idx >= 0 {
		inserted = false
		existing := s.notifications[idx]
		if existing.Acknowledged {
			n.Acknowledged = true
			if n.AcknowledgedBy == nil {
				n.AcknowledgedBy = existing.AcknowledgedBy
			}
			if n.AcknowledgedAt == nil {
				n.AcknowledgedAt = existing.AcknowledgedAt
			}
		} else if n.Acknowledged {
			s.unacknowledged = decrement(s.unacknowledged)
		}
		s.notifications[idx] = n
	} else {
		s.notifications = append([]models.Notification{n}, s.notifications...)
		if !n.Acknowledged {
			s.unacknowledged++
		}
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if !inserted {
		s.logger.WithField("id", n.ID).Debug("Pushed notification already present, updated in place")
	}
	if s.recorder != nil {
		if err := s.recorder.RecordPushed(ctx, n); err != nil {
			s.logger.WithError(err).Warn("Failed to journal pushed notification")
		}
	}
	s.publish()
	return inserted
}

// ApplyAcknowledgement merges another client's acknowledgement and reports whether
// it flipped a loaded, unacknowledged entry. Ids not on the loaded page are ignored.
func (s *Store) ApplyAcknowledgement(ctx context.Context, ack models.NotificationAcknowledged) bool {
	s.mu.Lock()
	idx := s.indexOf(ack.ID)
	flipped := false
	if idx >= 0 {
		entry := &s.notifications[idx]
		if !entry.Acknowledged {
			flipped = true
			s.unacknowledged = decrement(s.unacknowledged)
		}
		entry.MarkAcknowledged(ack.AcknowledgedBy, ack.AcknowledgedAt)
		s.updatedAt = time.Now()
	}
	s.mu.Unlock()

	if idx < 0 {
		s.logger.WithField("id", ack.ID).Debug("Acknowledged notification not loaded, ignoring")
		return false
	}

	at := time.Now()
	if ack.AcknowledgedAt != nil {
		at = *ack.AcknowledgedAt
	}
	if flipped {
		s.metrics.RecordAcknowledgement(models.OriginRemote)
	}
	if s.recorder != nil {
		if err := s.recorder.RecordAcknowledged(ctx, ack.ID, models.OriginRemote, ack.AcknowledgedBy, at); err != nil {
			s.logger.WithError(err).Warn("Failed to journal remote acknowledgement")
		}
	}
	s.publish()
	return flipped
}

// reconcile resynchronizes with the backend after a rejected optimistic update
func (s *Store) reconcile(ctx context.Context, operation string, cause error) {
	ctx = context.WithoutCancel(ctx)
	s.metrics.RecordRollback(operation)

	s.mu.RLock()
	params := s.lastParams
	s.mu.RUnlock()

	s.logger.WithFields(logrus.Fields{
		"operation": operation,
		"cause":     cause.Error(),
	}).Warn("Resynchronizing notifications after failed update")

	s.FetchNotifications(ctx, params)
	s.RefreshUnacknowledgedCount(ctx)
}

// Reset clears all state, as on the end of a session
func (s *Store) Reset() {
	s.mu.Lock()
	s.notifications = []models.Notification{}
	s.unacknowledged = 0
	s.currentPage, s.totalPages, s.totalCount = 0, 0, 0
	s.lastParams = models.ListParams{}.WithDefaults(s.opts.PageSize)
	s.lastError = ""
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.publish()
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Notifications:       cloneAll(s.notifications),
		UnacknowledgedCount: s.unacknowledged,
		CurrentPage:         s.currentPage,
		TotalPages:          s.totalPages,
		TotalCount:          s.totalCount,
		Loading:             s.inFlight > 0,
		LastParams:          s.lastParams,
		LastError:           s.lastError,
		UpdatedAt:           s.updatedAt,
	}
}

// UnacknowledgedCount returns the unread counter
func (s *Store) UnacknowledgedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unacknowledged
}

// Get returns the loaded notification with the given id
func (s *Store) Get(id string) (models.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.notifications[idx].Clone(), true
	}
	return models.Notification{}, false
}

// Subscribe registers fn to receive a snapshot after every change.
// fn must not call store mutations.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	snap := s.Snapshot()
	s.metrics.UpdateStoreSize(len(snap.Notifications), snap.UnacknowledgedCount)

	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// indexOf must be called with mu held
func (s *Store) indexOf(id string) int {
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			return i
		}
	}
	return -1
}

func decrement(n int) int {
	if n <= 0 {
		return 0
	}
	return n - 1
}

func cloneAll(in []models.Notification) []models.Notification {
	out := make([]models.Notification, len(in))
	for i, n := range in {
		out[i] = n.Clone()
	}
	return out
}

type nopFeedback struct{}

func (nopFeedback) Success(string) {}
func (nopFeedback) Error(string)   {}
