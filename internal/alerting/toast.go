// File: internal/alerting/toast.go
package alerting

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// ToastKind classifies a transient notice
type ToastKind string

const (
	ToastEquipmentDown ToastKind = "equipment_down"
	ToastEquipmentUp   ToastKind = "equipment_up"
	ToastSuccess       ToastKind = "success"
	ToastError         ToastKind = "error"
)

// Toast is a transient user-facing notice
type Toast struct {
	ID             string          `json:"id"`
	Kind           ToastKind       `json:"kind"`
	Title          string          `json:"title,omitempty"`
	Message        string          `json:"message"`
	NotificationID string          `json:"notificationId,omitempty"`
	Severity       models.Severity `json:"severity,omitempty"`
	Sticky         bool            `json:"sticky"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
}

// ToastEvent is delivered to board listeners
type ToastEvent struct {
	Type  string `json:"type"`
	Toast Toast  `json:"toast"`
}

// Toast event types
const (
	ToastShown     = "shown"
	ToastDismissed = "dismissed"
)

// ToastOptions configures expiry for non-sticky toasts
type ToastOptions struct {
	UpDuration       time.Duration
	FeedbackDuration time.Duration
}

type activeToast struct {
	toast Toast
	timer *time.Timer
}

// ToastBoard holds the active toasts. Equipment-down toasts stay until dismissed.
type ToastBoard struct {
	opts    ToastOptions
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	mu         sync.Mutex
	active     map[string]*activeToast
	listeners  map[uint64]func(ToastEvent)
	listenerID uint64
	closed     bool
}

// NewToastBoard creates an empty board
func NewToastBoard(opts ToastOptions, m *metrics.PrometheusMetrics) *ToastBoard {
	if opts.UpDuration <= 0 {
		opts.UpDuration = 5 * time.Second
	}
	if opts.FeedbackDuration <= 0 {
		opts.FeedbackDuration = 4 * time.Second
	}
	return &ToastBoard{
		opts:      opts,
		metrics:   m,
		logger:    utils.ComponentLogger("toast"),
		active:    make(map[string]*activeToast),
		listeners: make(map[uint64]func(ToastEvent)),
	}
}

// ShowAlert raises the toast for a pushed equipment alert
func (b *ToastBoard) ShowAlert(n models.Notification) Toast {
	t := Toast{
		Title:          n.EquipmentName,
		Message:        n.Message,
		NotificationID: n.ID,
		Severity:       n.Severity,
	}
	if n.Status == models.StatusDown {
		t.Kind = ToastEquipmentDown
		t.Sticky = true
		return b.show(t, 0)
	}
	t.Kind = ToastEquipmentUp
	return b.show(t, b.opts.UpDuration)
}

// Success shows an auto-expiring confirmation
func (b *ToastBoard) Success(message string) {
	b.show(Toast{Kind: ToastSuccess, Message: message}, b.opts.FeedbackDuration)
}

// Error shows an auto-expiring failure notice
func (b *ToastBoard) Error(message string) {
	b.show(Toast{Kind: ToastError, Message: message}, b.opts.FeedbackDuration)
}

func (b *ToastBoard) show(t Toast, ttl time.Duration) Toast {
	t.ID = utils.GenerateID()
	t.CreatedAt = time.Now()
	if ttl > 0 {
		expires := t.CreatedAt.Add(ttl)
		t.ExpiresAt = &expires
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return t
	}
	entry := &activeToast{toast: t}
	if ttl > 0 {
		id := t.ID
		entry.timer = time.AfterFunc(ttl, func() { b.Dismiss(id) })
	}
	b.active[t.ID] = entry
	listeners := b.listenerSnapshot()
	b.mu.Unlock()

	b.metrics.RecordToast(string(t.Kind))
	b.logToast(t)
	for _, fn := range listeners {
		fn(ToastEvent{Type: ToastShown, Toast: t})
	}
	return t
}

func (b *ToastBoard) logToast(t Toast) {
	entry := b.logger.WithFields(logrus.Fields{
		"toast_id": t.ID,
		"kind":     t.Kind,
	})
	if t.NotificationID != "" {
		entry = entry.WithFields(logrus.Fields{
			"notification_id": t.NotificationID,
			"equipment":       t.Title,
			"severity":        t.Severity,
		})
	}

	switch t.Kind {
	case ToastEquipmentDown:
		entry.Error(t.Message)
	case ToastError:
		entry.Warn(t.Message)
	default:
		entry.Info(t.Message)
	}
}

// Dismiss removes a toast and reports whether it was active
func (b *ToastBoard) Dismiss(id string) bool {
	b.mu.Lock()
	entry, ok := b.active[id]
	if !ok {
		b.mu.Unlock()
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(b.active, id)
	listeners := b.listenerSnapshot()
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(ToastEvent{Type: ToastDismissed, Toast: entry.toast})
	}
	return true
}

// Active returns the active toasts, oldest first
func (b *ToastBoard) Active() []Toast {
	b.mu.Lock()
	defer b.mu.Unlock()

	toasts := make([]Toast, 0, len(b.active))
	for _, entry := range b.active {
		toasts = append(toasts, entry.toast)
	}
	sort.Slice(toasts, func(i, j int) bool {
		return toasts[i].CreatedAt.Before(toasts[j].CreatedAt)
	})
	return toasts
}

// OnEvent registers a listener for shown and dismissed toasts
func (b *ToastBoard) OnEvent(fn func(ToastEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listenerID++
	id := b.listenerID
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Close stops pending expiry timers and drops all toasts
func (b *ToastBoard) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, entry := range b.active {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(b.active, id)
	}
	b.closed = true
}

// listenerSnapshot must be called with mu held
func (b *ToastBoard) listenerSnapshot() []func(ToastEvent) {
	fns := make([]func(ToastEvent), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	return fns
}
