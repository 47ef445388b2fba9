// File: internal/alerting/dispatcher.go
package alerting

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/connection"
	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// AlertStore is the part of the notification store push events merge into
type AlertStore interface {
	ApplyAlert(ctx context.Context, n models.Notification) bool
	ApplyAcknowledgement(ctx context.Context, ack models.NotificationAcknowledged) bool
}

// Dispatcher turns push events into store changes, toasts and the audible alert.
// It never calls the backend itself.
type Dispatcher struct {
	store   AlertStore
	toasts  *ToastBoard
	sounder Sounder
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher; a nil sounder is silent
func NewDispatcher(store AlertStore, toasts *ToastBoard, sounder Sounder, m *metrics.PrometheusMetrics) *Dispatcher {
	if sounder == nil {
		sounder = NopSounder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   store,
		toasts:  toasts,
		sounder: sounder,
		metrics: m,
		logger:  utils.ComponentLogger("dispatcher"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Attach subscribes the dispatcher to the push client's alert events
func (d *Dispatcher) Attach(client connection.PushClient) func() {
	offAlert := client.OnEquipmentAlert(d.HandleAlert)
	offAck := client.OnNotificationAcknowledged(d.HandleAcknowledgement)
	return func() {
		offAlert()
		offAck()
	}
}

// HandleAlert merges an equipment alert and raises its toast
func (d *Dispatcher) HandleAlert(alert models.EquipmentAlert) {
	n := alert.ToNotification()
	d.logger.WithFields(logrus.Fields{
		"id":        n.ID,
		"tag":       n.Tag,
		"equipment": n.EquipmentName,
		"status":    n.Status,
		"severity":  n.Severity,
	}).Debug("Equipment alert received")

	d.metrics.RecordAlertReceived(n.Status, n.Severity)
	d.store.ApplyAlert(d.ctx, n)

	if d.toasts != nil {
		d.toasts.ShowAlert(n)
	}
	if n.Status == models.StatusDown {
		d.playSound()
	}
}

// HandleAcknowledgement merges another client's acknowledgement
func (d *Dispatcher) HandleAcknowledgement(ack models.NotificationAcknowledged) {
	flipped := d.store.ApplyAcknowledgement(d.ctx, ack)
	fields := logrus.Fields{"id": ack.ID, "applied": flipped}
	if ack.AcknowledgedBy != nil {
		fields["acknowledged_by"] = ack.AcknowledgedBy.DisplayName()
	}
	d.logger.WithFields(fields).Debug("Remote acknowledgement received")
}

// playSound runs the sounder off the read loop; failures are logged only
func (d *Dispatcher) playSound() {
	if d.ctx.Err() != nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sounder.Play(d.ctx); err != nil {
			d.metrics.RecordSoundFailure()
			d.logger.WithError(err).Warn("Could not play alert sound")
		}
	}()
}

// Close cancels pending sounds and waits for them
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
