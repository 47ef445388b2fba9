package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smartdevs17/mine-alert-notifier/internal/models"
)

// PrometheusMetrics contains all Prometheus metrics for the alert notifier.
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Push channel metrics
	ConnectionState        prometheus.Gauge
	ReconnectAttemptsTotal prometheus.Counter
	ConnectionErrorsTotal  *prometheus.CounterVec

	// Store and reconciliation metrics
	AlertsReceivedTotal   *prometheus.CounterVec
	AcknowledgementsTotal *prometheus.CounterVec
	RollbacksTotal        *prometheus.CounterVec
	UnacknowledgedCount   prometheus.Gauge
	StoreNotifications    prometheus.Gauge
	ToastsShownTotal      *prometheus.CounterVec
	SoundFailuresTotal    prometheus.Counter

	// Backend API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	BackendUp          prometheus.Gauge

	// Journal metrics
	JournalOperationsTotal   *prometheus.CounterVec
	JournalOperationDuration *prometheus.HistogramVec

	// Local API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics on a private registry
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,

		ConnectionState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minewatch_connection_state",
				Help: "Push channel state (0=disconnected, 1=connecting, 2=connected, 3=authenticated)",
			},
		),

		ReconnectAttemptsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "minewatch_reconnect_attempts_total",
				Help: "Total number of push channel reconnect attempts",
			},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minewatch_connection_errors_total",
				Help: "Total number of push channel connection errors",
			},
			[]string{"transport", "error_type"},
		),

		AlertsReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minewatch_alerts_received_total",
				Help: "Total number of equipment alerts pushed by the backend",
			},
			[]string{"status", "severity"},
		),

		AcknowledgementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minewatch_acknowledgements_total",
				Help: "Total number of acknowledgements applied to the store",
			},
			[]string{"origin"},
		),

		RollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minewatch_rollbacks_total",
				Help: "Total number of optimistic updates resynchronized after failure",
			},
			[]string{"operation"},
		),

		UnacknowledgedCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minewatch_unacknowledged_count",
				Help: "Current unacknowledged notification count",
			},
		),

		StoreNotifications: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minewatch_store_notifications",
				Help: "Number of notifications currently held by the store",
			},
		),

		ToastsShownTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minewatch_toasts_shown_total",
				Help: "Total number of toasts raised",
			},
			[]string{"kind"},
		),

		SoundFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "minewatch_sound_failures_total",
				Help: "Total number of audible alerts that failed to play",
			},
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minewatch_api_requests_total",
				Help: "Total number of backend REST requests",
			},
			[]string{"operation", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minewatch_api_request_duration_seconds",
				Help:    "Duration of backend REST requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		BackendUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minewatch_backend_up",
				Help: "Backend health (1=online, 0=offline)",
			},
		),

		JournalOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minewatch_journal_operations_total",
				Help: "Total number of journal database operations",
			},
			[]string{"operation", "status"},
		),

		JournalOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minewatch_journal_operation_duration_seconds",
				Help:    "Duration of journal database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minewatch_http_requests_total",
				Help: "Total number of local HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minewatch_http_request_duration_seconds",
				Help:    "Duration of local HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minewatch_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minewatch_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "minewatch_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// UpdateConnectionState records the push channel state
func (m *PrometheusMetrics) UpdateConnectionState(state models.ConnectionState) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(state.Gauge())
}

// RecordReconnectAttempt records one reconnect attempt
func (m *PrometheusMetrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttemptsTotal.Inc()
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(transport, errorType string) {
	if m == nil {
		return
	}
	m.ConnectionErrorsTotal.WithLabelValues(transport, errorType).Inc()
}

// RecordAlertReceived records a pushed equipment alert
func (m *PrometheusMetrics) RecordAlertReceived(status models.Status, severity models.Severity) {
	if m == nil {
		return
	}
	m.AlertsReceivedTotal.WithLabelValues(string(status), string(severity)).Inc()
}

// RecordAcknowledgement records an acknowledgement applied locally or pushed by another client
func (m *PrometheusMetrics) RecordAcknowledgement(origin string) {
	if m == nil {
		return
	}
	m.AcknowledgementsTotal.WithLabelValues(origin).Inc()
}

// RecordRollback records a full resynchronization after a failed optimistic update
func (m *PrometheusMetrics) RecordRollback(operation string) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(operation).Inc()
}

// UpdateStoreSize updates the store gauges
func (m *PrometheusMetrics) UpdateStoreSize(notifications, unacknowledged int) {
	if m == nil {
		return
	}
	m.StoreNotifications.Set(float64(notifications))
	m.UnacknowledgedCount.Set(float64(unacknowledged))
}

// RecordToast records a raised toast
func (m *PrometheusMetrics) RecordToast(kind string) {
	if m == nil {
		return
	}
	m.ToastsShownTotal.WithLabelValues(kind).Inc()
}

// RecordSoundFailure records an audible alert that could not be played
func (m *PrometheusMetrics) RecordSoundFailure() {
	if m == nil {
		return
	}
	m.SoundFailuresTotal.Inc()
}

// RecordAPIRequest records a backend REST request
func (m *PrometheusMetrics) RecordAPIRequest(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.APIRequestsTotal.WithLabelValues(operation, status).Inc()
	m.APIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateBackendUp updates the backend health gauge
func (m *PrometheusMetrics) UpdateBackendUp(up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	m.BackendUp.Set(value)
}

// RecordJournalOperation records a journal database operation
func (m *PrometheusMetrics) RecordJournalOperation(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JournalOperationsTotal.WithLabelValues(operation, status).Inc()
	m.JournalOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records a local HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	if m == nil {
		return
	}
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	if m == nil {
		return
	}
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	if m == nil {
		return
	}
	m.GoroutineCount.Set(float64(count))
}
