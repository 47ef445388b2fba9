// File: internal/monitor/monitor.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// BackendStatus is the reachability of the backend
type BackendStatus string

const (
	StatusChecking BackendStatus = "checking"
	StatusOnline   BackendStatus = "online"
	StatusOffline  BackendStatus = "offline"
)

// MonitorConfig holds monitor configuration
type MonitorConfig struct {
	Interval time.Duration `json:"interval"`
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime      time.Time     `json:"start_time"`
	Uptime         time.Duration `json:"uptime"`
	IsRunning      bool          `json:"is_running"`
	Status         BackendStatus `json:"status"`
	TotalChecks    uint64        `json:"total_checks"`
	FailedChecks   uint64        `json:"failed_checks"`
	LastCheck      *time.Time    `json:"last_check,omitempty"`
	LastLatency    time.Duration `json:"last_latency"`
	LastError      *string       `json:"last_error,omitempty"`
	LastErrorTime  *time.Time    `json:"last_error_time,omitempty"`
	LastTransition *time.Time    `json:"last_transition,omitempty"`
}

// BackendMonitor periodically checks the backend health endpoint
type BackendMonitor struct {
	poller  *HealthPoller
	config  *MonitorConfig
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	mu        sync.RWMutex
	running   bool
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	stats     *MonitorStats
	listeners []func(BackendStatus)
}

// NewBackendMonitor creates a new backend monitor
func NewBackendMonitor(checker HealthChecker, config *MonitorConfig, m *metrics.PrometheusMetrics) *BackendMonitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	return &BackendMonitor{
		poller:   NewHealthPoller(checker),
		config:   config,
		metrics:  m,
		logger:   utils.ComponentLogger("backend-monitor"),
		stopChan: make(chan struct{}),
		stats: &MonitorStats{
			StartTime: time.Now(),
			Status:    StatusChecking,
		},
	}
}

// Start runs an immediate check and then checks on every interval
func (bm *BackendMonitor) Start(ctx context.Context) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if bm.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running", "")
	}

	bm.running = true
	bm.stats.StartTime = time.Now()
	bm.stats.IsRunning = true

	bm.wg.Add(1)
	go bm.monitoringLoop(ctx)

	bm.logger.WithField("interval", bm.config.Interval).Info("Backend monitor started")
	return nil
}

// Stop stops the monitor and waits for an in-flight check
func (bm *BackendMonitor) Stop() error {
	bm.mu.Lock()
	if !bm.running {
		bm.mu.Unlock()
		return nil
	}
	bm.running = false
	bm.stats.IsRunning = false
	bm.stopOnce.Do(func() {
		close(bm.stopChan)
	})
	bm.mu.Unlock()

	bm.wg.Wait()
	bm.logger.Info("Backend monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (bm *BackendMonitor) IsRunning() bool {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.running
}

// Status returns the last known backend status
func (bm *BackendMonitor) Status() BackendStatus {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.stats.Status
}

// OnStatusChange registers a listener for status transitions
func (bm *BackendMonitor) OnStatusChange(fn func(BackendStatus)) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.listeners = append(bm.listeners, fn)
}

// CheckNow runs one check outside the schedule
func (bm *BackendMonitor) CheckNow(ctx context.Context) BackendStatus {
	result := bm.poller.Probe(ctx)
	return bm.apply(result)
}

// GetStats returns monitor statistics
func (bm *BackendMonitor) GetStats() *MonitorStats {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	stats := *bm.stats
	stats.Uptime = time.Since(bm.stats.StartTime)
	return &stats
}

func (bm *BackendMonitor) monitoringLoop(ctx context.Context) {
	defer bm.wg.Done()

	ticker := time.NewTicker(bm.config.Interval)
	defer ticker.Stop()

	bm.CheckNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-bm.stopChan:
			return
		case <-ticker.C:
			bm.CheckNow(ctx)
		}
	}
}

func (bm *BackendMonitor) apply(result ProbeResult) BackendStatus {
	status := StatusOffline
	if result.Healthy {
		status = StatusOnline
	}

	bm.mu.Lock()
	previous := bm.stats.Status
	checkedAt := result.CheckedAt
	bm.stats.Status = status
	bm.stats.TotalChecks++
	bm.stats.LastCheck = &checkedAt
	bm.stats.LastLatency = result.Latency
	if result.Error != nil {
		bm.stats.FailedChecks++
		msg := utils.UserMessage(result.Error)
		bm.stats.LastError = &msg
		bm.stats.LastErrorTime = &checkedAt
	}
	changed := previous != status
	if changed {
		bm.stats.LastTransition = &checkedAt
	}
	listeners := append([]func(BackendStatus){}, bm.listeners...)
	bm.mu.Unlock()

	bm.metrics.UpdateBackendUp(result.Healthy)

	if changed {
		entry := bm.logger.WithFields(logrus.Fields{
			"from":    previous,
			"to":      status,
			"latency": result.Latency,
		})
		if status == StatusOffline {
			entry.WithField("error", utils.UserMessage(result.Error)).Warn("Backend is offline")
		} else {
			entry.Info("Backend is online")
		}
		for _, fn := range listeners {
			fn(status)
		}
	}
	return status
}
