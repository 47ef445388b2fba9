// File: internal/monitor/poller.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// HealthChecker probes the backend health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthPoller runs single health probes and keeps probe statistics
type HealthPoller struct {
	checker HealthChecker
	logger  *logrus.Entry

	mu           sync.RWMutex
	lastPollTime time.Time
	lastLatency  time.Duration
	pollCount    uint64
	errorCount   uint64
}

// ProbeResult contains the outcome of one health probe
type ProbeResult struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     error         `json:"-"`
}

// NewHealthPoller creates a new health poller
func NewHealthPoller(checker HealthChecker) *HealthPoller {
	return &HealthPoller{
		checker: checker,
		logger:  utils.ComponentLogger("health-poller"),
	}
}

// Probe runs one health check; the checker applies its own timeout
func (hp *HealthPoller) Probe(ctx context.Context) ProbeResult {
	start := time.Now()
	err := hp.checker.HealthCheck(ctx)
	latency := time.Since(start)

	hp.mu.Lock()
	hp.pollCount++
	hp.lastPollTime = start
	hp.lastLatency = latency
	if err != nil {
		hp.errorCount++
	}
	hp.mu.Unlock()

	if err != nil {
		hp.logger.WithFields(logrus.Fields{
			"latency": latency,
			"error":   err.Error(),
		}).Debug("Health probe failed")
	}

	return ProbeResult{Healthy: err == nil, Latency: latency, CheckedAt: start, Error: err}
}

// GetStats returns poller statistics
func (hp *HealthPoller) GetStats() map[string]interface{} {
	hp.mu.RLock()
	defer hp.mu.RUnlock()

	return map[string]interface{}{
		"poll_count":     hp.pollCount,
		"error_count":    hp.errorCount,
		"last_poll_time": hp.lastPollTime,
		"last_latency":   hp.lastLatency.String(),
	}
}
