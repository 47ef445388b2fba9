package monitor

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

func init() {
	utils.SetLogOutput(io.Discard)
}

type switchChecker struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (c *switchChecker) HealthCheck(context.Context) error {
	c.calls.Add(1)
	if c.healthy.Load() {
		return nil
	}
	return utils.NewAppError(utils.ErrCodeNetwork, "Cannot connect to backend at http://localhost:5000/api. Is the server running?")
}

func TestBackendMonitorStartsChecking(t *testing.T) {
	bm := NewBackendMonitor(&switchChecker{}, &MonitorConfig{Interval: time.Hour}, nil)
	assert.Equal(t, StatusChecking, bm.Status())
	assert.False(t, bm.IsRunning())
}

func TestCheckNowTransitions(t *testing.T) {
	checker := &switchChecker{}
	m := metrics.NewPrometheusMetrics()
	bm := NewBackendMonitor(checker, &MonitorConfig{Interval: time.Hour}, m)

	var mu sync.Mutex
	var transitions []BackendStatus
	bm.OnStatusChange(func(s BackendStatus) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})

	assert.Equal(t, StatusOffline, bm.CheckNow(context.Background()))
	assert.Equal(t, StatusOffline, bm.CheckNow(context.Background()))
	checker.healthy.Store(true)
	assert.Equal(t, StatusOnline, bm.CheckNow(context.Background()))

	stats := bm.GetStats()
	assert.Equal(t, uint64(3), stats.TotalChecks)
	assert.Equal(t, uint64(2), stats.FailedChecks)
	require.NotNil(t, stats.LastError)
	assert.Contains(t, *stats.LastError, "Cannot connect to backend")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []BackendStatus{StatusOffline, StatusOnline}, transitions)
}

func TestMonitorLoopChecksOnInterval(t *testing.T) {
	checker := &switchChecker{}
	checker.healthy.Store(true)
	bm := NewBackendMonitor(checker, &MonitorConfig{Interval: 10 * time.Millisecond}, nil)

	require.NoError(t, bm.Start(context.Background()))
	assert.Error(t, bm.Start(context.Background()))

	assert.Eventually(t, func() bool { return checker.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusOnline, bm.Status())

	require.NoError(t, bm.Stop())
	require.NoError(t, bm.Stop())
	assert.False(t, bm.IsRunning())

	calls := checker.calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, checker.calls.Load())
}

func TestHealthPollerStats(t *testing.T) {
	checker := &switchChecker{}
	poller := NewHealthPoller(checker)

	result := poller.Probe(context.Background())
	assert.False(t, result.Healthy)
	assert.Error(t, result.Error)

	stats := poller.GetStats()
	assert.Equal(t, uint64(1), stats["poll_count"])
	assert.Equal(t, uint64(1), stats["error_count"])
}
