package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

func init() {
	utils.SetLogOutput(io.Discard)
}

const (
	goodToken       = "good-token"
	openPacket      = `0{"sid":"%s","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`
	authenticatedEv = `2["authenticated",{"userId":"u1","role":"supervisor","canReceiveAlerts":true}]`
	authErrorEv     = `2["auth-error",{"message":"Invalid token"}]`
	alertEv         = `2["equipment-alert",{"id":"n1","tag":"CR-03","equipmentName":"Crusher 3","status":"down","severity":"critical","message":"Crusher 3 stopped","timestamp":"2024-05-01T10:00:00Z","acknowledged":false}]`
	ackEv           = `2["notification-acknowledged",{"id":"n1","acknowledgedBy":{"firstName":"Ada","lastName":"Obi","email":"ada@example.com"},"acknowledgedAt":"2024-05-01T10:05:00Z"}]`
)

// scriptFunc returns the socket packets the fake server sends after authenticate, and whether to hang up
type scriptFunc func(conn int, token string) ([]string, bool)

// fakeEngine is a minimal Engine.IO/Socket.IO server over websocket
type fakeEngine struct {
	script      scriptFunc
	connections int32
	upgrader    websocket.Upgrader
}

func newFakeEngine(script scriptFunc) *httptest.Server {
	f := &fakeEngine{
		script:   script,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	srv := httptest.NewServer(f)
	return srv
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("transport") != TransportWebSocket || r.URL.Query().Get("EIO") != "4" {
		http.Error(w, "bad transport", http.StatusBadRequest)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := int(atomic.AddInt32(&f.connections, 1))

	write := func(s string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(s))
	}
	if err := write(fmt.Sprintf(openPacket, fmt.Sprintf("sid-%d", n))); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := string(data)
		switch {
		case msg == "40":
			write(`40{"sid":"socket"}`)
		case strings.HasPrefix(msg, `42["authenticate"`):
			var items []json.RawMessage
			json.Unmarshal([]byte(msg[2:]), &items)
			var token string
			if len(items) > 1 {
				json.Unmarshal(items[1], &token)
			}
			packets, hangUp := f.script(n, token)
			for _, p := range packets {
				write("4" + p)
			}
			if hangUp {
				return
			}
		}
	}
}

func testOptions(url string, attempts int) Options {
	return Options{
		URL:               url,
		Path:              "/socket.io/",
		Transports:        []string{TransportWebSocket},
		Reconnection:      true,
		ReconnectAttempts: attempts,
		Backoff:           NewBackoff(5*time.Millisecond, 10*time.Millisecond, 0),
		DialTimeout:       2 * time.Second,
	}
}

func TestSocketClientAuthenticatesAndDeliversEvents(t *testing.T) {
	srv := newFakeEngine(func(_ int, token string) ([]string, bool) {
		if token != goodToken {
			return []string{authErrorEv}, false
		}
		return []string{authenticatedEv, alertEv, ackEv}, false
	})
	defer srv.Close()

	client := NewSocketClient(testOptions(srv.URL, 3), nil, nil)
	authCh := make(chan models.AuthenticatedData, 1)
	alertCh := make(chan models.EquipmentAlert, 1)
	ackCh := make(chan models.NotificationAcknowledged, 1)
	client.OnAuthenticated(func(d models.AuthenticatedData) { authCh <- d })
	client.OnEquipmentAlert(func(n models.EquipmentAlert) { alertCh <- n })
	client.OnNotificationAcknowledged(func(a models.NotificationAcknowledged) { ackCh <- a })

	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()

	select {
	case d := <-authCh:
		assert.Equal(t, "u1", d.UserID)
		assert.Equal(t, models.RoleSupervisor, d.Role)
		assert.True(t, d.CanReceiveAlerts)
	case <-time.After(3 * time.Second):
		t.Fatal("authenticated not received")
	}

	select {
	case n := <-alertCh:
		assert.Equal(t, "n1", n.ID)
		assert.Equal(t, "Crusher 3", n.EquipmentName)
		assert.Equal(t, models.StatusDown, n.Status)
		assert.False(t, n.Acknowledged)
	case <-time.After(3 * time.Second):
		t.Fatal("equipment alert not received")
	}

	select {
	case a := <-ackCh:
		assert.Equal(t, "n1", a.ID)
		require.NotNil(t, a.AcknowledgedBy)
		assert.Equal(t, "Ada Obi", a.AcknowledgedBy.DisplayName())
	case <-time.After(3 * time.Second):
		t.Fatal("acknowledgement not received")
	}

	assert.Eventually(t, func() bool { return client.State() == models.StateAuthenticated }, time.Second, 5*time.Millisecond)
	assert.True(t, client.IsConnected())
	assert.True(t, client.CanReceiveAlerts())

	stats := client.Stats()
	assert.Equal(t, TransportWebSocket, stats.Transport)
	assert.Equal(t, "sid-1", stats.SessionID)
	assert.Equal(t, "u1", stats.UserID)
}

func TestSocketClientConnectIsIdempotent(t *testing.T) {
	srv := newFakeEngine(func(int, string) ([]string, bool) {
		return []string{authenticatedEv}, false
	})
	defer srv.Close()
	engine := srv.Config.Handler.(*fakeEngine)

	client := NewSocketClient(testOptions(srv.URL, 3), nil, nil)
	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()

	assert.Eventually(t, func() bool { return client.State() == models.StateAuthenticated }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, client.Connect(goodToken))
	require.NoError(t, client.Connect("another-token"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&engine.connections))
}

func TestSocketClientRejectsEmptyToken(t *testing.T) {
	client := NewSocketClient(testOptions("http://127.0.0.1:1", 1), nil, nil)
	err := client.Connect("  ")
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeValidation))
	assert.Equal(t, models.StateDisconnected, client.State())
}

func TestSocketClientAuthErrorDoesNotReconnect(t *testing.T) {
	srv := newFakeEngine(func(int, string) ([]string, bool) {
		return []string{authErrorEv}, false
	})
	defer srv.Close()
	engine := srv.Config.Handler.(*fakeEngine)

	client := NewSocketClient(testOptions(srv.URL, 5), nil, nil)
	errCh := make(chan models.AuthError, 1)
	client.OnAuthError(func(e models.AuthError) { errCh <- e })

	require.NoError(t, client.Connect("expired"))
	defer client.Disconnect()

	select {
	case e := <-errCh:
		assert.Equal(t, "Invalid token", e.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("auth-error not received")
	}

	assert.Eventually(t, func() bool { return client.State() == models.StateDisconnected }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&engine.connections))
	assert.False(t, client.Exhausted())
	assert.False(t, client.CanReceiveAlerts())
}

func TestSocketClientServerDisconnectEndsLoop(t *testing.T) {
	srv := newFakeEngine(func(int, string) ([]string, bool) {
		return []string{authenticatedEv, "1"}, false
	})
	defer srv.Close()
	engine := srv.Config.Handler.(*fakeEngine)

	client := NewSocketClient(testOptions(srv.URL, 5), nil, nil)
	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&engine.connections) == 1 && client.State() == models.StateDisconnected
	}, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&engine.connections))
}

func TestSocketClientReconnectsAfterDrop(t *testing.T) {
	srv := newFakeEngine(func(conn int, _ string) ([]string, bool) {
		// The first link drops right after authenticating
		return []string{authenticatedEv}, conn == 1
	})
	defer srv.Close()
	engine := srv.Config.Handler.(*fakeEngine)

	client := NewSocketClient(testOptions(srv.URL, 2), nil, nil)
	var mu sync.Mutex
	var states []models.ConnectionState
	client.OnStateChange(func(s models.ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&engine.connections) == 2 && client.State() == models.StateAuthenticated
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, client.Stats().Attempts)
	assert.Equal(t, uint64(1), client.Stats().Reconnects)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 4)
	assert.Equal(t, []models.ConnectionState{
		models.StateConnecting, models.StateConnected, models.StateAuthenticated, models.StateConnecting,
	}, states[:4])
}

// failingDialer fails every dial and counts attempts
type failingDialer struct {
	calls int32
}

func (d *failingDialer) Dial(ctx context.Context, transport, endpoint string) (Transport, error) {
	atomic.AddInt32(&d.calls, 1)
	return nil, errors.New("connection refused")
}

func TestSocketClientReconnectionCeiling(t *testing.T) {
	dialer := &failingDialer{}
	client := NewSocketClient(testOptions("http://127.0.0.1:5000", 3), dialer, nil)

	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()

	// One initial attempt plus three reconnects
	assert.Eventually(t, client.Exhausted, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StateDisconnected, client.State())
	assert.False(t, client.IsConnected())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(4), atomic.LoadInt32(&dialer.calls))
	assert.Equal(t, 4, client.Stats().Attempts)
	assert.Contains(t, client.Stats().LastError, "connection refused")

	// A manual reconnect starts a fresh loop
	require.NoError(t, client.Connect(goodToken))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&dialer.calls) == 8 && client.Exhausted() }, 3*time.Second, 5*time.Millisecond)
}

func TestSocketClientReconnectionDisabled(t *testing.T) {
	dialer := &failingDialer{}
	opts := testOptions("http://127.0.0.1:5000", 5)
	opts.Reconnection = false
	client := NewSocketClient(opts, dialer, nil)

	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&dialer.calls) == 1 && client.State() == models.StateDisconnected
	}, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dialer.calls))
}

func TestSocketClientTriesTransportsInOrder(t *testing.T) {
	dialer := &failingDialer{}
	opts := testOptions("http://127.0.0.1:5000", 0)
	opts.Transports = []string{TransportWebSocket, TransportPolling}
	client := NewSocketClient(opts, dialer, nil)

	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()

	assert.Eventually(t, client.Exhausted, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dialer.calls))
}

// blockingDialer holds every dial until the loop is cancelled
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, transport, endpoint string) (Transport, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConnectReportsConnectingBeforeReturning(t *testing.T) {
	client := NewSocketClient(testOptions("http://127.0.0.1:5000", 1), blockingDialer{}, nil)
	require.Equal(t, models.StateDisconnected, client.State())

	require.NoError(t, client.Connect(goodToken))
	assert.Equal(t, models.StateConnecting, client.State())

	client.Disconnect()
	assert.Equal(t, models.StateDisconnected, client.State())
}

func TestDisconnectIsSafeWhenIdle(t *testing.T) {
	client := NewSocketClient(testOptions("http://127.0.0.1:5000", 1), &failingDialer{}, nil)
	assert.NotPanics(t, func() {
		client.Disconnect()
		client.Disconnect()
	})
	assert.Equal(t, models.StateDisconnected, client.State())
}

func TestDisconnectRemovesListeners(t *testing.T) {
	srv := newFakeEngine(func(int, string) ([]string, bool) {
		return []string{authenticatedEv}, false
	})
	defer srv.Close()

	client := NewSocketClient(testOptions(srv.URL, 1), nil, nil)
	var calls int32
	client.OnAuthenticated(func(models.AuthenticatedData) { atomic.AddInt32(&calls, 1) })

	require.NoError(t, client.Connect(goodToken))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 3*time.Second, 5*time.Millisecond)

	client.Disconnect()
	assert.Equal(t, models.StateDisconnected, client.State())

	// A new loop after Disconnect no longer reaches the old listener
	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()
	assert.Eventually(t, func() bool { return client.State() == models.StateAuthenticated }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnsubscribe(t *testing.T) {
	srv := newFakeEngine(func(int, string) ([]string, bool) {
		return []string{authenticatedEv, alertEv}, false
	})
	defer srv.Close()

	client := NewSocketClient(testOptions(srv.URL, 1), nil, nil)
	var kept, removed int32
	unsubscribe := client.OnEquipmentAlert(func(models.EquipmentAlert) { atomic.AddInt32(&removed, 1) })
	client.OnEquipmentAlert(func(models.EquipmentAlert) { atomic.AddInt32(&kept, 1) })
	unsubscribe()

	require.NoError(t, client.Connect(goodToken))
	defer client.Disconnect()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&kept) == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&removed))
}
