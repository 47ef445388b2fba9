// File: internal/connection/client.go
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/config"
	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

var errServerDisconnect = errors.New("server disconnected the socket")

// PushClient is the push channel as seen by the session
type PushClient interface {
	Connect(token string) error
	Disconnect()
	IsConnected() bool
	State() models.ConnectionState
	Exhausted() bool
	Stats() ClientStats
	OnAuthenticated(fn func(models.AuthenticatedData)) func()
	OnAuthError(fn func(models.AuthError)) func()
	OnEquipmentAlert(fn func(models.EquipmentAlert)) func()
	OnNotificationAcknowledged(fn func(models.NotificationAcknowledged)) func()
	OnStateChange(fn func(models.ConnectionState)) func()
}

// Options configures the push client
type Options struct {
	URL               string
	Path              string
	Transports        []string
	Reconnection      bool
	ReconnectAttempts int
	Backoff           *Backoff
	DialTimeout       time.Duration
}

// OptionsFromConfig builds client options from the transport configuration
func OptionsFromConfig(socketURL string, cfg *config.TransportConfig) Options {
	return Options{
		URL:               socketURL,
		Path:              cfg.Path,
		Transports:        cfg.Transports,
		Reconnection:      cfg.Reconnection,
		ReconnectAttempts: cfg.ReconnectAttempts,
		Backoff:           NewBackoff(cfg.ReconnectDelay, cfg.ReconnectDelayMax, cfg.RandomizationFactor),
		DialTimeout:       cfg.DialTimeout,
	}
}

// ClientStats holds push channel statistics
type ClientStats struct {
	State            models.ConnectionState `json:"state"`
	Transport        string                 `json:"transport,omitempty"`
	SessionID        string                 `json:"session_id,omitempty"`
	Attempts         int                    `json:"attempts"`
	Reconnects       uint64                 `json:"reconnects"`
	Exhausted        bool                   `json:"exhausted"`
	CanReceiveAlerts bool                   `json:"can_receive_alerts"`
	UserID           string                 `json:"user_id,omitempty"`
	LastError        string                 `json:"last_error,omitempty"`
	LastConnectedAt  time.Time              `json:"last_connected_at,omitempty"`
}

type listenerEntry[T any] struct {
	id uint64
	fn func(T)
}

type listenerList[T any] struct {
	entries []listenerEntry[T]
}

func (l *listenerList[T]) add(id uint64, fn func(T)) {
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})
}

func (l *listenerList[T]) remove(id uint64) {
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *listenerList[T]) snapshot() []func(T) {
	fns := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

// SocketClient owns exactly one push channel connection.
// Listeners run on the read loop in arrival order and must not call Disconnect.
type SocketClient struct {
	opts    Options
	dialer  Dialer
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	mu         sync.RWMutex
	state      models.ConnectionState
	cancel     context.CancelFunc
	done       chan struct{}
	generation uint64
	auth       *models.AuthenticatedData
	stats      ClientStats
	listenerID uint64

	authenticated listenerList[models.AuthenticatedData]
	authErrors    listenerList[models.AuthError]
	alerts        listenerList[models.EquipmentAlert]
	acknowledged  listenerList[models.NotificationAcknowledged]
	stateChanges  listenerList[models.ConnectionState]
}

// NewSocketClient creates a push client; a nil dialer uses DefaultDialer
func NewSocketClient(opts Options, dialer Dialer, m *metrics.PrometheusMetrics) *SocketClient {
	if dialer == nil {
		dialer = NewDefaultDialer(opts.DialTimeout)
	}
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff(time.Second, 5*time.Second, 0.5)
	}
	if len(opts.Transports) == 0 {
		opts.Transports = []string{TransportWebSocket, TransportPolling}
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 20 * time.Second
	}

	return &SocketClient{
		opts:    opts,
		dialer:  dialer,
		metrics: m,
		logger:  utils.ComponentLogger("push-client"),
		state:   models.StateDisconnected,
	}
}

// Connect starts the connection loop. It is a no-op while a loop is already active.
func (c *SocketClient) Connect(token string) error {
	if strings.TrimSpace(token) == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Token is required to open the push channel")
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		c.logger.Debug("Push channel already active, ignoring connect")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.generation++
	generation := c.generation
	c.cancel = cancel
	c.done = done
	c.stats.Exhausted = false
	c.stats.Attempts = 0
	c.stats.LastError = ""
	c.mu.Unlock()

	// connecting is visible before Connect returns
	c.setState(models.StateConnecting)
	go c.run(ctx, token, generation, done)
	return nil
}

// Disconnect removes all listeners, closes the link and waits for the loop to exit.
// It is safe to call when already disconnected.
func (c *SocketClient) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.authenticated = listenerList[models.AuthenticatedData]{}
	c.authErrors = listenerList[models.AuthError]{}
	c.alerts = listenerList[models.EquipmentAlert]{}
	c.acknowledged = listenerList[models.NotificationAcknowledged]{}
	c.stateChanges = listenerList[models.ConnectionState]{}
	c.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	c.logger.Info("Push channel disconnected")
}

// IsConnected reports whether the link is up
func (c *SocketClient) IsConnected() bool {
	state := c.State()
	return state == models.StateConnected || state == models.StateAuthenticated
}

// State returns the current connection state
func (c *SocketClient) State() models.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Exhausted reports whether the last loop gave up after the reconnect ceiling
func (c *SocketClient) Exhausted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats.Exhausted
}

// CanReceiveAlerts is true only after the server confirmed it on this link
func (c *SocketClient) CanReceiveAlerts() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == models.StateAuthenticated && c.auth != nil && c.auth.CanReceiveAlerts
}

// Stats returns push channel statistics
func (c *SocketClient) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.State = c.state
	if c.auth != nil && c.state == models.StateAuthenticated {
		stats.CanReceiveAlerts = c.auth.CanReceiveAlerts
		stats.UserID = c.auth.UserID
	}
	return stats
}

// OnAuthenticated registers a listener for the server's authentication confirmation
func (c *SocketClient) OnAuthenticated(fn func(models.AuthenticatedData)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListenerID()
	c.authenticated.add(id, fn)
	return func() {
		c.mu.Lock()
		c.authenticated.remove(id)
		c.mu.Unlock()
	}
}

// OnAuthError registers a listener for authentication rejections
func (c *SocketClient) OnAuthError(fn func(models.AuthError)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListenerID()
	c.authErrors.add(id, fn)
	return func() {
		c.mu.Lock()
		c.authErrors.remove(id)
		c.mu.Unlock()
	}
}

// OnEquipmentAlert registers a listener for pushed equipment alerts
func (c *SocketClient) OnEquipmentAlert(fn func(models.EquipmentAlert)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListenerID()
	c.alerts.add(id, fn)
	return func() {
		c.mu.Lock()
		c.alerts.remove(id)
		c.mu.Unlock()
	}
}

// OnNotificationAcknowledged registers a listener for acknowledgements made by other clients
func (c *SocketClient) OnNotificationAcknowledged(fn func(models.NotificationAcknowledged)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListenerID()
	c.acknowledged.add(id, fn)
	return func() {
		c.mu.Lock()
		c.acknowledged.remove(id)
		c.mu.Unlock()
	}
}

// OnStateChange registers a listener for connection state transitions
func (c *SocketClient) OnStateChange(fn func(models.ConnectionState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListenerID()
	c.stateChanges.add(id, fn)
	return func() {
		c.mu.Lock()
		c.stateChanges.remove(id)
		c.mu.Unlock()
	}
}

func (c *SocketClient) nextListenerID() uint64 {
	c.listenerID++
	return c.listenerID
}

// run keeps the link up until the context ends, the server refuses us, or the ceiling is hit
func (c *SocketClient) run(ctx context.Context, token string, generation uint64, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		c.setState(models.StateConnecting)

		connected, err := c.runSession(ctx, token)
		if ctx.Err() != nil {
			c.finish(generation, nil)
			return
		}
		if connected {
			failures = 0
		}

		if utils.IsErrorCode(err, utils.ErrCodeAuth) || errors.Is(err, errServerDisconnect) {
			c.logger.WithError(err).Info("Push channel closed without reconnect")
			c.finish(generation, err)
			return
		}
		if !c.opts.Reconnection {
			c.logger.WithError(err).Error("Push channel lost and reconnection is disabled")
			c.finish(generation, err)
			return
		}

		failures++
		c.recordFailure(failures, err)
		if failures > c.opts.ReconnectAttempts {
			c.mu.Lock()
			c.stats.Exhausted = true
			c.mu.Unlock()
			c.logger.WithFields(logrus.Fields{
				"attempts": c.opts.ReconnectAttempts,
				"error":    utils.UserMessage(err),
			}).Error("Push channel reconnection attempts exhausted")
			c.finish(generation, err)
			return
		}

		delay := c.opts.Backoff.Duration(failures - 1)
		c.metrics.RecordReconnectAttempt()
		c.logger.WithFields(logrus.Fields{
			"attempt":      failures,
			"max_attempts": c.opts.ReconnectAttempts,
			"delay":        delay.String(),
			"error":        utils.UserMessage(err),
		}).Warn("Push channel reconnecting")

		select {
		case <-ctx.Done():
			c.finish(generation, nil)
			return
		case <-time.After(delay):
			c.mu.Lock()
			c.stats.Reconnects++
			c.mu.Unlock()
		}
	}
}

func (c *SocketClient) recordFailure(failures int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Attempts = failures
	if err != nil {
		c.stats.LastError = err.Error()
	}
}

// finish releases the loop and settles the state at disconnected
func (c *SocketClient) finish(generation uint64, err error) {
	c.mu.Lock()
	if c.generation == generation && c.cancel != nil {
		c.cancel()
		c.cancel, c.done = nil, nil
	}
	c.auth = nil
	c.stats.Transport = ""
	c.stats.SessionID = ""
	if err != nil {
		c.stats.LastError = err.Error()
	}
	c.mu.Unlock()

	c.setState(models.StateDisconnected)
}

// dial tries each configured transport in order
func (c *SocketClient) dial(ctx context.Context) (Transport, error) {
	var lastErr error
	for _, name := range c.opts.Transports {
		endpoint, err := EndpointURL(c.opts.URL, c.opts.Path, name)
		if err != nil {
			return nil, err
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		t, err := c.dialer.Dial(dialCtx, name, endpoint)
		cancel()
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.metrics.RecordConnectionError(name, "dial")
		c.logger.WithFields(logrus.Fields{
			"transport": name,
			"endpoint":  endpoint,
			"error":     err.Error(),
		}).Warn("Push transport dial failed")
	}
	return nil, lastErr
}

// runSession serves one link; connected reports whether the namespace was joined
func (c *SocketClient) runSession(ctx context.Context, token string) (connected bool, err error) {
	t, err := c.dial(ctx)
	if err != nil {
		return false, err
	}

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			if c.IsConnected() {
				t.WritePacket(messagePacket(Message{Type: MessageDisconnect}))
			}
			t.Close()
		case <-sessionDone:
			t.Close()
		}
	}()

	handshake := t.Handshake()
	c.mu.Lock()
	c.stats.Transport = t.Name()
	c.stats.SessionID = handshake.SID
	c.mu.Unlock()

	logger := c.logger.WithFields(logrus.Fields{
		"transport": t.Name(),
		"sid":       handshake.SID,
	})
	logger.Info("Push transport open")

	if err := t.WritePacket(messagePacket(Message{Type: MessageConnect})); err != nil {
		return false, utils.NewAppError(utils.ErrCodeConnection, "Failed to join namespace", err.Error())
	}

	heartbeat := handshake.HeartbeatTimeout()
	for {
		t.SetReadDeadline(time.Now().Add(heartbeat))
		p, err := t.ReadPacket()
		if err != nil {
			if ctx.Err() != nil {
				return connected, ctx.Err()
			}
			c.metrics.RecordConnectionError(t.Name(), "dropped")
			return connected, utils.NewAppError(utils.ErrCodeConnection, "Push transport dropped", err.Error())
		}

		switch p.Type {
		case PacketPing:
			if err := t.WritePacket(Packet{Type: PacketPong, Data: p.Data}); err != nil {
				return connected, utils.NewAppError(utils.ErrCodeConnection, "Failed to answer heartbeat", err.Error())
			}
		case PacketClose:
			return connected, utils.NewAppError(utils.ErrCodeConnection, "Server closed the transport")
		case PacketMessage:
			m, err := DecodeMessage(p.Data)
			if err != nil {
				logger.WithError(err).Warn("Dropping undecodable socket packet")
				continue
			}
			if m.Namespace != "/" {
				continue
			}

			switch m.Type {
			case MessageConnect:
				connected = true
				if err := c.onConnected(t, token); err != nil {
					return connected, err
				}
				logger.Info("Push channel connected")
			case MessageConnectError:
				c.metrics.RecordConnectionError(t.Name(), "connect_error")
				return connected, utils.NewAppError(utils.ErrCodeConnection, "Namespace connection refused", m.ErrorMessage())
			case MessageDisconnect:
				return connected, errServerDisconnect
			case MessageEvent:
				if err := c.handleEvent(m); err != nil {
					return connected, err
				}
			}
		}
	}
}

// onConnected resets the attempt counter and authenticates the link
func (c *SocketClient) onConnected(t Transport, token string) error {
	c.mu.Lock()
	c.stats.Attempts = 0
	c.stats.LastConnectedAt = time.Now()
	c.mu.Unlock()
	c.setState(models.StateConnected)

	m, err := EventMessage(models.EventAuthenticate, token)
	if err != nil {
		return err
	}
	if err := t.WritePacket(messagePacket(m)); err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to send authenticate", err.Error())
	}
	return nil
}

// handleEvent dispatches one server event; a returned error ends the session
func (c *SocketClient) handleEvent(m Message) error {
	name, args, err := m.Event()
	if err != nil {
		c.logger.WithError(err).Warn("Dropping malformed event")
		return nil
	}
	var payload json.RawMessage
	if len(args) > 0 {
		payload = args[0]
	}

	switch name {
	case models.EventAuthenticated:
		var data models.AuthenticatedData
		if err := json.Unmarshal(payload, &data); err != nil {
			c.logger.WithError(err).Warn("Dropping undecodable authenticated payload")
			return nil
		}
		c.mu.Lock()
		c.auth = &data
		listeners := c.authenticated.snapshot()
		c.mu.Unlock()
		c.setState(models.StateAuthenticated)

		c.logger.WithFields(logrus.Fields{
			"user_id":            data.UserID,
			"role":               data.Role,
			"can_receive_alerts": data.CanReceiveAlerts,
		}).Info("Push channel authenticated")
		for _, fn := range listeners {
			fn(data)
		}

	case models.EventAuthError:
		data := decodeAuthError(payload)
		c.mu.RLock()
		listeners := c.authErrors.snapshot()
		c.mu.RUnlock()

		c.logger.WithField("message", data.Message).Error("Push channel authentication rejected")
		for _, fn := range listeners {
			fn(data)
		}
		return utils.NewAppError(utils.ErrCodeAuth, data.Message)

	case models.EventEquipmentAlert:
		var alert models.EquipmentAlert
		if err := json.Unmarshal(payload, &alert); err != nil || alert.NotificationID() == "" {
			c.logger.WithError(err).Warn("Dropping undecodable equipment alert")
			return nil
		}
		c.mu.RLock()
		listeners := c.alerts.snapshot()
		c.mu.RUnlock()

		c.logger.WithFields(logrus.Fields{
			"id":     alert.NotificationID(),
			"tag":    alert.Tag,
			"status": alert.Status,
		}).Debug("Equipment alert received")
		for _, fn := range listeners {
			fn(alert)
		}

	case models.EventNotificationAcknowledged:
		var ack models.NotificationAcknowledged
		if err := json.Unmarshal(payload, &ack); err != nil || ack.ID == "" {
			c.logger.Warn("Dropping undecodable acknowledgement event")
			return nil
		}
		c.mu.RLock()
		listeners := c.acknowledged.snapshot()
		c.mu.RUnlock()

		c.logger.WithField("id", ack.ID).Debug("Acknowledgement event received")
		for _, fn := range listeners {
			fn(ack)
		}

	default:
		c.logger.WithField("event", name).Debug("Ignoring unknown event")
	}
	return nil
}

func decodeAuthError(payload json.RawMessage) models.AuthError {
	var data models.AuthError
	if len(payload) > 0 && json.Unmarshal(payload, &data) == nil && data.Message != "" {
		return data
	}
	var plain string
	if len(payload) > 0 && json.Unmarshal(payload, &plain) == nil && plain != "" {
		return models.AuthError{Message: plain}
	}
	return models.AuthError{Message: "Authentication failed"}
}

// setState records a transition and notifies state listeners
func (c *SocketClient) setState(state models.ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	listeners := c.stateChanges.snapshot()
	c.mu.Unlock()

	c.metrics.UpdateConnectionState(state)
	c.logger.WithField("state", state).Debug("Push channel state changed")
	for _, fn := range listeners {
		fn(state)
	}
}
