// File: internal/session/session.go
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/alerting"
	"github.com/smartdevs17/mine-alert-notifier/internal/connection"
	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/internal/store"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// MsgConnectFailed is shown when the push channel rejects the token
const MsgConnectFailed = "Failed to connect to notification service"

// EventRecorder journals session transitions
type EventRecorder interface {
	RecordSessionEvent(ctx context.Context, event models.SessionEvent) error
}

// Deps are the collaborators a session wires together
type Deps struct {
	Client   connection.PushClient
	Store    *store.Store
	Toasts   *alerting.ToastBoard
	Sounder  alerting.Sounder
	Recorder EventRecorder
	Metrics  *metrics.PrometheusMetrics
}

// Status is a point-in-time view of the session
type Status struct {
	Running             bool                   `json:"running"`
	Role                models.Role            `json:"role,omitempty"`
	RoleConfirmed       bool                   `json:"role_confirmed"`
	CanReceiveAlerts    bool                   `json:"can_receive_alerts"`
	CanDelete           bool                   `json:"can_delete"`
	StartedAt           *time.Time             `json:"started_at,omitempty"`
	UnacknowledgedCount int                    `json:"unacknowledged_count"`
	Connection          connection.ClientStats `json:"connection"`
}

// Session owns the push channel and store for one authenticated user
type Session struct {
	deps   Deps
	logger *logrus.Entry

	mu            sync.RWMutex
	running       bool
	token         string
	role          models.Role
	roleConfirmed bool
	canReceive    bool
	startedAt     time.Time
	dispatcher    *alerting.Dispatcher
	unsubscribe   []func()
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates an idle session
func New(deps Deps) *Session {
	return &Session{
		deps:   deps,
		logger: utils.ComponentLogger("session"),
	}
}

// Start opens the push channel for a supervisor or admin.
// Any other role is refused before a connection is attempted.
func (s *Session) Start(token string, role models.Role) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return utils.NewAppError(utils.ErrCodeAuthRequired, "Token is required to start a session")
	}
	if !role.CanReceiveAlerts() {
		s.logger.WithField("role", role).Info("Role cannot receive alerts, push channel not opened")
		return utils.NewAppError(utils.ErrCodeRoleNotEligible,
			fmt.Sprintf("Role %q cannot receive equipment alerts", role),
			"only supervisor and admin roles open the push channel")
	}

	s.mu.Lock()
	if s.running {
		if s.deps.Client.State() != models.StateDisconnected {
			s.mu.Unlock()
			return nil
		}
		// the push loop ended after an auth error or exhausted reconnects
		s.mu.Unlock()
		s.logger.Info("Push channel is down, restarting session with the supplied token")
		s.Stop()
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			return nil
		}
	}
	s.running = true
	s.token = token
	s.role = role
	s.roleConfirmed = false
	s.canReceive = false
	s.startedAt = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	dispatcher := alerting.NewDispatcher(s.deps.Store, s.deps.Toasts, s.deps.Sounder, s.deps.Metrics)
	s.dispatcher = dispatcher
	client := s.deps.Client
	s.unsubscribe = []func(){
		dispatcher.Attach(client),
		client.OnAuthenticated(s.handleAuthenticated),
		client.OnAuthError(s.handleAuthError),
		client.OnStateChange(s.handleStateChange),
	}
	s.mu.Unlock()

	s.logger.WithField("role", role).Info("Starting notification session")
	if err := client.Connect(token); err != nil {
		s.Stop()
		return err
	}
	return nil
}

// Stop closes the push channel and clears session state. It is safe to call when idle.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	dispatcher := s.dispatcher
	s.dispatcher = nil
	cancel := s.cancel
	s.canReceive = false
	s.roleConfirmed = false
	s.token = ""
	s.mu.Unlock()

	for _, off := range unsubscribe {
		off()
	}
	s.deps.Client.Disconnect()
	cancel()
	s.wg.Wait()
	if dispatcher != nil {
		dispatcher.Close()
	}
	if s.deps.Store != nil {
		s.deps.Store.Reset()
	}
	s.logger.Info("Notification session stopped")
}

// Running reports whether the session is started
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Role returns the server-confirmed role, or the local hint before confirmation
func (s *Session) Role() models.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// CanReceiveAlerts is true only after the server granted it on the current link
func (s *Session) CanReceiveAlerts() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canReceive && s.deps.Client.State() == models.StateAuthenticated
}

// CanDelete reports whether the delete control is offered
func (s *Session) CanDelete() bool {
	return s.Role().CanDelete()
}

// DeleteNotification deletes through the store when the role allows it
func (s *Session) DeleteNotification(ctx context.Context, id string) error {
	if !s.CanDelete() {
		return utils.NewAppError(utils.ErrCodeForbidden, "Admin access required").WithStatus(403)
	}
	return s.deps.Store.DeleteNotification(ctx, id)
}

// Status returns the session status
func (s *Session) Status() Status {
	s.mu.RLock()
	status := Status{
		Running:       s.running,
		Role:          s.role,
		RoleConfirmed: s.roleConfirmed,
		CanDelete:     s.role.CanDelete(),
	}
	if s.running {
		started := s.startedAt
		status.StartedAt = &started
	}
	s.mu.RUnlock()

	status.CanReceiveAlerts = s.CanReceiveAlerts()
	status.Connection = s.deps.Client.Stats()
	if s.deps.Store != nil {
		status.UnacknowledgedCount = s.deps.Store.UnacknowledgedCount()
	}
	return status
}

func (s *Session) handleAuthenticated(data models.AuthenticatedData) {
	s.mu.Lock()
	if data.Role != "" {
		s.role = data.Role
		s.roleConfirmed = true
	}
	s.canReceive = data.CanReceiveAlerts
	ctx := s.ctx
	s.mu.Unlock()

	entry := s.logger.WithFields(logrus.Fields{
		"user_id":            data.UserID,
		"role":               data.Role,
		"can_receive_alerts": data.CanReceiveAlerts,
	})
	if !data.CanReceiveAlerts {
		entry.Warn("Server did not grant alert delivery")
		return
	}
	entry.Info("Session authenticated")

	// the read loop must not block on REST calls
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deps.Store.FetchNotifications(ctx, models.ListParams{})
		s.deps.Store.RefreshUnacknowledgedCount(ctx)
	}()
}

func (s *Session) handleAuthError(authErr models.AuthError) {
	s.mu.Lock()
	s.canReceive = false
	s.mu.Unlock()

	s.logger.WithField("reason", authErr.Message).Error("Push channel authentication failed")
	if s.deps.Toasts != nil {
		s.deps.Toasts.Error(MsgConnectFailed)
	}
	s.record(models.StateDisconnected, "auth-error: "+authErr.Message)
}

func (s *Session) handleStateChange(state models.ConnectionState) {
	detail := ""
	if state == models.StateDisconnected {
		s.mu.Lock()
		s.canReceive = false
		s.mu.Unlock()
		if s.deps.Client.Exhausted() {
			detail = "reconnect attempts exhausted"
		}
	}
	s.record(state, detail)
}

func (s *Session) record(state models.ConnectionState, detail string) {
	if s.deps.Recorder == nil {
		return
	}
	event := models.SessionEvent{
		ID:        utils.GenerateID(),
		State:     state,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := s.deps.Recorder.RecordSessionEvent(context.Background(), event); err != nil {
		s.logger.WithError(err).Warn("Failed to journal session event")
	}
}
