// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/alerting"
	"github.com/smartdevs17/mine-alert-notifier/internal/connection"
	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/internal/monitor"
	"github.com/smartdevs17/mine-alert-notifier/internal/session"
	"github.com/smartdevs17/mine-alert-notifier/internal/storage"
	"github.com/smartdevs17/mine-alert-notifier/internal/store"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	Version       string        `json:"version"`
}

// Deps are the components the HTTP surface exposes. Monitor, Storage and Metrics are optional.
type Deps struct {
	Session *session.Session
	Store   *store.Store
	Toasts  *alerting.ToastBoard
	Client  connection.PushClient
	Monitor *monitor.BackendMonitor
	Storage storage.Storage
	Metrics *metrics.Manager
}

// HTTPServer is the local HTTP API and event stream
type HTTPServer struct {
	config      *ServerConfig
	server      *http.Server
	router      *mux.Router
	deps        Deps
	hub         *Hub
	logger      *logrus.Entry
	unsubscribe []func()
}

// NewHTTPServer creates a new HTTP server and subscribes the stream hub to the store, toasts and connection
func NewHTTPServer(config *ServerConfig, deps Deps) (*HTTPServer, error) {
	if deps.Store == nil || deps.Session == nil || deps.Toasts == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "HTTP server requires a session, store and toast board")
	}

	server := &HTTPServer{
		config: config,
		deps:   deps,
		hub:    NewHub(),
		logger: utils.ComponentLogger("http-server"),
	}

	server.setupRouter()
	server.subscribe()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// Handler returns the router
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Hub returns the stream hub
func (s *HTTPServer) Hub() *Hub {
	return s.hub
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.deps.Metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}
	if s.config.EnableMetrics && s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	api.HandleFunc("/status", s.statusHandler).Methods("GET")

	// Notification endpoints
	api.HandleFunc("/notifications", s.listNotificationsHandler).Methods("GET")
	api.HandleFunc("/notifications/fetch", s.fetchNotificationsHandler).Methods("POST")
	api.HandleFunc("/notifications/unacknowledged", s.unacknowledgedCountHandler).Methods("GET")
	api.HandleFunc("/notifications/refresh-count", s.refreshCountHandler).Methods("POST")
	api.HandleFunc("/notifications/{id}/acknowledge", s.acknowledgeHandler).Methods("PATCH")
	api.HandleFunc("/notifications/{id}", s.deleteNotificationHandler).Methods("DELETE")

	// Toast endpoints
	api.HandleFunc("/toasts", s.listToastsHandler).Methods("GET")
	api.HandleFunc("/toasts/{id}", s.dismissToastHandler).Methods("DELETE")

	// Journal endpoints
	api.HandleFunc("/history", s.historyHandler).Methods("GET")
	api.HandleFunc("/history/sessions", s.sessionHistoryHandler).Methods("GET")

	api.HandleFunc("/stream", s.streamHandler).Methods("GET")
}

func (s *HTTPServer) subscribe() {
	s.unsubscribe = append(s.unsubscribe,
		s.deps.Store.Subscribe(func(snap store.Snapshot) {
			s.hub.Broadcast(EventSnapshot, snap)
		}),
		s.deps.Toasts.OnEvent(func(ev alerting.ToastEvent) {
			s.hub.Broadcast(EventToast, ev)
		}),
	)
	if s.deps.Client != nil {
		s.unsubscribe = append(s.unsubscribe, s.deps.Client.OnStateChange(func(state models.ConnectionState) {
			s.hub.Broadcast(EventConnection, map[string]interface{}{"state": state})
		}))
	}
	if s.deps.Monitor != nil {
		s.deps.Monitor.OnStatusChange(func(status monitor.BackendStatus) {
			s.hub.Broadcast(EventBackend, map[string]interface{}{"status": status})
		})
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop closes stream clients and shuts the server down
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	for _, off := range s.unsubscribe {
		off()
	}
	s.unsubscribe = nil
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	backend := monitor.StatusChecking
	if s.deps.Monitor != nil {
		backend = s.deps.Monitor.Status()
	}
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"backend":         backend,
		"session_running": s.deps.Session.Running(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statusHandler returns session, backend and journal status
func (s *HTTPServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"session":        s.deps.Session.Status(),
		"active_toasts":  len(s.deps.Toasts.Active()),
		"stream_clients": s.hub.ClientCount(),
		"timestamp":      time.Now(),
	}
	if s.deps.Monitor != nil {
		resp["backend"] = s.deps.Monitor.GetStats()
	}
	if s.deps.Storage != nil {
		if stats, err := s.deps.Storage.GetStorageStats(); err == nil {
			resp["journal"] = stats
		} else {
			s.logger.WithError(err).Warn("Failed to read journal statistics")
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// Notification Handlers

// listNotificationsHandler returns the store snapshot (the panel)
func (s *HTTPServer) listNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Store.Snapshot())
}

// fetchNotificationsHandler loads a page from the backend into the store
func (s *HTTPServer) fetchNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, utils.UserMessage(err), err)
		return
	}

	if err := s.deps.Store.FetchNotifications(r.Context(), params); err != nil {
		s.writeAppError(w, "Failed to load notifications", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Store.Snapshot())
}

// unacknowledgedCountHandler returns the bell counter
func (s *HTTPServer) unacknowledgedCountHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": s.deps.Store.UnacknowledgedCount(),
	})
}

// refreshCountHandler reloads the counter from the backend
func (s *HTTPServer) refreshCountHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.RefreshUnacknowledgedCount(r.Context()); err != nil {
		s.writeAppError(w, "Failed to refresh unacknowledged count", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": s.deps.Store.UnacknowledgedCount(),
	})
}

// acknowledgeHandler acknowledges one notification
func (s *HTTPServer) acknowledgeHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.deps.Store.AcknowledgeNotification(r.Context(), id); err != nil {
		s.writeAppError(w, store.MsgAcknowledgeFailed, err)
		return
	}

	resp := map[string]interface{}{
		"message":             store.MsgAcknowledged,
		"unacknowledgedCount": s.deps.Store.UnacknowledgedCount(),
	}
	if n, ok := s.deps.Store.Get(id); ok {
		resp["notification"] = n
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// deleteNotificationHandler deletes one notification; admin only
func (s *HTTPServer) deleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.deps.Session.DeleteNotification(r.Context(), id); err != nil {
		s.writeAppError(w, store.MsgDeleteFailed, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":             store.MsgDeleted,
		"unacknowledgedCount": s.deps.Store.UnacknowledgedCount(),
	})
}

// Toast Handlers

func (s *HTTPServer) listToastsHandler(w http.ResponseWriter, r *http.Request) {
	toasts := s.deps.Toasts.Active()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"toasts": toasts,
		"count":  len(toasts),
	})
}

func (s *HTTPServer) dismissToastHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.deps.Toasts.Dismiss(id) {
		s.writeError(w, http.StatusNotFound, "Toast not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Toast dismissed",
	})
}

// Journal Handlers

// historyHandler lists journaled notifications
func (s *HTTPServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Journal is disabled", nil)
		return
	}

	filter, err := parseJournalFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, utils.UserMessage(err), err)
		return
	}

	entries, err := s.deps.Storage.GetNotifications(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve history", err)
		return
	}
	total, err := s.deps.Storage.GetNotificationCount(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count history", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": entries,
		"count":         len(entries),
		"total":         total,
		"filter":        filter,
	})
}

// sessionHistoryHandler lists journaled session transitions
func (s *HTTPServer) sessionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Journal is disabled", nil)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	events, err := s.deps.Storage.GetSessionEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve session history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// streamHandler serves store snapshots, toasts and connection changes as server-sent events
func (s *HTTPServer) streamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	// the stream outlives the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.WithError(err).Debug("Could not clear write deadline for event stream")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := s.hub.AddClient()
	defer s.hub.RemoveClient(client)

	initial := []StreamEvent{
		{Type: EventConnected, Timestamp: time.Now(), Data: s.deps.Session.Status()},
		{Type: EventSnapshot, Timestamp: time.Now(), Data: s.deps.Store.Snapshot()},
	}
	for _, event := range initial {
		if err := writeEvent(w, event); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case event := <-client.events:
			if err := writeEvent(w, event); err != nil {
				s.logger.WithError(err).Debug("Stream write failed")
				return
			}
			flusher.Flush()
		}
	}
}

// Utility Methods

func parseListParams(r *http.Request) (models.ListParams, error) {
	var params models.ListParams

	if r.Body != nil && r.ContentLength != 0 {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			return params, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error())
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &params); err != nil {
				return params, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error())
			}
		}
	}

	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, utils.NewAppError(utils.ErrCodeValidation, "Invalid page", v)
		}
		params.Page = page
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return params, utils.NewAppError(utils.ErrCodeValidation, "Invalid limit", v)
		}
		params.Limit = limit
	}
	if v := q.Get("status"); v != "" {
		params.Status = models.Status(v)
	}
	if v := q.Get("severity"); v != "" {
		params.Severity = models.Severity(v)
	}
	if v := q.Get("acknowledged"); v != "" {
		ack, err := strconv.ParseBool(v)
		if err != nil {
			return params, utils.NewAppError(utils.ErrCodeValidation, "Invalid acknowledged flag", v)
		}
		params.Acknowledged = &ack
	}
	if v := q.Get("startDate"); v != "" {
		params.StartDate = v
	}
	if v := q.Get("endDate"); v != "" {
		params.EndDate = v
	}

	if params.Status != "" && !params.Status.Valid() {
		return params, utils.NewAppError(utils.ErrCodeValidation, "Invalid status", string(params.Status))
	}
	if params.Severity != "" && !params.Severity.Valid() {
		return params, utils.NewAppError(utils.ErrCodeValidation, "Invalid severity", string(params.Severity))
	}
	return params, nil
}

func parseJournalFilter(r *http.Request) (models.JournalFilter, error) {
	var filter models.JournalFilter
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := models.Status(v)
		if !status.Valid() {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid status", v)
		}
		filter.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := models.Severity(v)
		if !severity.Valid() {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid severity", v)
		}
		filter.Severity = &severity
	}
	if v := q.Get("acknowledged"); v != "" {
		ack, err := strconv.ParseBool(v)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid acknowledged flag", v)
		}
		filter.Acknowledged = &ack
	}
	if v := q.Get("tag"); v != "" {
		filter.Tag = &v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid since timestamp, expected RFC3339", v)
		}
		filter.Since = &since
	}
	if v := q.Get("include_deleted"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid include_deleted flag", v)
		}
		filter.IncludeDeleted = include
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid limit", v)
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid offset", v)
		}
		filter.Offset = offset
	}
	return filter, nil
}

// statusForError maps an AppError code to the local HTTP status
func statusForError(err error) int {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeAuthRequired:
		return http.StatusUnauthorized
	case utils.ErrCodeForbidden:
		return http.StatusForbidden
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeNetwork, utils.ErrCodeServer, utils.ErrCodeRequest:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeAppError writes an error response using the error's code for the status
func (s *HTTPServer) writeAppError(w http.ResponseWriter, fallback string, err error) {
	message := utils.UserMessage(err)
	if message == "" {
		message = fallback
	}
	s.writeError(w, statusForError(err), message, err)
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		if code := utils.ErrorCode(err); code != "" {
			errorResponse["code"] = code
		}
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		}).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
