package server

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// Stream event types
const (
	EventConnected  = "connected"
	EventSnapshot   = "snapshot"
	EventToast      = "toast"
	EventConnection = "connection_state"
	EventBackend    = "backend_status"
)

const clientBufferSize = 16

// StreamEvent is one server-sent event
type StreamEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans stream events out to connected SSE clients
type Hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]bool
	logger  *logrus.Entry
}

type streamClient struct {
	events chan StreamEvent
	done   chan struct{}
	once   sync.Once
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*streamClient]bool),
		logger:  utils.ComponentLogger("sse-hub"),
	}
}

// AddClient registers a stream client
func (h *Hub) AddClient() *streamClient {
	client := &streamClient{
		events: make(chan StreamEvent, clientBufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.WithField("total_clients", total).Debug("Stream client connected")
	return client
}

// RemoveClient unregisters a stream client
func (h *Hub) RemoveClient(client *streamClient) {
	h.mu.Lock()
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	client.once.Do(func() { close(client.done) })
	h.logger.WithField("total_clients", total).Debug("Stream client disconnected")
}

// Broadcast sends an event to every client; a full client buffer drops the event for that client
func (h *Hub) Broadcast(eventType string, data interface{}) {
	event := StreamEvent{Type: eventType, Data: data, Timestamp: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.events <- event:
		default:
			h.logger.WithField("type", eventType).Warn("Stream client buffer full, dropping event")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]bool)
	h.mu.Unlock()

	for client := range clients {
		client.once.Do(func() { close(client.done) })
	}
}

func writeEvent(w io.Writer, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
