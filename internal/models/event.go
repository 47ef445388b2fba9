package models

import "time"

// Push channel event names
const (
	EventAuthenticate             = "authenticate"
	EventAuthenticated            = "authenticated"
	EventAuthError                = "auth-error"
	EventEquipmentAlert           = "equipment-alert"
	EventNotificationAcknowledged = "notification-acknowledged"
)

// EquipmentAlert is the payload of an equipment-alert push event
type EquipmentAlert struct {
	ID            string    `json:"id"`
	LegacyID      string    `json:"_id,omitempty"`
	Tag           string    `json:"tag"`
	EquipmentName string    `json:"equipmentName"`
	Status        Status    `json:"status"`
	Severity      Severity  `json:"severity"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	Acknowledged  bool      `json:"acknowledged"`
}

// NotificationID returns the alert id, accepting either key the backend uses
func (a EquipmentAlert) NotificationID() string {
	if a.ID != "" {
		return a.ID
	}
	return a.LegacyID
}

// ToNotification maps the alert onto a Notification; the alert time doubles as creation time
func (a EquipmentAlert) ToNotification() Notification {
	return Notification{
		ID:            a.NotificationID(),
		Tag:           a.Tag,
		EquipmentName: a.EquipmentName,
		Status:        a.Status,
		Severity:      a.Severity,
		Message:       a.Message,
		Timestamp:     a.Timestamp,
		Acknowledged:  a.Acknowledged,
		CreatedAt:     a.Timestamp,
	}
}

// NotificationAcknowledged signals that another client acknowledged a notification
type NotificationAcknowledged struct {
	ID             string        `json:"id"`
	AcknowledgedBy *Acknowledger `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt,omitempty"`
}

// AuthenticatedData is the server's confirmation of identity and capability
type AuthenticatedData struct {
	UserID           string `json:"userId"`
	Role             Role   `json:"role"`
	CanReceiveAlerts bool   `json:"canReceiveAlerts"`
}

// AuthError is the payload of an auth-error push event
type AuthError struct {
	Message string `json:"message"`
}

// ConnectionState is the push channel lifecycle state
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateAuthenticated ConnectionState = "authenticated"
)

// Gauge maps the state to a numeric value for metrics
func (s ConnectionState) Gauge() float64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateAuthenticated:
		return 3
	default:
		return 0
	}
}
