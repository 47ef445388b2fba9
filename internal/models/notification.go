package models

import (
	"strings"
	"time"
)

// Status is the equipment state carried by a notification
type Status string

const (
	StatusDown Status = "down"
	StatusUp   Status = "up"
)

// Severity classifies how urgent a notification is
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether the status is one the backend emits
func (s Status) Valid() bool {
	return s == StatusDown || s == StatusUp
}

// Valid reports whether the severity is one the backend emits
func (s Severity) Valid() bool {
	return s == SeverityCritical || s == SeverityWarning || s == SeverityInfo
}

// Acknowledger identifies the user who acknowledged a notification
type Acknowledger struct {
	ID        string `json:"_id,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// DisplayName returns "First Last", falling back to the email
func (a Acknowledger) DisplayName() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		return a.Email
	}
	return name
}

// Notification represents one equipment state-change event
type Notification struct {
	ID             string        `json:"_id"`
	Tag            string        `json:"tag"`
	EquipmentName  string        `json:"equipmentName"`
	Status         Status        `json:"status"`
	Severity       Severity      `json:"severity"`
	Message        string        `json:"message"`
	Timestamp      time.Time     `json:"timestamp"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedBy *Acknowledger `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Clone returns a deep copy so snapshots never alias store state
func (n Notification) Clone() Notification {
	c := n
	if n.AcknowledgedBy != nil {
		by := *n.AcknowledgedBy
		c.AcknowledgedBy = &by
	}
	if n.AcknowledgedAt != nil {
		at := *n.AcknowledgedAt
		c.AcknowledgedAt = &at
	}
	return c
}

// MarkAcknowledged sets the acknowledged flag and attaches who and when, if known
func (n *Notification) MarkAcknowledged(by *Acknowledger, at *time.Time) {
	n.Acknowledged = true
	if by != nil {
		b := *by
		n.AcknowledgedBy = &b
	}
	if at != nil {
		t := *at
		n.AcknowledgedAt = &t
	}
}

// ListParams holds the query for a page of notifications
type ListParams struct {
	Page         int      `json:"page,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Status       Status   `json:"status,omitempty"`
	Acknowledged *bool    `json:"acknowledged,omitempty"`
	Severity     Severity `json:"severity,omitempty"`
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
}

// WithDefaults fills page 1 and the given limit when unset
func (p ListParams) WithDefaults(limit int) ListParams {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = limit
	}
	return p
}

// NotificationsResponse is the backend's paginated list body
type NotificationsResponse struct {
	Success       bool           `json:"success"`
	Notifications []Notification `json:"notifications"`
	TotalPages    int            `json:"totalPages"`
	CurrentPage   int            `json:"currentPage"`
	TotalCount    int            `json:"totalCount"`
}

// CountResponse is the backend's unacknowledged count body
type CountResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// AcknowledgeResponse is the backend's acknowledge body
type AcknowledgeResponse struct {
	Success      bool          `json:"success"`
	Notification *Notification `json:"notification,omitempty"`
}

// DeleteResponse is the backend's delete confirmation body
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON error body the backend returns on failures
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Detail returns whichever error text the body carries
func (e ErrorResponse) Detail() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
