package models

import "time"

// Journal sources describe how a notification reached this client
const (
	SourceFetch = "fetch"
	SourcePush  = "push"
)

// Acknowledgement origins
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// JournalEntry is a notification as recorded by the local journal
type JournalEntry struct {
	Notification
	Source     string     `json:"source" db:"source"`
	ReceivedAt time.Time  `json:"receivedAt" db:"received_at"`
	AckOrigin  string     `json:"ackOrigin,omitempty" db:"ack_origin"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

// SessionEvent records a push channel or session transition
type SessionEvent struct {
	ID        string          `json:"id" db:"id"`
	State     ConnectionState `json:"state" db:"state"`
	Detail    string          `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// JournalFilter for querying journaled notifications
type JournalFilter struct {
	Status         *Status    `json:"status,omitempty"`
	Severity       *Severity  `json:"severity,omitempty"`
	Acknowledged   *bool      `json:"acknowledged,omitempty"`
	Tag            *string    `json:"tag,omitempty"`
	Since          *time.Time `json:"since,omitempty"`
	IncludeDeleted bool       `json:"includeDeleted,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}
