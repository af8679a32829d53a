// Package notify emits contact events to RabbitMQ and email.
package notify

import "time"

// Event types, versioned by suffix.
const (
	EventAssigned         = "contacts.assigned.v1"
	EventCommented        = "contacts.commented.v1"
	EventFieldUpdated     = "contacts.field_updated.v1"
	EventUnassignedDigest = "contacts.unassigned_digest.v1"
	EventRecordSubmitted  = "records.submitted.v1"
)

// DefaultProducer tags events this service emits.
const DefaultProducer = "homescreen-apps"

// Meta describes one emitted event.
type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Request correlation ID, defaults to ID
	CorrelationID string `json:"correlation_id,omitempty"`
	// Emitting service
	Producer string `json:"producer,omitempty"`
	// Emission time
	Time time.Time `json:"time"`
	// Event name and version, e.g. contacts.assigned.v1
	Type string `json:"type"`
}

// Envelope wraps an event payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Recipient is a user an event concerns.
type Recipient struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"-"`
}

// Assigned is emitted when a dispatcher assigns a contact.
type Assigned struct {
	ContactID   int64     `json:"contact_id"`
	ContactName string    `json:"contact_name"`
	AssignedBy  int64     `json:"assigned_by"`
	Assignee    Recipient `json:"assignee"`
	Link        string    `json:"link,omitempty"`
}

// Commented is emitted for every new comment; Mentioned lists the @mentioned users.
type Commented struct {
	ContactID   int64       `json:"contact_id"`
	ContactName string      `json:"contact_name"`
	CommentID   int64       `json:"comment_id"`
	AuthorID    int64       `json:"author_id"`
	Author      string      `json:"author"`
	Mentioned   []Recipient `json:"mentioned,omitempty"`
	Link        string      `json:"link,omitempty"`
}

// FieldUpdated is emitted when a contact field changes through a magic link.
type FieldUpdated struct {
	ContactID int64  `json:"contact_id"`
	FieldKey  string `json:"field_key"`
	UserID    int64  `json:"user_id"`
}

// StaleContact is one entry of the unassigned digest.
type StaleContact struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	AgeDays int    `json:"age_days"`
}

// UnassignedDigest lists contacts left unassigned past the configured age.
type UnassignedDigest struct {
	StaleAfterDays int            `json:"stale_after_days"`
	Contacts       []StaleContact `json:"contacts"`
	Recipients     []Recipient    `json:"recipients,omitempty"`
}

// RecordSubmitted is emitted when a template that sends submission notifications creates
// a record.
type RecordSubmitted struct {
	TemplateID string `json:"template_id"`
	PostType   string `json:"post_type"`
	RecordID   int64  `json:"record_id"`
	RecordName string `json:"record_name"`
	OwnerID    int64  `json:"owner_id"`
}
