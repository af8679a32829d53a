package mycontacts

import (
	"errors"

	"github.com/disciple-tools/homescreen-apps/internal/fields"
	"github.com/disciple-tools/homescreen-apps/internal/timeline"
)

// Limits applied by the my-contacts workflow.
const (
	ListLimit     = 100
	CommentLimit  = 50
	ActivityLimit = 50
	MentionLimit  = 10
	OptionLimit   = 20
)

// Contact sources in the list.
const (
	SourceSubassigned = "subassigned"
	SourceAssigned    = "assigned"
)

var (
	// ErrMissingParams marks a request without its required ids or text.
	ErrMissingParams = errors.New("missing params")

	// ErrAccessDenied is returned for contacts outside the owner's reach.
	ErrAccessDenied = errors.New("access denied")

	// ErrOwnerNotFound is returned when the magic link owner record is gone.
	ErrOwnerNotFound = errors.New("owner contact not found")
)

type paramError string

func (e paramError) Error() string { return string(e) }

func (e paramError) Is(target error) bool { return target == ErrMissingParams }

// ContactItem is one row of the owner's contact list.
type ContactItem struct {
	ID                    int64  `json:"ID"`
	Name                  string `json:"name"`
	OverallStatus         string `json:"overall_status"`
	OverallStatusColor    string `json:"overall_status_color"`
	SeekerPath            string `json:"seeker_path"`
	LastModified          string `json:"last_modified"`
	LastModifiedTimestamp int64  `json:"last_modified_timestamp"`
	Source                string `json:"source"`
}

// ContactList is the owner's contact list.
type ContactList struct {
	Contacts       []ContactItem `json:"contacts"`
	Total          int           `json:"total"`
	OwnerContactID int64         `json:"owner_contact_id"`
}

// ContactDetail is a contact with editable tiles and its merged timeline. Groups holds
// the same timeline with consecutive activity entries collapsed.
type ContactDetail struct {
	ID           int64                               `json:"ID"`
	Name         string                              `json:"name"`
	Tiles        []fields.Tile[fields.EditableField] `json:"tiles"`
	Created      string                              `json:"created"`
	LastModified string                              `json:"last_modified"`
	Activity     []timeline.Entry                    `json:"activity"`
	Groups       []timeline.Group                    `json:"groups"`
}

// CommentResult confirms a new comment.
type CommentResult struct {
	Success   bool   `json:"success"`
	ContactID int64  `json:"contact_id"`
	CommentID int64  `json:"comment_id"`
	Rendered  string `json:"rendered"`
}

// UpdateResult carries the stored value after a field update.
type UpdateResult struct {
	Success   bool   `json:"success"`
	ContactID int64  `json:"contact_id"`
	FieldKey  string `json:"field_key"`
	Value     string `json:"value"`
	RawValue  any    `json:"raw_value"`
}

// Option is one typeahead choice.
type Option struct {
	ID     any            `json:"id"`
	Label  string         `json:"label"`
	Link   string         `json:"link,omitempty"`
	Status *fields.Status `json:"status,omitempty"`
}

// OptionList is the field-options response.
type OptionList struct {
	Success bool     `json:"success"`
	Options []Option `json:"options"`
}
