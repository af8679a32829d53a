package dispatcher

import (
	"errors"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/fields"
)

// Limits applied by the dispatcher workflow.
const (
	ContactLimit = 100
	CommentLimit = 50
	MentionLimit = 10
)

// ErrMissingParams marks a request without its required ids or text.
var ErrMissingParams = errors.New("missing params")

type paramError string

func (e paramError) Error() string { return string(e) }

func (e paramError) Is(target error) bool { return target == ErrMissingParams }

// ContactSummary is one row of the unassigned queue.
type ContactSummary struct {
	ID       int64  `json:"ID"`
	Name     string `json:"name"`
	Location string `json:"location"`
	AgeDays  int    `json:"age_days"`
	Source   string `json:"source"`
}

// ContactList is the unassigned queue.
type ContactList struct {
	Contacts []ContactSummary `json:"contacts"`
	Total    int              `json:"total"`
}

// Comment is a stored comment with its rendered HTML.
type Comment struct {
	crm.Comment
	Rendered string `json:"rendered"`
}

// ContactDetail is a contact as the dispatcher reviews it before assigning.
type ContactDetail struct {
	ID          int64                              `json:"ID"`
	Name        string                             `json:"name"`
	Tiles       []fields.Tile[fields.SummaryField] `json:"tiles"`
	AgeDays     int                                `json:"age_days"`
	Created     string                             `json:"created"`
	Comments    []Comment                          `json:"comments"`
	LocationIDs []int64                            `json:"location_ids"`
	Languages   []string                           `json:"languages"`
}

// UserMatch is a multiplier scored against a contact.
type UserMatch struct {
	ID                int64    `json:"ID"`
	DisplayName       string   `json:"display_name"`
	UserStatus        string   `json:"user_status"`
	WorkloadStatus    string   `json:"workload_status"`
	Locations         []string `json:"locations"`
	ActiveContacts    int      `json:"active_contacts"`
	AssignedContacts  int      `json:"assigned_contacts"`
	PendingContacts   int      `json:"pending_contacts"`
	LanguageMatch     bool     `json:"language_match"`
	LocationMatch     bool     `json:"location_match"`
	LocationLevel     *int     `json:"location_level"`
	BestLocationMatch string   `json:"best_location_match"`
	MatchScore        int      `json:"match_score"`
}

// UserList is the ranked multiplier list.
type UserList struct {
	Users []UserMatch `json:"users"`
	Total int         `json:"total"`
}

// AssignResult confirms an assignment.
type AssignResult struct {
	Success   bool   `json:"success"`
	ContactID int64  `json:"contact_id"`
	UserID    int64  `json:"user_id"`
	Message   string `json:"message"`
}

// CommentResult confirms a new comment.
type CommentResult struct {
	Success   bool   `json:"success"`
	ContactID int64  `json:"contact_id"`
	CommentID int64  `json:"comment_id"`
	Rendered  string `json:"rendered"`
}

// MentionUsers lists users a comment can mention.
type MentionUsers struct {
	Users []crm.UserRef `json:"users"`
}
