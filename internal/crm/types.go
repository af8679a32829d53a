// Package crm is the record store behind the magic-link apps: posts with JSON field
// values, comments, the activity log, users, the location grid and record meta.
//
// Field values are persisted in canonical form (option keys, record ids, grid ids, user
// ids, unix timestamps) and hydrated on read into the shapes fields.Decode understands.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/disciple-tools/homescreen-apps/internal/fields"
)

// Post types.
const (
	PostTypeContacts = "contacts"
	PostTypeGroups   = "groups"
)

// Well-known field keys.
const (
	FieldName              = "name"
	FieldAssignedTo        = "assigned_to"
	FieldOverallStatus     = "overall_status"
	FieldGroupStatus       = "group_status"
	FieldSubassigned       = "subassigned"
	FieldCorrespondsToUser = "corresponds_to_user"
	FieldLocationGrid      = "location_grid"
	FieldLanguages         = "languages"
	FieldSources           = "sources"
	FieldSeekerPath        = "seeker_path"
	FieldPostDate          = "post_date"
	FieldLastModified      = "last_modified"
)

// Overall status keys.
const (
	StatusUnassigned = "unassigned"
	StatusAssigned   = "assigned"
	StatusActive     = "active"
)

// Activity actions.
const (
	ActionCreated      = "created"
	ActionFieldUpdate  = "field_update"
	ActionComment      = "comment"
	ActionConnected    = "connected to"
	ActionDisconnected = "disconnected from"
)

// Meta owner types.
const (
	OwnerPost = "post"
	OwnerUser = "user"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrUserNotFound = errors.New("user not found")
	ErrMetaNotFound = errors.New("meta not found")
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid field value")
	ErrUserExists   = errors.New("username already taken")
)

// Record is one post. Fields holds stored values keyed by field key.
type Record struct {
	ID         int64
	PostType   string
	Title      string
	Fields     map[string]json.RawMessage
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Raw returns the value of key, nil when unset.
func (r Record) Raw(key string) json.RawMessage {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}

// Name returns the record title, "Unknown" when it has none.
func (r Record) Name() string {
	if r.Title != "" {
		return r.Title
	}
	if s, ok := stringOf(r.Raw(FieldName)); ok && s != "" {
		return s
	}
	return "Unknown"
}

// Key returns the option key of a key_select value in either form.
func (r Record) Key(key string) string {
	raw := r.Raw(key)
	if s, ok := stringOf(raw); ok {
		return s
	}
	var obj struct {
		Key string `json:"key"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Key
	}
	return ""
}

// UserID returns the user referenced by a user_select value in either form.
func (r Record) UserID(key string) int64 {
	raw := r.Raw(key)
	var obj struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil && len(obj.ID) > 0 {
		raw = obj.ID
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return 0
	}
	if n, ok := v.(float64); ok {
		return int64(n)
	}
	id, _ := fields.ParseUserRef(v)
	return id
}

// IDs returns the ids of a connection or location value in either form.
func (r Record) IDs(key string) []int64 {
	var elems []json.RawMessage
	if json.Unmarshal(r.Raw(key), &elems) != nil {
		return nil
	}
	out := make([]int64, 0, len(elems))
	for _, elem := range elems {
		if id, ok := int64Of(elem); ok {
			out = append(out, id)
			continue
		}
		var obj struct {
			ID     json.RawMessage `json:"ID"`
			LowID  json.RawMessage `json:"id"`
			GridID json.RawMessage `json:"grid_id"`
		}
		if json.Unmarshal(elem, &obj) != nil {
			continue
		}
		for _, candidate := range []json.RawMessage{obj.ID, obj.LowID, obj.GridID} {
			if id, ok := int64Of(candidate); ok {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Keys returns the keys of a multi_select or tags value.
func (r Record) Keys(key string) []string {
	var elems []json.RawMessage
	if json.Unmarshal(r.Raw(key), &elems) != nil {
		return nil
	}
	out := make([]string, 0, len(elems))
	for _, elem := range elems {
		if s, ok := stringOf(elem); ok {
			out = append(out, s)
			continue
		}
		var obj struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if json.Unmarshal(elem, &obj) == nil {
			if obj.Key != "" {
				out = append(out, obj.Key)
			} else if obj.Value != "" {
				out = append(out, obj.Value)
			}
		}
	}
	return out
}

// AgeDays is the number of whole days since the record was created.
func (r Record) AgeDays(now time.Time) int {
	if r.CreatedAt.IsZero() || now.Before(r.CreatedAt) {
		return 0
	}
	return int(now.Sub(r.CreatedAt) / (24 * time.Hour))
}

// Filter matches records whose field equals, or as a list contains, any of Values.
type Filter struct {
	Field  string
	Values []string
}

// Sort orders understood by ListRecords.
const (
	SortNewest           = "-post_date"
	SortOldest           = "post_date"
	SortRecentlyModified = "-last_modified"
	SortName             = "name"
)

// ListQuery selects records of one post type.
type ListQuery struct {
	PostType string
	Filters  []Filter
	Sort     string
	Limit    int
}

// Comment is a comment on a record.
type Comment struct {
	ID        int64     `json:"comment_ID"`
	PostID    int64     `json:"comment_post_ID"`
	PostType  string    `json:"-"`
	UserID    int64     `json:"user_id"`
	Author    string    `json:"comment_author"`
	Content   string    `json:"comment_content"`
	Type      string    `json:"comment_type"`
	CreatedAt time.Time `json:"comment_date"`
}

// NewComment is the input of AddComment.
type NewComment struct {
	PostType string
	PostID   int64
	UserID   int64
	Author   string
	Content  string
	Type     string
}

// Activity is one activity log row.
type Activity struct {
	ID         int64
	ObjectID   int64
	ObjectType string
	Action     string
	ObjectNote string
	MetaKey    string
	MetaValue  string
	OldValue   string
	UserID     int64
	Time       int64
}

// User is a CRM user with workload counters.
type User struct {
	ID               int64
	Username         string
	DisplayName      string
	Email            string
	PasswordHash     string
	Roles            []string
	UserStatus       string
	WorkloadStatus   string
	Languages        []string
	LocationGridIDs  []int64
	ContactID        int64
	IsActive         bool
	CreatedAt        time.Time
	LastLoginAt      time.Time
	ActiveContacts   int
	AssignedContacts int
	PendingContacts  int
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Username        string
	DisplayName     string
	Email           string
	PasswordHash    string
	Roles           []string
	Languages       []string
	LocationGridIDs []int64
	ContactID       int64
}

// UserRef is the compact user shape for pickers.
type UserRef struct {
	ID          int64  `json:"ID"`
	DisplayName string `json:"display_name"`
}

// Location is one location grid node.
type Location struct {
	GridID   int64
	Name     string
	AltName  string
	Level    int
	ParentID int64
	Admin    [6]int64
}

// Label is the display name of the node.
func (l Location) Label() string {
	if l.Name != "" {
		return l.Name
	}
	return l.AltName
}

// Meta is one record meta row.
type Meta struct {
	OwnerType string
	OwnerID   int64
	Key       string
	Value     string
}

// Source supplies what hydration needs.
type Source interface {
	RawRecords(ctx context.Context, postType string, ids []int64) ([]Record, error)
	FieldSettings(ctx context.Context, postType string) ([]fields.Setting, error)
	LocationNames(ctx context.Context, ids []int64) (map[int64]string, error)
	DisplayNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Store is the full CRM store.
type Store interface {
	Source

	GetRecord(ctx context.Context, postType string, id int64) (Record, error)
	ListRecords(ctx context.Context, q ListQuery) ([]Record, error)
	SearchRecords(ctx context.Context, postType, query string, limit int) ([]Record, error)
	CreateRecord(ctx context.Context, postType string, values map[string]any, userID int64) (Record, error)
	UpdateRecord(ctx context.Context, postType string, id int64, values map[string]any, userID int64) (Record, error)
	Tiles(ctx context.Context, postType string) ([]fields.TileSetting, error)
	MultiSelectOptions(ctx context.Context, postType, field string) ([]string, error)

	ListComments(ctx context.Context, postType string, postID int64, limit int) ([]Comment, error)
	AddComment(ctx context.Context, c NewComment) (Comment, error)
	ListActivity(ctx context.Context, postType string, postID int64, limit int) ([]Activity, error)

	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, u NewUser) (User, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	ListUsers(ctx context.Context) ([]User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]UserRef, error)

	GetLocations(ctx context.Context, ids []int64) ([]Location, error)
	SearchLocations(ctx context.Context, query string, limit int) ([]Location, error)

	LookupMeta(ctx context.Context, key, value string) (Meta, error)
	GetMeta(ctx context.Context, ownerType string, ownerID int64, key string) (Meta, error)
	SetMeta(ctx context.Context, m Meta) error
}

// likePattern escapes a search term for a substring ILIKE match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func stringOf(raw json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	return "", false
}

func int64Of(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && s != "" {
		if i, err := json.Number(s).Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}
