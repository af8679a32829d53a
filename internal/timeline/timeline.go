// Package timeline merges a record's comments and activity log into one feed.
package timeline

import (
	"fmt"
	"slices"
	"time"
)

// Entry types.
const (
	TypeComment       = "comment"
	TypeActivity      = "activity"
	TypeActivityGroup = "activity-group"
)

// SystemAuthor names activity recorded without a user.
const SystemAuthor = "System"

// hiddenActions are activity actions that never reach the feed.
var hiddenActions = []string{"connected to", "disconnected from"}

// Comment is a record comment.
type Comment struct {
	ID      int64
	Content string
	Author  string
	Date    time.Time
}

// Activity is one activity log row.
type Activity struct {
	ID         int64
	Action     string
	ObjectNote string
	MetaKey    string
	MetaValue  string
	OldValue   string
	UserID     int64
	Timestamp  int64
}

// Entry is one item of the merged feed.
type Entry struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	Date      string `json:"date"`
	Timestamp int64  `json:"timestamp"`
}

// Group is a feed item: a single comment, or a run of consecutive activity entries.
type Group struct {
	Type  string  `json:"type"`
	Entry *Entry  `json:"entry,omitempty"`
	Items []Entry `json:"items,omitempty"`
}

// Resolver supplies the names the feed displays.
type Resolver struct {
	// FieldName returns the display name of a field key.
	FieldName func(key string) string
	// UserName returns the display name of a user, "" when unknown.
	UserName func(id int64) string
	// DateLayout formats entry dates; defaults to "2006-01-02 15:04:05".
	DateLayout string
}

// Visible drops activity rows whose action is not user-facing.
func Visible(items []Activity) []Activity {
	out := make([]Activity, 0, len(items))
	for _, item := range items {
		if slices.Contains(hiddenActions, item.Action) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Describe renders an activity row as text. The object note wins when present; otherwise
// only field updates and creation are described and every other action yields "".
func Describe(item Activity, fieldName func(string) string) string {
	if item.ObjectNote != "" {
		return item.ObjectNote
	}
	switch item.Action {
	case "field_update":
		name := item.MetaKey
		if fieldName != nil {
			if n := fieldName(item.MetaKey); n != "" {
				name = n
			}
		}
		return fmt.Sprintf("Updated %s", name)
	case "created":
		return "Contact created"
	default:
		return ""
	}
}

// Merge builds the feed, newest first. Comment actions in the activity log are skipped
// since comments arrive separately; activity without a description is dropped. Entries
// with equal timestamps keep their input order, comments before activity.
func Merge(comments []Comment, activity []Activity, r Resolver) []Entry {
	layout := r.DateLayout
	if layout == "" {
		layout = time.DateTime
	}
	merged := make([]Entry, 0, len(comments)+len(activity))
	for _, c := range comments {
		var ts int64
		date := ""
		if !c.Date.IsZero() {
			ts = c.Date.Unix()
			date = c.Date.UTC().Format(layout)
		}
		merged = append(merged, Entry{
			Type:      TypeComment,
			ID:        c.ID,
			Content:   c.Content,
			Author:    c.Author,
			Date:      date,
			Timestamp: ts,
		})
	}
	for _, item := range activity {
		if item.Action == TypeComment {
			continue
		}
		description := Describe(item, r.FieldName)
		if description == "" {
			continue
		}
		author := SystemAuthor
		if item.UserID != 0 && r.UserName != nil {
			if name := r.UserName(item.UserID); name != "" {
				author = name
			}
		}
		date := ""
		if item.Timestamp != 0 {
			date = time.Unix(item.Timestamp, 0).UTC().Format(layout)
		}
		merged = append(merged, Entry{
			Type:      TypeActivity,
			ID:        item.ID,
			Content:   description,
			Author:    author,
			Date:      date,
			Timestamp: item.Timestamp,
		})
	}
	slices.SortStableFunc(merged, func(a, b Entry) int {
		switch {
		case a.Timestamp > b.Timestamp:
			return -1
		case a.Timestamp < b.Timestamp:
			return 1
		}
		return 0
	})
	return merged
}

// Collapse groups consecutive activity entries while keeping each comment on its own.
func Collapse(entries []Entry) []Group {
	var out []Group
	var run []Entry
	flush := func() {
		if len(run) > 0 {
			out = append(out, Group{Type: TypeActivityGroup, Items: run})
			run = nil
		}
	}
	for i := range entries {
		if entries[i].Type == TypeComment {
			flush()
			entry := entries[i]
			out = append(out, Group{Type: TypeComment, Entry: &entry})
			continue
		}
		run = append(run, entries[i])
	}
	flush()
	return out
}
