package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/mention"
)

// Lookup resolves the record and users a comment event names.
type Lookup interface {
	GetRecord(ctx context.Context, postType string, id int64) (crm.Record, error)
	GetUser(ctx context.Context, id int64) (crm.User, error)
}

// Comment emits the commented event for c with its mentioned users resolved.
// Mentions of unknown users are dropped.
func (s *Service) Comment(ctx context.Context, lookup Lookup, c crm.Comment) {
	if s == nil {
		return
	}
	event := Commented{
		ContactID: c.PostID,
		CommentID: c.ID,
		AuthorID:  c.UserID,
		Author:    c.Author,
	}
	if rec, err := lookup.GetRecord(ctx, c.PostType, c.PostID); err == nil {
		event.ContactName = rec.Name()
	}
	for _, id := range mention.UserIDs(c.Content) {
		u, err := lookup.GetUser(ctx, id)
		if err != nil {
			if !errors.Is(err, crm.ErrUserNotFound) {
				s.logger.Warn("mention lookup failed", slog.Int64("user_id", id), slog.Any("error", err))
			}
			continue
		}
		event.Mentioned = append(event.Mentioned, Recipient{UserID: u.ID, Name: u.DisplayName, Email: u.Email})
	}
	s.Emit(ctx, EventCommented, event)
}
