// Package mycontacts implements the my-contacts magic link: a contact record's view of
// the contacts sub-assigned to it or assigned to its corresponding user.
package mycontacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/fields"
	"github.com/disciple-tools/homescreen-apps/internal/mention"
	"github.com/disciple-tools/homescreen-apps/internal/notify"
	"github.com/disciple-tools/homescreen-apps/internal/timeline"
)

// Service runs my-contacts operations for a verified owner contact.
type Service struct {
	store  crm.Store
	notify *notify.Service
	logger *slog.Logger
}

// NewService creates the my-contacts service. notifier may be nil.
func NewService(log *slog.Logger, store crm.Store, notifier *notify.Service) *Service {
	return &Service{
		store:  store,
		notify: notifier,
		logger: log.With(slog.String("service", "mycontacts")),
	}
}

func (s *Service) owner(ctx context.Context, ownerID int64) (crm.Record, error) {
	rec, err := s.store.GetRecord(ctx, crm.PostTypeContacts, ownerID)
	if err != nil {
		if errors.Is(err, crm.ErrNotFound) {
			return crm.Record{}, ErrOwnerNotFound
		}
		return crm.Record{}, err
	}
	return rec, nil
}

// Contacts lists the owner's sub-assigned contacts followed by those assigned to the
// owner's corresponding user, without duplicates or the owner, most recently modified first.
func (s *Service) Contacts(ctx context.Context, ownerID int64) (ContactList, error) {
	owner, err := s.owner(ctx, ownerID)
	if err != nil {
		return ContactList{}, err
	}
	settings, err := s.store.FieldSettings(ctx, crm.PostTypeContacts)
	if err != nil {
		return ContactList{}, fmt.Errorf("field settings: %w", err)
	}

	out := []ContactItem{}
	added := map[int64]bool{}
	for _, id := range owner.IDs(crm.FieldSubassigned) {
		if added[id] {
			continue
		}
		rec, err := s.store.GetRecord(ctx, crm.PostTypeContacts, id)
		if err != nil {
			if errors.Is(err, crm.ErrNotFound) {
				continue
			}
			return ContactList{}, err
		}
		out = append(out, listItem(rec, settings, SourceSubassigned))
		added[id] = true
	}

	if userID := owner.UserID(crm.FieldCorrespondsToUser); userID > 0 {
		recs, err := s.store.ListRecords(ctx, crm.ListQuery{
			PostType: crm.PostTypeContacts,
			Filters:  []crm.Filter{{Field: crm.FieldAssignedTo, Values: []string{strconv.FormatInt(userID, 10)}}},
			Sort:     crm.SortRecentlyModified,
			Limit:    ListLimit,
		})
		if err != nil {
			return ContactList{}, fmt.Errorf("list assigned: %w", err)
		}
		for _, rec := range recs {
			if added[rec.ID] || rec.ID == ownerID {
				continue
			}
			out = append(out, listItem(rec, settings, SourceAssigned))
			added[rec.ID] = true
		}
	}

	slices.SortStableFunc(out, func(a, b ContactItem) int {
		switch {
		case a.LastModifiedTimestamp > b.LastModifiedTimestamp:
			return -1
		case a.LastModifiedTimestamp < b.LastModifiedTimestamp:
			return 1
		}
		return 0
	})
	return ContactList{Contacts: out, Total: len(out), OwnerContactID: ownerID}, nil
}

func listItem(rec crm.Record, settings []fields.Setting, source string) ContactItem {
	item := ContactItem{ID: rec.ID, Name: rec.Name(), Source: source}
	byKey := map[string]fields.Setting{}
	for _, s := range settings {
		byKey[s.Key] = s
	}
	if v, ok := fields.Decode(byKey[crm.FieldOverallStatus], rec.Raw(crm.FieldOverallStatus)).(fields.KeySelect); ok {
		item.OverallStatus = v.Label
		item.OverallStatusColor = v.Color
	}
	if v, ok := fields.Decode(byKey[crm.FieldSeekerPath], rec.Raw(crm.FieldSeekerPath)).(fields.KeySelect); ok {
		item.SeekerPath = v.Label
	}
	var modified fields.Date
	if json.Unmarshal(rec.Raw(crm.FieldLastModified), &modified) == nil {
		item.LastModified = modified.Formatted
		item.LastModifiedTimestamp = modified.Timestamp
	}
	return item
}

// CanAccess reports whether the owner may open the contact: it must be sub-assigned to
// the owner or assigned to the owner's corresponding user. The owner itself is never
// accessible.
func (s *Service) CanAccess(ctx context.Context, ownerID, contactID int64) (bool, error) {
	if ownerID == contactID {
		return false, nil
	}
	owner, err := s.store.GetRecord(ctx, crm.PostTypeContacts, ownerID)
	if err != nil {
		if errors.Is(err, crm.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if slices.Contains(owner.IDs(crm.FieldSubassigned), contactID) {
		return true, nil
	}
	userID := owner.UserID(crm.FieldCorrespondsToUser)
	if userID <= 0 {
		return false, nil
	}
	contact, err := s.store.GetRecord(ctx, crm.PostTypeContacts, contactID)
	if err != nil {
		if errors.Is(err, crm.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return contact.UserID(crm.FieldAssignedTo) == userID, nil
}

func (s *Service) requireAccess(ctx context.Context, ownerID, contactID int64) error {
	ok, err := s.CanAccess(ctx, ownerID, contactID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

// Contact returns a contact's editable tiles and its merged comment and activity feed.
func (s *Service) Contact(ctx context.Context, ownerID, contactID int64) (ContactDetail, error) {
	if contactID <= 0 {
		return ContactDetail{}, paramError("Contact ID is required")
	}
	if err := s.requireAccess(ctx, ownerID, contactID); err != nil {
		return ContactDetail{}, err
	}
	rec, err := s.store.GetRecord(ctx, crm.PostTypeContacts, contactID)
	if err != nil {
		return ContactDetail{}, err
	}
	settings, err := s.store.FieldSettings(ctx, crm.PostTypeContacts)
	if err != nil {
		return ContactDetail{}, fmt.Errorf("field settings: %w", err)
	}
	tiles, err := s.store.Tiles(ctx, crm.PostTypeContacts)
	if err != nil {
		return ContactDetail{}, fmt.Errorf("tiles: %w", err)
	}
	feed, err := s.feed(ctx, contactID, settings)
	if err != nil {
		return ContactDetail{}, err
	}
	return ContactDetail{
		ID:           rec.ID,
		Name:         rec.Name(),
		Tiles:        fields.EditableTiles(rec.Fields, settings, tiles),
		Created:      formattedDate(rec, crm.FieldPostDate),
		LastModified: formattedDate(rec, crm.FieldLastModified),
		Activity:     feed,
		Groups:       timeline.Collapse(feed),
	}, nil
}

func (s *Service) feed(ctx context.Context, contactID int64, settings []fields.Setting) ([]timeline.Entry, error) {
	comments, err := s.store.ListComments(ctx, crm.PostTypeContacts, contactID, CommentLimit)
	if err != nil {
		return nil, fmt.Errorf("comments: %w", err)
	}
	rows, err := s.store.ListActivity(ctx, crm.PostTypeContacts, contactID, ActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("activity: %w", err)
	}

	tc := make([]timeline.Comment, 0, len(comments))
	for _, c := range comments {
		tc = append(tc, timeline.Comment{ID: c.ID, Content: c.Content, Author: c.Author, Date: c.CreatedAt})
	}
	ta := make([]timeline.Activity, 0, len(rows))
	var userIDs []int64
	for _, a := range rows {
		ta = append(ta, timeline.Activity{
			ID:         a.ID,
			Action:     a.Action,
			ObjectNote: a.ObjectNote,
			MetaKey:    a.MetaKey,
			MetaValue:  a.MetaValue,
			OldValue:   a.OldValue,
			UserID:     a.UserID,
			Timestamp:  a.Time,
		})
		if a.UserID > 0 {
			userIDs = append(userIDs, a.UserID)
		}
	}
	names := map[int64]string{}
	if len(userIDs) > 0 {
		if names, err = s.store.DisplayNames(ctx, userIDs); err != nil {
			return nil, fmt.Errorf("display names: %w", err)
		}
	}
	fieldNames := map[string]string{}
	for _, st := range settings {
		fieldNames[st.Key] = st.Name
	}
	return timeline.Merge(tc, timeline.Visible(ta), timeline.Resolver{
		FieldName: func(key string) string { return fieldNames[key] },
		UserName:  func(id int64) string { return names[id] },
	}), nil
}

func formattedDate(rec crm.Record, key string) string {
	var d fields.Date
	if json.Unmarshal(rec.Raw(key), &d) != nil {
		return ""
	}
	return d.Formatted
}

// Comment adds a comment on behalf of the owner.
func (s *Service) Comment(ctx context.Context, ownerID, contactID int64, text string) (CommentResult, error) {
	if contactID <= 0 || strings.TrimSpace(text) == "" {
		return CommentResult{}, paramError("Contact ID and comment are required")
	}
	if err := s.requireAccess(ctx, ownerID, contactID); err != nil {
		return CommentResult{}, err
	}
	owner, err := s.owner(ctx, ownerID)
	if err != nil {
		return CommentResult{}, err
	}
	c, err := s.store.AddComment(ctx, crm.NewComment{
		PostType: crm.PostTypeContacts,
		PostID:   contactID,
		UserID:   owner.UserID(crm.FieldCorrespondsToUser),
		Author:   owner.Name(),
		Content:  text,
		Type:     crm.ActionComment,
	})
	if err != nil {
		return CommentResult{}, err
	}
	s.notify.Comment(ctx, s.store, c)
	return CommentResult{
		Success:   true,
		ContactID: contactID,
		CommentID: c.ID,
		Rendered:  mention.Render(c.Content),
	}, nil
}

// MentionUsers lists users whose display name contains search.
func (s *Service) MentionUsers(ctx context.Context, search string) ([]crm.UserRef, error) {
	users, err := s.store.SearchUsers(ctx, strings.TrimSpace(search), MentionLimit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

// UpdateField converts an edit component value into the store's update shape, applies it
// and returns the stored value formatted for display and editing.
func (s *Service) UpdateField(ctx context.Context, ownerID, contactID int64, key string, value json.RawMessage) (UpdateResult, error) {
	key = strings.TrimSpace(key)
	if contactID <= 0 || key == "" {
		return UpdateResult{}, paramError("Contact ID and field key are required")
	}
	if err := s.requireAccess(ctx, ownerID, contactID); err != nil {
		return UpdateResult{}, err
	}
	settings, err := s.store.FieldSettings(ctx, crm.PostTypeContacts)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("field settings: %w", err)
	}
	setting := fields.Setting{Key: key, Type: string(fields.TypeText)}
	for _, st := range settings {
		if st.Key == key {
			setting = st
			break
		}
	}
	owner, err := s.owner(ctx, ownerID)
	if err != nil {
		return UpdateResult{}, err
	}
	userID := owner.UserID(crm.FieldCorrespondsToUser)

	rec, err := s.store.UpdateRecord(ctx, crm.PostTypeContacts, contactID, map[string]any{
		key: fields.ToUpdate(setting.Kind(), value),
	}, userID)
	if err != nil {
		return UpdateResult{}, err
	}
	stored := fields.Decode(setting, rec.Raw(key))
	s.logger.Info("field updated", slog.Int64("contact_id", contactID), slog.String("field", key), slog.Int64("owner_id", ownerID))
	s.notify.Emit(ctx, notify.EventFieldUpdated, notify.FieldUpdated{ContactID: contactID, FieldKey: key, UserID: userID})
	return UpdateResult{
		Success:   true,
		ContactID: contactID,
		FieldKey:  key,
		Value:     fields.FormatEditable(stored, setting),
		RawValue:  fields.RawValue(stored),
	}, nil
}

// FieldOptions searches choices for connection, location and tags editors. Other field
// types have none.
func (s *Service) FieldOptions(ctx context.Context, fieldKey, query, postType string) (OptionList, error) {
	fieldKey = strings.TrimSpace(fieldKey)
	if fieldKey == "" {
		return OptionList{}, paramError("Field key is required")
	}
	settings, err := s.store.FieldSettings(ctx, crm.PostTypeContacts)
	if err != nil {
		return OptionList{}, fmt.Errorf("field settings: %w", err)
	}
	var setting fields.Setting
	for _, st := range settings {
		if st.Key == fieldKey {
			setting = st
			break
		}
	}
	query = strings.TrimSpace(query)
	out := []Option{}

	switch setting.Kind() {
	case fields.TypeConnection:
		target := setting.PostType
		if target == "" {
			target = postType
		}
		if target == "" {
			target = crm.PostTypeContacts
		}
		recs, err := s.store.SearchRecords(ctx, target, query, OptionLimit)
		if err != nil {
			return OptionList{}, fmt.Errorf("search %s: %w", target, err)
		}
		targetSettings, err := s.store.FieldSettings(ctx, target)
		if err != nil {
			return OptionList{}, fmt.Errorf("field settings %s: %w", target, err)
		}
		for _, rec := range recs {
			ref := crm.CompactRef(rec, targetSettings)
			out = append(out, Option{ID: ref.ID, Label: ref.PostTitle, Link: ref.Permalink, Status: ref.Status})
		}

	case fields.TypeLocation:
		locs, err := s.store.SearchLocations(ctx, query, OptionLimit)
		if err != nil {
			return OptionList{}, fmt.Errorf("search locations: %w", err)
		}
		for _, l := range locs {
			out = append(out, Option{ID: strconv.FormatInt(l.GridID, 10), Label: l.Label()})
		}

	case fields.TypeTags:
		tags, err := s.store.MultiSelectOptions(ctx, crm.PostTypeContacts, fieldKey)
		if err != nil {
			return OptionList{}, fmt.Errorf("tags: %w", err)
		}
		q := strings.ToLower(query)
		for _, tag := range tags {
			if q == "" || strings.Contains(strings.ToLower(tag), q) {
				out = append(out, Option{ID: tag, Label: tag})
			}
		}
	}
	return OptionList{Success: true, Options: out}, nil
}
