// Package dispatcher implements the dispatcher workflow: review unassigned contacts, rank
// multipliers against one and assign it.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/fields"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/matching"
	"github.com/disciple-tools/homescreen-apps/internal/mention"
	"github.com/disciple-tools/homescreen-apps/internal/notify"
)

// Linker issues the magic link an assignee opens their contacts with.
type Linker interface {
	Issue(ctx context.Context, appType string, ownerID int64, rotate bool) (magiclink.Link, error)
}

// Service runs dispatcher operations against the CRM store.
type Service struct {
	store  crm.Store
	notify *notify.Service
	links  Linker
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the dispatcher service. notifier and links may be nil.
func NewService(log *slog.Logger, store crm.Store, notifier *notify.Service, links Linker) *Service {
	return &Service{
		store:  store,
		notify: notifier,
		links:  links,
		logger: log.With(slog.String("service", "dispatcher")),
		now:    time.Now,
	}
}

// Contacts lists unassigned contacts, newest first.
func (s *Service) Contacts(ctx context.Context) (ContactList, error) {
	recs, err := s.store.ListRecords(ctx, crm.ListQuery{
		PostType: crm.PostTypeContacts,
		Filters:  []crm.Filter{{Field: crm.FieldOverallStatus, Values: []string{crm.StatusUnassigned}}},
		Sort:     crm.SortNewest,
		Limit:    ContactLimit,
	})
	if err != nil {
		return ContactList{}, fmt.Errorf("list unassigned: %w", err)
	}
	settings, err := s.store.FieldSettings(ctx, crm.PostTypeContacts)
	if err != nil {
		return ContactList{}, fmt.Errorf("field settings: %w", err)
	}
	sources, _ := settingFor(settings, crm.FieldSources)
	now := s.now()
	out := make([]ContactSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ContactSummary{
			ID:       rec.ID,
			Name:     rec.Name(),
			Location: firstLocation(rec),
			AgeDays:  rec.AgeDays(now),
			Source:   firstSource(rec, sources),
		})
	}
	return ContactList{Contacts: out, Total: len(out)}, nil
}

// Contact loads a contact with its summary tiles, latest comments and the location and
// language keys the user ranking needs.
func (s *Service) Contact(ctx context.Context, contactID int64) (ContactDetail, error) {
	if contactID <= 0 {
		return ContactDetail{}, paramError("Contact ID is required")
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
	comments, err := s.store.ListComments(ctx, crm.PostTypeContacts, contactID, CommentLimit)
	if err != nil {
		return ContactDetail{}, fmt.Errorf("comments: %w", err)
	}
	rendered := make([]Comment, 0, len(comments))
	for _, c := range comments {
		rendered = append(rendered, Comment{Comment: c, Rendered: mention.Render(c.Content)})
	}

	created := ""
	if !rec.CreatedAt.IsZero() {
		created = rec.CreatedAt.UTC().Format(crm.DateLayout)
	}
	locationIDs := rec.IDs(crm.FieldLocationGrid)
	if locationIDs == nil {
		locationIDs = []int64{}
	}
	languages := rec.Keys(crm.FieldLanguages)
	if languages == nil {
		languages = []string{}
	}
	return ContactDetail{
		ID:          rec.ID,
		Name:        rec.Name(),
		Tiles:       fields.SummaryTiles(rec.Fields, settings, tiles),
		AgeDays:     rec.AgeDays(s.now()),
		Created:     created,
		Comments:    rendered,
		LocationIDs: locationIDs,
		Languages:   languages,
	}, nil
}

// Users ranks multipliers for a contact with the given location grids and languages.
func (s *Service) Users(ctx context.Context, locationIDs []int64, languages []string) (UserList, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return UserList{}, fmt.Errorf("list users: %w", err)
	}

	var userGrids []int64
	for _, u := range users {
		userGrids = append(userGrids, u.LocationGridIDs...)
	}
	labels := map[int64]string{}
	if len(userGrids) > 0 {
		if labels, err = s.store.LocationNames(ctx, userGrids); err != nil {
			return UserList{}, fmt.Errorf("user locations: %w", err)
		}
	}

	candidates := make([]matching.Candidate, 0, len(users))
	for _, u := range users {
		locs := make([]string, 0, len(u.LocationGridIDs))
		for _, id := range u.LocationGridIDs {
			locs = append(locs, labels[id])
		}
		candidates = append(candidates, matching.Candidate{
			ID:               u.ID,
			DisplayName:      u.DisplayName,
			Roles:            u.Roles,
			UserStatus:       u.UserStatus,
			WorkloadStatus:   u.WorkloadStatus,
			LocationLabels:   locs,
			LocationGridIDs:  u.LocationGridIDs,
			Languages:        u.Languages,
			ActiveContacts:   u.ActiveContacts,
			AssignedContacts: u.AssignedContacts,
			PendingContacts:  u.PendingContacts,
		})
	}

	var proximity map[int64]matching.Proximity
	if len(locationIDs) > 0 {
		grids, names, err := s.grids(ctx, locationIDs)
		if err != nil {
			return UserList{}, err
		}
		proximity = matching.MatchProximity(grids, candidates, names)
	}

	ranked := matching.Rank(candidates, proximity, languages)
	out := make([]UserMatch, 0, len(ranked))
	for _, m := range ranked {
		name := m.DisplayName
		if name == "" {
			name = "Unknown"
		}
		out = append(out, UserMatch{
			ID:                m.ID,
			DisplayName:       name,
			UserStatus:        m.UserStatus,
			WorkloadStatus:    m.WorkloadStatus,
			Locations:         m.LocationLabels,
			ActiveContacts:    m.ActiveContacts,
			AssignedContacts:  m.AssignedContacts,
			PendingContacts:   m.PendingContacts,
			LanguageMatch:     m.LanguageMatch,
			LocationMatch:     m.LocationMatch,
			LocationLevel:     m.LocationLevel,
			BestLocationMatch: m.BestLocationMatch,
			MatchScore:        m.Score,
		})
	}
	return UserList{Users: out, Total: len(out)}, nil
}

// grids loads the contact's grid rows and the alternate names of every node on their
// ancestor chains. Unknown grid ids are skipped.
func (s *Service) grids(ctx context.Context, ids []int64) ([]matching.Grid, map[int64]string, error) {
	locs, err := s.store.GetLocations(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("contact locations: %w", err)
	}
	grids := make([]matching.Grid, 0, len(locs))
	var chain []int64
	for _, l := range locs {
		level := min(max(l.Level, 0), len(l.Admin)-1)
		g := matching.Grid{ID: l.GridID, Level: l.Level, AltName: l.AltName, Admin: l.Admin[:level+1]}
		grids = append(grids, g)
		chain = append(chain, matching.ChainIDs(g)...)
	}
	names := map[int64]string{}
	if len(chain) == 0 {
		return grids, names, nil
	}
	nodes, err := s.store.GetLocations(ctx, chain)
	if err != nil {
		return nil, nil, fmt.Errorf("chain locations: %w", err)
	}
	for _, n := range nodes {
		names[n.GridID] = n.AltName
	}
	return grids, names, nil
}

// Assign assigns the contact to the user and marks it assigned.
func (s *Service) Assign(ctx context.Context, contactID, userID, dispatcherID int64) (AssignResult, error) {
	if contactID <= 0 || userID <= 0 {
		return AssignResult{}, paramError("Contact ID and User ID are required")
	}
	assignee, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return AssignResult{}, err
	}
	rec, err := s.store.UpdateRecord(ctx, crm.PostTypeContacts, contactID, map[string]any{
		crm.FieldAssignedTo:    fields.UserRef(userID),
		crm.FieldOverallStatus: crm.StatusAssigned,
	}, dispatcherID)
	if err != nil {
		return AssignResult{}, err
	}
	s.logger.Info("contact assigned",
		slog.Int64("contact_id", contactID),
		slog.Int64("user_id", userID),
		slog.Int64("dispatcher_id", dispatcherID),
	)

	event := notify.Assigned{
		ContactID:   contactID,
		ContactName: rec.Name(),
		AssignedBy:  dispatcherID,
		Assignee:    notify.Recipient{UserID: assignee.ID, Name: assignee.DisplayName, Email: assignee.Email},
	}
	if s.links != nil && assignee.ContactID > 0 {
		link, err := s.links.Issue(ctx, magiclink.TypeMyContacts, assignee.ContactID, false)
		if err != nil {
			s.logger.Warn("assignee link failed", slog.Int64("user_id", userID), slog.Any("error", err))
		} else {
			event.Link = link.URL
		}
	}
	s.notify.Emit(ctx, notify.EventAssigned, event)

	return AssignResult{
		Success:   true,
		ContactID: contactID,
		UserID:    userID,
		Message:   "Contact assigned successfully",
	}, nil
}

// Comment adds a comment by the dispatcher and notifies mentioned users.
func (s *Service) Comment(ctx context.Context, contactID int64, text string, author crm.User) (CommentResult, error) {
	if contactID <= 0 || strings.TrimSpace(text) == "" {
		return CommentResult{}, paramError("Contact ID and comment are required")
	}
	c, err := s.store.AddComment(ctx, crm.NewComment{
		PostType: crm.PostTypeContacts,
		PostID:   contactID,
		UserID:   author.ID,
		Author:   author.DisplayName,
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
func (s *Service) MentionUsers(ctx context.Context, search string) (MentionUsers, error) {
	users, err := s.store.SearchUsers(ctx, strings.TrimSpace(search), MentionLimit)
	if err != nil {
		return MentionUsers{}, fmt.Errorf("search users: %w", err)
	}
	return MentionUsers{Users: users}, nil
}

func settingFor(settings []fields.Setting, key string) (fields.Setting, bool) {
	for _, s := range settings {
		if s.Key == key {
			return s, true
		}
	}
	return fields.Setting{Key: key}, false
}

func firstLocation(rec crm.Record) string {
	var locs []fields.LocationRef
	if json.Unmarshal(rec.Raw(crm.FieldLocationGrid), &locs) != nil || len(locs) == 0 {
		return ""
	}
	return locs[0].Label
}

func firstSource(rec crm.Record, setting fields.Setting) string {
	keys := rec.Keys(crm.FieldSources)
	if len(keys) == 0 {
		return ""
	}
	if opt, ok := setting.Option(keys[0]); ok && opt.Label != "" {
		return opt.Label
	}
	return keys[0]
}
