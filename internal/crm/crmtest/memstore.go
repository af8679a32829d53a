// Package crmtest provides an in-memory crm.Store for tests.
package crmtest

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/fields"
)

// MemStore keeps everything in maps guarded by one mutex.
type MemStore struct {
	mu        sync.Mutex
	nextID    int64
	now       time.Time
	records   map[int64]crm.Record
	settings  map[string][]fields.Setting
	tiles     map[string][]fields.TileSetting
	comments  []crm.Comment
	activity  []crm.Activity
	users     map[int64]crm.User
	locations map[int64]crm.Location
	meta      []crm.Meta
}

var _ crm.Store = (*MemStore)(nil)

// New returns an empty store whose clock starts at now.
func New(now time.Time) *MemStore {
	return &MemStore{
		nextID:    1000,
		now:       now,
		records:   map[int64]crm.Record{},
		settings:  map[string][]fields.Setting{},
		tiles:     map[string][]fields.TileSetting{},
		users:     map[int64]crm.User{},
		locations: map[int64]crm.Location{},
	}
}

// Now returns the store clock.
func (m *MemStore) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the store clock forward.
func (m *MemStore) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// SetFieldSettings replaces the field settings of a post type.
func (m *MemStore) SetFieldSettings(postType string, settings []fields.Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[postType] = slices.Clone(settings)
}

// SetTiles replaces the tiles of a post type.
func (m *MemStore) SetTiles(postType string, tiles []fields.TileSetting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[postType] = slices.Clone(tiles)
}

// PutRecord stores a record with canonical values as given, bypassing validation.
func (m *MemStore) PutRecord(postType string, id int64, values map[string]any, created time.Time) crm.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 {
		m.nextID++
		id = m.nextID
	}
	rec := crm.Record{ID: id, PostType: postType, Fields: map[string]json.RawMessage{}, CreatedAt: created, ModifiedAt: created}
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		rec.Fields[k] = b
	}
	if name, ok := values[crm.FieldName].(string); ok {
		rec.Title = name
	}
	m.records[id] = rec
	return rec
}

// PutUser stores a user.
func (m *MemStore) PutUser(u crm.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutLocation stores a grid node.
func (m *MemStore) PutLocation(l crm.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[l.GridID] = l
}

// PutActivity appends an activity row.
func (m *MemStore) PutActivity(a crm.Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		m.nextID++
		a.ID = m.nextID
	}
	m.activity = append(m.activity, a)
}

// Activity returns every activity row of a record in insertion order.
func (m *MemStore) Activity(postType string, id int64) []crm.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crm.Activity
	for _, a := range m.activity {
		if a.ObjectType == postType && a.ObjectID == id {
			out = append(out, a)
		}
	}
	return out
}

// Raw returns the canonical record.
func (m *MemStore) Raw(id int64) (crm.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

func (m *MemStore) RawRecords(_ context.Context, postType string, ids []int64) ([]crm.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crm.Record
	for _, id := range ids {
		if rec, ok := m.records[id]; ok && rec.PostType == postType {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemStore) FieldSettings(_ context.Context, postType string) ([]fields.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.settings[postType]), nil
}

func (m *MemStore) Tiles(_ context.Context, postType string) ([]fields.TileSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tiles[postType]), nil
}

func (m *MemStore) LocationNames(_ context.Context, ids []int64) (map[int64]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]string{}
	for _, id := range ids {
		if l, ok := m.locations[id]; ok {
			out[id] = l.Name
		}
	}
	return out, nil
}

func (m *MemStore) DisplayNames(_ context.Context, ids []int64) (map[int64]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]string{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u.DisplayName
		}
	}
	return out, nil
}

func (m *MemStore) GetRecord(ctx context.Context, postType string, id int64) (crm.Record, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	m.mu.Unlock()
	if !ok || rec.PostType != postType {
		return crm.Record{}, fmt.Errorf("%s %d: %w", postType, id, crm.ErrNotFound)
	}
	out, err := crm.Hydrate(ctx, m, postType, []crm.Record{rec})
	if err != nil {
		return crm.Record{}, err
	}
	return out[0], nil
}

func (m *MemStore) ListRecords(ctx context.Context, q crm.ListQuery) ([]crm.Record, error) {
	m.mu.Lock()
	var recs []crm.Record
	for _, rec := range m.records {
		if rec.PostType != q.PostType {
			continue
		}
		match := true
		for _, f := range q.Filters {
			if !f.Match(rec) {
				match = false
				break
			}
		}
		if match {
			recs = append(recs, rec)
		}
	}
	m.mu.Unlock()

	slices.SortFunc(recs, func(a, b crm.Record) int {
		switch q.Sort {
		case crm.SortOldest:
			return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
		case crm.SortRecentlyModified:
			return cmp.Or(b.ModifiedAt.Compare(a.ModifiedAt), cmp.Compare(b.ID, a.ID))
		case crm.SortName:
			return cmp.Or(strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)), cmp.Compare(a.ID, b.ID))
		default:
			return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
		}
	})
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return crm.Hydrate(ctx, m, q.PostType, recs)
}

func (m *MemStore) SearchRecords(_ context.Context, postType, query string, limit int) ([]crm.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query = strings.ToLower(strings.TrimSpace(query))
	var out []crm.Record
	for _, rec := range m.records {
		if rec.PostType == postType && strings.Contains(strings.ToLower(rec.Title), query) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b crm.Record) int {
		return cmp.Or(b.ModifiedAt.Compare(a.ModifiedAt), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) CreateRecord(ctx context.Context, postType string, values map[string]any, userID int64) (crm.Record, error) {
	settings, _ := m.FieldSettings(ctx, postType)
	next, changes, err := crm.ApplyUpdate(nil, settings, values)
	if err != nil {
		return crm.Record{}, err
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	rec := crm.Record{ID: id, PostType: postType, Fields: next, CreatedAt: m.now, ModifiedAt: m.now}
	rec.Title = titleOf(next)
	m.records[id] = rec
	m.logLocked(postType, id, userID, append([]crm.Change{{Action: crm.ActionCreated}}, changes...))
	m.mu.Unlock()
	return m.GetRecord(ctx, postType, id)
}

func (m *MemStore) UpdateRecord(ctx context.Context, postType string, id int64, values map[string]any, userID int64) (crm.Record, error) {
	settings, _ := m.FieldSettings(ctx, postType)
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.PostType != postType {
		m.mu.Unlock()
		return crm.Record{}, fmt.Errorf("%s %d: %w", postType, id, crm.ErrNotFound)
	}
	next, changes, err := crm.ApplyUpdate(rec.Fields, settings, values)
	if err != nil {
		m.mu.Unlock()
		return crm.Record{}, err
	}
	if len(changes) > 0 {
		rec.Fields = next
		rec.Title = titleOf(next)
		rec.ModifiedAt = m.now
		m.records[id] = rec
		m.logLocked(postType, id, userID, changes)
	}
	m.mu.Unlock()
	return m.GetRecord(ctx, postType, id)
}

func (m *MemStore) logLocked(postType string, id, userID int64, changes []crm.Change) {
	for _, c := range changes {
		m.nextID++
		m.activity = append(m.activity, crm.Activity{
			ID: m.nextID, ObjectID: id, ObjectType: postType, Action: c.Action,
			MetaKey: c.Key, MetaValue: c.Value, OldValue: c.Old, UserID: userID, Time: m.now.Unix(),
		})
	}
}

func titleOf(values map[string]json.RawMessage) string {
	var s string
	_ = json.Unmarshal(values[crm.FieldName], &s)
	return s
}

func (m *MemStore) MultiSelectOptions(_ context.Context, postType, field string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, rec := range m.records {
		if rec.PostType == postType {
			out = append(out, rec.Keys(field)...)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (m *MemStore) ListComments(_ context.Context, postType string, postID int64, limit int) ([]crm.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crm.Comment
	for _, c := range m.comments {
		if c.PostType == postType && c.PostID == postID {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b crm.Comment) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) AddComment(_ context.Context, c crm.NewComment) (crm.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[c.PostID]
	if !ok || rec.PostType != c.PostType {
		return crm.Comment{}, fmt.Errorf("%s %d: %w", c.PostType, c.PostID, crm.ErrNotFound)
	}
	if c.Type == "" {
		c.Type = crm.ActionComment
	}
	m.nextID++
	out := crm.Comment{
		ID: m.nextID, PostID: c.PostID, PostType: c.PostType, UserID: c.UserID,
		Author: c.Author, Content: c.Content, Type: c.Type, CreatedAt: m.now,
	}
	m.comments = append(m.comments, out)
	m.logLocked(c.PostType, c.PostID, c.UserID, []crm.Change{{Action: crm.ActionComment}})
	rec.ModifiedAt = m.now
	m.records[c.PostID] = rec
	return out, nil
}

func (m *MemStore) ListActivity(_ context.Context, postType string, postID int64, limit int) ([]crm.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crm.Activity
	for _, a := range m.activity {
		if a.ObjectType != postType || a.ObjectID != postID {
			continue
		}
		if a.Action == crm.ActionConnected || a.Action == crm.ActionDisconnected {
			continue
		}
		out = append(out, a)
	}
	slices.SortStableFunc(out, func(a, b crm.Activity) int {
		return cmp.Or(cmp.Compare(b.Time, a.Time), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) GetUser(_ context.Context, id int64) (crm.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return crm.User{}, fmt.Errorf("user %d: %w", id, crm.ErrUserNotFound)
	}
	return u, nil
}

func (m *MemStore) GetUserByUsername(_ context.Context, username string) (crm.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == strings.TrimSpace(username) {
			return u, nil
		}
	}
	return crm.User{}, fmt.Errorf("user %q: %w", username, crm.ErrUserNotFound)
}

func (m *MemStore) CreateUser(_ context.Context, nu crm.NewUser) (crm.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == nu.Username {
			return crm.User{}, fmt.Errorf("%s: %w", nu.Username, crm.ErrUserExists)
		}
	}
	m.nextID++
	u := crm.User{
		ID: m.nextID, Username: nu.Username, DisplayName: nu.DisplayName, Email: nu.Email,
		PasswordHash: nu.PasswordHash, Roles: nu.Roles, Languages: nu.Languages,
		LocationGridIDs: nu.LocationGridIDs, ContactID: nu.ContactID, IsActive: true, CreatedAt: m.now,
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemStore) TouchLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, crm.ErrUserNotFound)
	}
	u.LastLoginAt = at
	m.users[id] = u
	return nil
}

// ListUsers derives workload counters from the contacts assigned to each active user.
func (m *MemStore) ListUsers(_ context.Context) ([]crm.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crm.User
	for _, u := range m.users {
		if !u.IsActive {
			continue
		}
		u.ActiveContacts, u.AssignedContacts, u.PendingContacts = 0, 0, 0
		for _, rec := range m.records {
			if rec.PostType != crm.PostTypeContacts || rec.UserID(crm.FieldAssignedTo) != u.ID {
				continue
			}
			switch rec.Key(crm.FieldOverallStatus) {
			case "closed", crm.StatusUnassigned:
				continue
			case crm.StatusActive:
				u.ActiveContacts++
			case crm.StatusAssigned:
				u.PendingContacts++
			}
			u.AssignedContacts++
		}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b crm.User) int {
		return cmp.Or(strings.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *MemStore) SearchUsers(_ context.Context, query string, limit int) ([]crm.UserRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query = strings.ToLower(query)
	out := []crm.UserRef{}
	for _, u := range m.users {
		if u.IsActive && strings.Contains(strings.ToLower(u.DisplayName), query) {
			out = append(out, crm.UserRef{ID: u.ID, DisplayName: u.DisplayName})
		}
	}
	slices.SortFunc(out, func(a, b crm.UserRef) int {
		return cmp.Or(strings.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) GetLocations(_ context.Context, ids []int64) ([]crm.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crm.Location
	for _, id := range ids {
		if l, ok := m.locations[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemStore) SearchLocations(_ context.Context, query string, limit int) ([]crm.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query = strings.ToLower(strings.TrimSpace(query))
	var out []crm.Location
	for _, l := range m.locations {
		if strings.Contains(strings.ToLower(l.Name), query) || strings.Contains(strings.ToLower(l.AltName), query) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b crm.Location) int {
		return cmp.Or(cmp.Compare(a.Level, b.Level), strings.Compare(a.Name, b.Name), cmp.Compare(a.GridID, b.GridID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) LookupMeta(_ context.Context, key, value string) (crm.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, meta := range m.meta {
		if meta.Key == key && meta.Value == value {
			return meta, nil
		}
	}
	return crm.Meta{}, crm.ErrMetaNotFound
}

func (m *MemStore) GetMeta(_ context.Context, ownerType string, ownerID int64, key string) (crm.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, meta := range m.meta {
		if meta.OwnerType == ownerType && meta.OwnerID == ownerID && meta.Key == key {
			return meta, nil
		}
	}
	return crm.Meta{}, crm.ErrMetaNotFound
}

func (m *MemStore) SetMeta(_ context.Context, meta crm.Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.meta {
		if existing.OwnerType == meta.OwnerType && existing.OwnerID == meta.OwnerID && existing.Key == meta.Key {
			m.meta[i] = meta
			return nil
		}
	}
	m.meta = append(m.meta, meta)
	return nil
}
