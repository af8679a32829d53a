package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/crm/crmtest"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/mention"
	"github.com/disciple-tools/homescreen-apps/internal/notify"
)

type recorder struct {
	envs []notify.Envelope
}

func (r *recorder) Notify(_ context.Context, env notify.Envelope) error {
	r.envs = append(r.envs, env)
	return nil
}

var start = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *crmtest.MemStore, *recorder) {
	t.Helper()
	store := crmtest.Seeded(start)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recorder{}
	links := magiclink.NewService(log, store, "homescreen_apps", "https://dt.example.org", magiclink.DefaultApps)
	svc := NewService(log, store, notify.NewService(log, rec), links)
	svc.now = store.Now
	return svc, store, rec
}

func multiplier(id int64, name string, grids []int64, langs []string) crm.User {
	return crm.User{
		ID:              id,
		Username:        name,
		DisplayName:     name,
		Email:           name + "@example.org",
		Roles:           []string{"multiplier"},
		UserStatus:      "active",
		WorkloadStatus:  "active",
		LocationGridIDs: grids,
		Languages:       langs,
		IsActive:        true,
	}
}

func TestContactsListsUnassignedNewestFirst(t *testing.T) {
	svc, store, _ := newService(t)
	store.PutRecord("contacts", 1, map[string]any{
		"name": "Old", "overall_status": "unassigned",
		"location_grid": []int64{crmtest.GridCity}, "sources": []string{"web"},
	}, start.Add(-72*time.Hour))
	store.PutRecord("contacts", 2, map[string]any{"name": "New", "overall_status": "unassigned"}, start.Add(-time.Hour))
	store.PutRecord("contacts", 3, map[string]any{"name": "Taken", "overall_status": "active"}, start)

	got, err := svc.Contacts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, got.Total)
	assert.Equal(t, ContactSummary{ID: 2, Name: "New"}, got.Contacts[0])
	assert.Equal(t, ContactSummary{ID: 1, Name: "Old", Location: "Springfield", AgeDays: 3, Source: "Website"}, got.Contacts[1])
}

func TestContactDetail(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)
	store.PutRecord("contacts", 5, map[string]any{
		"name":           "Bob",
		"overall_status": "unassigned",
		"seeker_path":    "none",
		"languages":      []string{"en", "fr"},
		"location_grid":  []int64{crmtest.GridCity, crmtest.GridState},
		"notes":          "hidden",
	}, start.Add(-49*time.Hour))
	_, err := store.AddComment(ctx, crm.NewComment{PostType: "contacts", PostID: 5, Author: "Ann", Content: "see https://x.org"})
	require.NoError(t, err)

	got, err := svc.Contact(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)
	assert.Equal(t, 2, got.AgeDays)
	assert.Equal(t, "2025-03-08", got.Created)
	assert.Equal(t, []int64{crmtest.GridCity, crmtest.GridState}, got.LocationIDs)
	assert.Equal(t, []string{"en", "fr"}, got.Languages)
	require.Len(t, got.Comments, 1)
	assert.Contains(t, got.Comments[0].Rendered, `<a href="https://x.org"`)

	require.Len(t, got.Tiles, 2)
	assert.Equal(t, "status", got.Tiles[0].Key)
	assert.Equal(t, "overall_status", got.Tiles[0].Fields[0].Key)
	assert.Equal(t, "Unassigned", got.Tiles[0].Fields[0].Value)
	assert.Equal(t, "Contact Attempt Needed", got.Tiles[0].Fields[1].Value)
	for _, f := range got.Tiles[1].Fields {
		assert.NotEqual(t, "notes", f.Key)
		assert.NotEqual(t, "name", f.Key)
	}
}

func TestContactErrors(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Contact(context.Background(), 0)
	assert.ErrorIs(t, err, ErrMissingParams)
	assert.Equal(t, "Contact ID is required", err.Error())

	_, err = svc.Contact(context.Background(), 404)
	assert.ErrorIs(t, err, crm.ErrNotFound)
}

func TestUsersRanksMultipliers(t *testing.T) {
	svc, store, _ := newService(t)
	store.PutUser(multiplier(1, "Ann", []int64{crmtest.GridCity}, []string{"en"}))
	store.PutUser(multiplier(2, "Ben", []int64{crmtest.GridCounty}, nil))
	store.PutUser(multiplier(3, "Cat", []int64{crmtest.GridCity}, []string{"fr"}))
	store.PutUser(multiplier(4, "Dan", nil, nil))
	admin := multiplier(5, "Eve", []int64{crmtest.GridCity}, []string{"en"})
	admin.Roles = []string{"dispatcher"}
	store.PutUser(admin)
	store.PutRecord("contacts", 20, map[string]any{"name": "Busy", "overall_status": "active", "assigned_to": 3}, start)

	got, err := svc.Users(context.Background(), []int64{crmtest.GridCity}, []string{"en"})
	require.NoError(t, err)
	require.Equal(t, 4, got.Total)

	ids := make([]int64, 0, len(got.Users))
	for _, u := range got.Users {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []int64{1, 3, 2, 4}, ids)

	ann := got.Users[0]
	assert.Equal(t, -50, ann.MatchScore)
	assert.True(t, ann.LanguageMatch)
	assert.Equal(t, "Springfield MO", ann.BestLocationMatch)
	assert.Equal(t, []string{"Springfield"}, ann.Locations)

	cat := got.Users[1]
	assert.Equal(t, 0, cat.MatchScore)
	assert.Equal(t, 1, cat.ActiveContacts)

	ben := got.Users[2]
	require.NotNil(t, ben.LocationLevel)
	assert.Equal(t, 1, *ben.LocationLevel)
	assert.Equal(t, "Greene", ben.BestLocationMatch)

	dan := got.Users[3]
	assert.Equal(t, 100, dan.MatchScore)
	assert.False(t, dan.LocationMatch)
	assert.Nil(t, dan.LocationLevel)
}

func TestUsersWithoutLocations(t *testing.T) {
	svc, store, _ := newService(t)
	store.PutUser(multiplier(1, "Ann", []int64{crmtest.GridCity}, []string{"fr"}))
	store.PutUser(multiplier(2, "Ben", nil, []string{"en"}))

	got, err := svc.Users(context.Background(), nil, []string{"en"})
	require.NoError(t, err)
	require.Len(t, got.Users, 2)
	assert.Equal(t, int64(2), got.Users[0].ID)
	assert.Equal(t, 50, got.Users[0].MatchScore)
	assert.Equal(t, 100, got.Users[1].MatchScore)

	got, err = svc.Users(context.Background(), []int64{999}, nil)
	require.NoError(t, err)
	assert.False(t, got.Users[0].LocationMatch)
}

func TestAssign(t *testing.T) {
	ctx := context.Background()
	svc, store, rec := newService(t)
	ann := multiplier(7, "Ann", nil, nil)
	ann.ContactID = 70
	store.PutUser(ann)
	store.PutRecord("contacts", 70, map[string]any{"name": "Ann"}, start)
	store.PutRecord("contacts", 5, map[string]any{"name": "Bob", "overall_status": "unassigned"}, start)

	got, err := svc.Assign(ctx, 5, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, AssignResult{Success: true, ContactID: 5, UserID: 7, Message: "Contact assigned successfully"}, got)

	raw, ok := store.Raw(5)
	require.True(t, ok)
	assert.Equal(t, "assigned", raw.Key("overall_status"))
	assert.Equal(t, int64(7), raw.UserID("assigned_to"))

	require.Len(t, rec.envs, 1)
	assert.Equal(t, notify.EventAssigned, rec.envs[0].Meta.Type)
	event := rec.envs[0].Data.(notify.Assigned)
	assert.Equal(t, "Bob", event.ContactName)
	assert.Equal(t, "Ann@example.org", event.Assignee.Email)
	assert.Contains(t, event.Link, "https://dt.example.org/homescreen_apps/my_contacts/")

	activity := store.Activity("contacts", 5)
	require.Len(t, activity, 2)
	assert.Equal(t, int64(1), activity[0].UserID)
}

func TestAssignErrors(t *testing.T) {
	ctx := context.Background()
	svc, store, rec := newService(t)
	store.PutRecord("contacts", 5, map[string]any{"name": "Bob"}, start)

	_, err := svc.Assign(ctx, 5, 0, 1)
	assert.ErrorIs(t, err, ErrMissingParams)
	assert.Equal(t, "Contact ID and User ID are required", err.Error())

	_, err = svc.Assign(ctx, 5, 99, 1)
	assert.ErrorIs(t, err, crm.ErrUserNotFound)

	store.PutUser(multiplier(7, "Ann", nil, nil))
	_, err = svc.Assign(ctx, 6, 7, 1)
	assert.True(t, errors.Is(err, crm.ErrNotFound))
	assert.Empty(t, rec.envs)
}

func TestComment(t *testing.T) {
	ctx := context.Background()
	svc, store, rec := newService(t)
	store.PutUser(multiplier(7, "Ann", nil, nil))
	store.PutRecord("contacts", 5, map[string]any{"name": "Bob"}, start)
	author := crm.User{ID: 1, DisplayName: "Dispatcher"}

	text := "ping " + mention.Token("Ann", 7) + " and " + mention.Token("Ghost", 404)
	got, err := svc.Comment(ctx, 5, text, author)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.NotZero(t, got.CommentID)
	assert.Contains(t, got.Rendered, `<span class="mention-tag">@Ann</span>`)

	comments, err := store.ListComments(ctx, "contacts", 5, 10)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Dispatcher", comments[0].Author)

	require.Len(t, rec.envs, 1)
	event := rec.envs[0].Data.(notify.Commented)
	assert.Equal(t, "Bob", event.ContactName)
	require.Len(t, event.Mentioned, 1)
	assert.Equal(t, int64(7), event.Mentioned[0].UserID)

	_, err = svc.Comment(ctx, 5, "  ", author)
	assert.ErrorIs(t, err, ErrMissingParams)
	assert.Equal(t, "Contact ID and comment are required", err.Error())
}

func TestMentionUsers(t *testing.T) {
	svc, store, _ := newService(t)
	for i := int64(1); i <= 12; i++ {
		store.PutUser(multiplier(i, "user"+string(rune('a'+i)), nil, nil))
	}
	store.PutUser(multiplier(50, "Zed", nil, nil))

	got, err := svc.MentionUsers(context.Background(), "user")
	require.NoError(t, err)
	assert.Len(t, got.Users, MentionLimit)

	got, err = svc.MentionUsers(context.Background(), "ze")
	require.NoError(t, err)
	assert.Equal(t, []crm.UserRef{{ID: 50, DisplayName: "Zed"}}, got.Users)
}
