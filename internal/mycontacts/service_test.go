package mycontacts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/crm/crmtest"
	"github.com/disciple-tools/homescreen-apps/internal/mention"
	"github.com/disciple-tools/homescreen-apps/internal/notify"
	"github.com/disciple-tools/homescreen-apps/internal/timeline"
)

type recorder struct {
	envs []notify.Envelope
}

func (r *recorder) Notify(_ context.Context, env notify.Envelope) error {
	r.envs = append(r.envs, env)
	return nil
}

var start = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	ownerID   int64 = 50
	subID     int64 = 51
	assignID  int64 = 52
	otherID   int64 = 53
	ownerUser int64 = 7
)

// newService seeds an owner contact with one sub-assigned contact, one contact assigned
// to the owner's user and one contact belonging to someone else.
func newService(t *testing.T) (*Service, *crmtest.MemStore, *recorder) {
	t.Helper()
	store := crmtest.Seeded(start)
	store.PutUser(crm.User{ID: ownerUser, Username: "olivia", DisplayName: "Olivia", Email: "olivia@example.org", IsActive: true})
	store.PutUser(crm.User{ID: 3, Username: "ann", DisplayName: "Ann", Email: "ann@example.org", IsActive: true})

	store.PutRecord("contacts", ownerID, map[string]any{
		"name":                "Olivia Owner",
		"subassigned":         []int64{subID, 999},
		"corresponds_to_user": ownerUser,
		"assigned_to":         ownerUser,
	}, start.Add(-96*time.Hour))
	store.PutRecord("contacts", subID, map[string]any{
		"name":           "Sub Sam",
		"overall_status": "active",
		"seeker_path":    "met",
		"assigned_to":    ownerUser,
	}, start.Add(-48*time.Hour))
	store.PutRecord("contacts", assignID, map[string]any{
		"name":           "Asg Alex",
		"overall_status": "assigned",
		"assigned_to":    ownerUser,
		"tags":           []string{"prayer", "Pray team", "follow up"},
	}, start.Add(-24*time.Hour))
	store.PutRecord("contacts", otherID, map[string]any{"name": "Other", "assigned_to": 8}, start)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recorder{}
	return NewService(log, store, notify.NewService(log, rec)), store, rec
}

func TestContactsMergesSubassignedAndAssigned(t *testing.T) {
	svc, _, _ := newService(t)

	got, err := svc.Contacts(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, ownerID, got.OwnerContactID)
	require.Equal(t, 2, got.Total)

	assert.Equal(t, ContactItem{
		ID:                    assignID,
		Name:                  "Asg Alex",
		OverallStatus:         "Waiting to be accepted",
		OverallStatusColor:    "#FF9800",
		LastModified:          "2025-03-09",
		LastModifiedTimestamp: start.Add(-24 * time.Hour).Unix(),
		Source:                SourceAssigned,
	}, got.Contacts[0])

	sam := got.Contacts[1]
	assert.Equal(t, subID, sam.ID)
	assert.Equal(t, SourceSubassigned, sam.Source)
	assert.Equal(t, "Active", sam.OverallStatus)
	assert.Equal(t, "First Meeting Complete", sam.SeekerPath)
}

func TestContactsUnknownOwner(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Contacts(context.Background(), 404)
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestCanAccess(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	for id, want := range map[int64]bool{
		ownerID:  false,
		subID:    true,
		assignID: true,
		otherID:  false,
		999:      false,
	} {
		ok, err := svc.CanAccess(ctx, ownerID, id)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "contact %d", id)
	}

	ok, err := svc.CanAccess(ctx, 404, subID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContactDetailFeed(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	_, err := svc.UpdateField(ctx, ownerID, subID, "seeker_path", json.RawMessage(`"attempted"`))
	require.NoError(t, err)
	store.Advance(time.Hour)
	_, err = svc.Comment(ctx, ownerID, subID, "called today")
	require.NoError(t, err)

	got, err := svc.Contact(ctx, ownerID, subID)
	require.NoError(t, err)
	assert.Equal(t, "Sub Sam", got.Name)
	assert.Equal(t, "2025-03-08", got.Created)
	assert.Equal(t, "2025-03-10", got.LastModified)
	require.NotEmpty(t, got.Tiles)
	assert.Equal(t, "status", got.Tiles[0].Key)

	require.Len(t, got.Activity, 2)
	assert.Equal(t, timeline.TypeComment, got.Activity[0].Type)
	assert.Equal(t, "called today", got.Activity[0].Content)
	assert.Equal(t, "Olivia Owner", got.Activity[0].Author)
	assert.Equal(t, timeline.TypeActivity, got.Activity[1].Type)
	assert.Equal(t, "Updated Seeker Path", got.Activity[1].Content)
	assert.Equal(t, "Olivia", got.Activity[1].Author)

	require.Len(t, got.Groups, 2)
	assert.Equal(t, timeline.TypeComment, got.Groups[0].Type)
	require.NotNil(t, got.Groups[0].Entry)
	assert.Equal(t, "called today", got.Groups[0].Entry.Content)
	assert.Equal(t, timeline.TypeActivityGroup, got.Groups[1].Type)
	require.Len(t, got.Groups[1].Items, 1)
	assert.Equal(t, "Updated Seeker Path", got.Groups[1].Items[0].Content)
}

func TestContactErrors(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Contact(ctx, ownerID, 0)
	assert.ErrorIs(t, err, ErrMissingParams)
	assert.Equal(t, "Contact ID is required", err.Error())

	_, err = svc.Contact(ctx, ownerID, otherID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.Contact(ctx, ownerID, ownerID)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestCommentNotifiesMentions(t *testing.T) {
	ctx := context.Background()
	svc, store, rec := newService(t)

	text := "ask " + mention.Token("Ann", 3) + " and " + mention.Token("Ghost", 77)
	got, err := svc.Comment(ctx, ownerID, assignID, text)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, assignID, got.ContactID)
	assert.Contains(t, got.Rendered, `<span class="mention-tag">@Ann</span>`)

	comments, err := store.ListComments(ctx, "contacts", assignID, 10)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, ownerUser, comments[0].UserID)
	assert.Equal(t, "Olivia Owner", comments[0].Author)

	require.Len(t, rec.envs, 1)
	assert.Equal(t, notify.EventCommented, rec.envs[0].Meta.Type)
	event, ok := rec.envs[0].Data.(notify.Commented)
	require.True(t, ok)
	assert.Equal(t, "Asg Alex", event.ContactName)
	require.Len(t, event.Mentioned, 1)
	assert.Equal(t, int64(3), event.Mentioned[0].UserID)
}

func TestCommentErrors(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	_, err := svc.Comment(ctx, ownerID, subID, "  ")
	assert.ErrorIs(t, err, ErrMissingParams)
	assert.Equal(t, "Contact ID and comment are required", err.Error())

	_, err = svc.Comment(ctx, ownerID, otherID, "hi")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, rec.envs)
}

func TestUpdateField(t *testing.T) {
	ctx := context.Background()
	svc, store, rec := newService(t)

	got, err := svc.UpdateField(ctx, ownerID, subID, "overall_status", json.RawMessage(`"closed"`))
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Success: true, ContactID: subID, FieldKey: "overall_status", Value: "Archived", RawValue: "closed"}, got)

	got, err = svc.UpdateField(ctx, ownerID, subID, "milestones", json.RawMessage(`["milestone_baptized","milestone_has_bible"]`))
	require.NoError(t, err)
	assert.Equal(t, "Baptized, Has Bible", got.Value)
	assert.Equal(t, []string{"milestone_baptized", "milestone_has_bible"}, got.RawValue)

	got, err = svc.UpdateField(ctx, ownerID, subID, "milestones", json.RawMessage(`["-milestone_baptized"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"milestone_has_bible"}, got.RawValue)

	activity := store.Activity("contacts", subID)
	require.NotEmpty(t, activity)
	assert.Equal(t, ownerUser, activity[0].UserID)

	require.Len(t, rec.envs, 3)
	assert.Equal(t, notify.EventFieldUpdated, rec.envs[0].Meta.Type)
	assert.Equal(t, notify.FieldUpdated{ContactID: subID, FieldKey: "overall_status", UserID: ownerUser}, rec.envs[0].Data)
}

func TestUpdateFieldErrors(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.UpdateField(ctx, ownerID, subID, " ", json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, ErrMissingParams)

	_, err = svc.UpdateField(ctx, ownerID, otherID, "name", json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.UpdateField(ctx, ownerID, subID, "favourite_color", json.RawMessage(`"blue"`))
	assert.ErrorIs(t, err, crm.ErrUnknownField)

	_, err = svc.UpdateField(ctx, ownerID, subID, "overall_status", json.RawMessage(`"nope"`))
	assert.ErrorIs(t, err, crm.ErrInvalidValue)
}

func TestFieldOptions(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	conn, err := svc.FieldOptions(ctx, "coached_by", "sam", "")
	require.NoError(t, err)
	assert.True(t, conn.Success)
	require.Len(t, conn.Options, 1)
	assert.Equal(t, subID, conn.Options[0].ID)
	assert.Equal(t, "Sub Sam", conn.Options[0].Label)
	assert.Equal(t, "/contacts/51", conn.Options[0].Link)
	require.NotNil(t, conn.Options[0].Status)
	assert.Equal(t, "Active", conn.Options[0].Status.Label)

	locs, err := svc.FieldOptions(ctx, "location_grid", "spring", "")
	require.NoError(t, err)
	require.Len(t, locs.Options, 1)
	assert.Equal(t, Option{ID: "100", Label: "Springfield"}, locs.Options[0])

	tags, err := svc.FieldOptions(ctx, "tags", "PRAY", "")
	require.NoError(t, err)
	assert.Equal(t, []Option{{ID: "Pray team", Label: "Pray team"}, {ID: "prayer", Label: "prayer"}}, tags.Options)

	none, err := svc.FieldOptions(ctx, "name", "x", "")
	require.NoError(t, err)
	assert.Empty(t, none.Options)

	_, err = svc.FieldOptions(ctx, "", "x", "")
	assert.ErrorIs(t, err, ErrMissingParams)
}

func TestMentionUsers(t *testing.T) {
	svc, _, _ := newService(t)
	got, err := svc.MentionUsers(context.Background(), "AN")
	require.NoError(t, err)
	assert.Equal(t, []crm.UserRef{{ID: 3, DisplayName: "Ann"}}, got)
}
