package crmtest

import (
	"encoding/json"
	"time"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/fields"
)

// Grid ids seeded by SeedGrid: a country, state, county and city chain.
const (
	GridCountry int64 = 10
	GridState   int64 = 20
	GridCounty  int64 = 30
	GridCity    int64 = 100
)

// ContactSettings is a small contacts schema covering each field type the apps render.
func ContactSettings() []fields.Setting {
	return []fields.Setting{
		{Key: "name", Name: "Name", Type: "text", Tile: "details"},
		{Key: "overall_status", Name: "Contact Status", Type: "key_select", Tile: "status", InCreateForm: json.RawMessage(`1`), Default: fields.Options{
			{Key: "unassigned", Label: "Unassigned", Color: "#F43636"},
			{Key: "assigned", Label: "Waiting to be accepted", Color: "#FF9800"},
			{Key: "active", Label: "Active", Color: "#4CAF50"},
			{Key: "closed", Label: "Archived", Color: "#808080"},
		}},
		{Key: "seeker_path", Name: "Seeker Path", Type: "key_select", Tile: "status", InCreateForm: json.RawMessage(`2`), Default: fields.Options{
			{Key: "none", Label: "Contact Attempt Needed"},
			{Key: "attempted", Label: "Contact Attempted"},
			{Key: "met", Label: "First Meeting Complete"},
		}},
		{Key: "assigned_to", Name: "Assigned To", Type: "user_select", Tile: "status"},
		{Key: "subassigned", Name: "Sub-assigned to", Type: "connection", Tile: "status", PostType: "contacts"},
		{Key: "corresponds_to_user", Name: "Corresponds to user", Type: "number"},
		{Key: "milestones", Name: "Faith Milestones", Type: "multi_select", Tile: "faith", Default: fields.Options{
			{Key: "milestone_has_bible", Label: "Has Bible"},
			{Key: "milestone_reading_bible", Label: "Reading Bible"},
			{Key: "milestone_baptized", Label: "Baptized"},
		}},
		{Key: "sources", Name: "Sources", Type: "multi_select", Tile: "details", Default: fields.Options{
			{Key: "web", Label: "Website"},
			{Key: "phone", Label: "Phone"},
		}},
		{Key: "languages", Name: "Languages", Type: "multi_select", Tile: "details", Default: fields.Options{
			{Key: "en", Label: "English"},
			{Key: "fr", Label: "French"},
		}},
		{Key: "tags", Name: "Tags", Type: "tags", Tile: "details"},
		{Key: "location_grid", Name: "Locations", Type: "location", Tile: "details"},
		{Key: "contact_phone", Name: "Phone", Type: "communication_channel", Tile: "details", Icon: "phone.svg"},
		{Key: "coached_by", Name: "Coached by", Type: "connection", Tile: "faith", PostType: "contacts"},
		{Key: "baptism_date", Name: "Baptism Date", Type: "date", Tile: "faith"},
		{Key: "notes", Name: "Notes", Type: "textarea", Tile: "details", Hidden: true},
	}
}

// Contact tile priorities.
var (
	statusPriority  = 10
	detailsPriority = 20
	faithPriority   = 30
)

// ContactTiles are the tiles ContactSettings refers to.
func ContactTiles() []fields.TileSetting {
	return []fields.TileSetting{
		{Key: "status", Label: "Status", Priority: &statusPriority},
		{Key: "details", Label: "Details", Priority: &detailsPriority},
		{Key: "faith", Label: "Faith", Priority: &faithPriority},
	}
}

// Seeded returns a store holding ContactSettings, ContactTiles and the SeedGrid chain.
func Seeded(now time.Time) *MemStore {
	m := New(now)
	m.SetFieldSettings(crm.PostTypeContacts, ContactSettings())
	m.SetTiles(crm.PostTypeContacts, ContactTiles())
	SeedGrid(m)
	return m
}

// SeedGrid adds the world node and a four level chain down to GridCity.
func SeedGrid(m *MemStore) {
	m.PutLocation(crm.Location{GridID: 1, Name: "World", AltName: "World", Level: -1})
	m.PutLocation(crm.Location{GridID: GridCountry, Name: "United States", AltName: "USA", Level: 0, ParentID: 1,
		Admin: [6]int64{GridCountry}})
	m.PutLocation(crm.Location{GridID: GridState, Name: "Missouri", AltName: "Missouri", Level: 1, ParentID: GridCountry,
		Admin: [6]int64{GridCountry, GridState}})
	m.PutLocation(crm.Location{GridID: GridCounty, Name: "Greene County", AltName: "Greene", Level: 2, ParentID: GridState,
		Admin: [6]int64{GridCountry, GridState, GridCounty}})
	m.PutLocation(crm.Location{GridID: GridCity, Name: "Springfield", AltName: "Springfield MO", Level: 3, ParentID: GridCounty,
		Admin: [6]int64{GridCountry, GridState, GridCounty, GridCity}})
}
