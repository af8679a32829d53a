package fields

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func milestones() Setting {
	return Setting{
		Key:  "milestones",
		Name: "Faith Milestones",
		Type: "multi_select",
		Tile: "faith",
		Default: Options{
			{Key: "milestone_has_bible", Label: "Has Bible"},
			{Key: "milestone_reading_bible", Label: "Reading Bible"},
			{Key: "milestone_baptized", Label: "Baptized", Deleted: true},
		},
	}
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"":                   TypeText,
		"text":               TypeText,
		"textarea":           TypeTextarea,
		"key_select":         TypeKeySelect,
		"tags":               TypeTags,
		"location_grid":      TypeLocation,
		"location_grid_meta": TypeLocation,
		"location_meta":      TypeLocation,
		"user_select":        TypeUserSelect,
		"array":              TypeUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseType(name), name)
	}
}

func TestOptionsUnmarshalObjectKeepsOrder(t *testing.T) {
	var s Setting
	raw := `{"key":"seeker_path","type":"key_select","default":{"none":{"label":"Contact Attempt Needed"},"attempted":{"label":"Contact Attempted","color":"#FF9800"},"met":{"label":"Met"}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	require.Len(t, s.Default, 3)
	assert.Equal(t, []string{"none", "attempted", "met"}, []string{s.Default[0].Key, s.Default[1].Key, s.Default[2].Key})
	assert.Equal(t, "#FF9800", s.Default[1].Color)
}

func TestSettingOrder(t *testing.T) {
	assert.Equal(t, 100, Setting{}.Order())
	assert.Equal(t, 5, Setting{InCreateForm: json.RawMessage(`5`)}.Order())
	assert.Equal(t, 7, Setting{InCreateForm: json.RawMessage(`"7"`)}.Order())
	assert.Equal(t, 100, Setting{InCreateForm: json.RawMessage(`true`)}.Order())
	assert.Equal(t, 100, Setting{InCreateForm: json.RawMessage(`["contacts"]`)}.Order())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name    string
		setting Setting
		raw     string
		want    string
	}{
		{"text", Setting{Type: "text"}, `"hello"`, "hello"},
		{"number", Setting{Type: "number"}, `42`, "42"},
		{"text from array", Setting{Type: "text"}, `["x"]`, ""},
		{"boolean yes", Setting{Type: "boolean"}, `true`, "Yes"},
		{"boolean no", Setting{Type: "boolean"}, `false`, "No"},
		{"key_select", Setting{Type: "key_select"}, `{"key":"active","label":"Active"}`, "Active"},
		{"multi_select labels", milestones(), `["milestone_has_bible","milestone_unknown"]`, "Has Bible, milestone_unknown"},
		{"multi_select objects", milestones(), `[{"value":"x","label":"Custom"}]`, "Custom"},
		{"channels", Setting{Type: "communication_channel"}, `[{"key":"c1","value":"+1 555"},{"key":"c2","value":""}]`, "+1 555"},
		{"location", Setting{Type: "location_grid"}, `[{"id":100,"label":"Paris"},{"id":200,"label":"Lyon"}]`, "Paris, Lyon"},
		{"connection", Setting{Type: "connection"}, `[{"ID":3,"post_title":"Bob"}]`, "Bob"},
		{"user_select", Setting{Type: "user_select"}, `{"id":5,"display":"Dispatcher Dan"}`, "Dispatcher Dan"},
		{"date", Setting{Type: "date"}, `{"timestamp":1700000000,"formatted":"November 14, 2023"}`, "November 14, 2023"},
		{"link", Setting{Type: "link"}, `[{"value":"https://a.example"},{"value":"https://b.example"}]`, "https://a.example, https://b.example"},
		{"generic label", Setting{Type: "array"}, `{"label":"Thing"}`, "Thing"},
		{"generic string", Setting{Type: "array"}, `"plain"`, "plain"},
		{"generic list", Setting{Type: "array"}, `[1,2]`, ""},
		{"blank", Setting{Type: "text"}, ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(Decode(tt.setting, json.RawMessage(tt.raw)), tt.setting)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatEditableListsLocationsPerLine(t *testing.T) {
	setting := Setting{Key: "location_grid", Type: "location_grid", Tile: "details"}
	raw := json.RawMessage(`[{"id":100,"label":"Paris"},{"id":200,"label":"Lyon"}]`)
	assert.Equal(t, "Paris\nLyon", FormatEditable(Decode(setting, raw), setting))
	assert.Equal(t, "Paris, Lyon", Format(Decode(setting, raw), setting))
	assert.Equal(t, "Yes", FormatEditable(Decode(Setting{Type: "boolean"}, json.RawMessage(`true`)), Setting{Type: "boolean"}))

	tiles := []TileSetting{{Key: "details", Label: "Details"}}
	values := map[string]json.RawMessage{"location_grid": raw}
	editable := EditableTiles(values, []Setting{setting}, tiles)
	require.Len(t, editable, 1)
	assert.Equal(t, "Paris\nLyon", editable[0].Fields[0].Value)
	summary := SummaryTiles(values, []Setting{setting}, tiles)
	require.Len(t, summary, 1)
	assert.Equal(t, "Paris, Lyon", summary[0].Fields[0].Value)
}

func TestDecodeFallsBackToGeneric(t *testing.T) {
	v := Decode(Setting{Type: "connection"}, json.RawMessage(`{"oops":true}`))
	_, ok := v.(Generic)
	assert.True(t, ok, "expected Generic, got %T", v)
	assert.Nil(t, Decode(Setting{Type: "text"}, json.RawMessage(`null`)))
}

func TestRawValue(t *testing.T) {
	assert.Nil(t, RawValue(Decode(Setting{Type: "text"}, json.RawMessage(`""`))))
	assert.Equal(t, "active", RawValue(Decode(Setting{Type: "key_select"}, json.RawMessage(`{"key":"active","label":"Active"}`))))
	assert.Equal(t, []string{"a", "b", "c"}, RawValue(Decode(milestones(), json.RawMessage(`["a",{"value":"b"},{"key":"c"}]`))))
	assert.Equal(t, int64(5), RawValue(Decode(Setting{Type: "user_select"}, json.RawMessage(`{"id":5,"display":"Dan"}`))))
	assert.Equal(t, int64(1700000000), RawValue(Decode(Setting{Type: "date"}, json.RawMessage(`{"timestamp":1700000000,"formatted":"x"}`))))
	assert.Equal(t, true, RawValue(Decode(Setting{Type: "boolean"}, json.RawMessage(`"1"`))))

	conn := RawValue(Decode(Setting{Type: "connection"}, json.RawMessage(`[{"ID":3,"post_title":"Bob","permalink":"https://dt/contacts/3","status":{"key":"active","label":"Active"}}]`)))
	require.IsType(t, []ConnectionOption{}, conn)
	opts := conn.([]ConnectionOption)
	require.Len(t, opts, 1)
	assert.Equal(t, int64(3), opts[0].ID)
	assert.Equal(t, "Bob", opts[0].Label)
	assert.Equal(t, "active", opts[0].Status.Key)
}

func TestSelectOptions(t *testing.T) {
	s := milestones()
	s.Default = append(s.Default, Option{Key: "milestone_no_label"}, Option{Key: "hidden_one", Hidden: true}, Option{Key: ""})
	opts := SelectOptions(s)
	require.Len(t, opts, 3)
	assert.Equal(t, "milestone_has_bible", opts[0].ID)
	assert.Equal(t, "milestone_no_label", opts[2].Label)
	assert.Nil(t, opts[0].Color)

	assert.Empty(t, SelectOptions(Setting{Type: "tags", Default: Options{{Key: "x"}}}))
}

func TestToUpdateMultiSelect(t *testing.T) {
	got := ToUpdate(TypeMultiSelect, json.RawMessage(`["-milestone_has_bible","milestone_reading_bible"]`))
	assert.Equal(t, ValuesUpdate{Values: []ValueOp{
		{Value: "milestone_has_bible", Delete: true},
		{Value: "milestone_reading_bible"},
	}}, got)

	assert.Equal(t, ValuesUpdate{Values: []ValueOp{}}, ToUpdate(TypeTags, json.RawMessage(`"nope"`)))

	body, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"values":[{"value":"milestone_has_bible","delete":true},{"value":"milestone_reading_bible"}]}`, string(body))
}

func TestToUpdateConnectionAndLocation(t *testing.T) {
	conn := ToUpdate(TypeConnection, json.RawMessage(`[{"id":3},{"id":4,"delete":true},9,"x"]`))
	assert.Equal(t, ValuesUpdate{Values: []ValueOp{
		{Value: json.Number("3")},
		{Value: json.Number("4"), Delete: true},
		{Value: int64(9)},
	}}, conn)

	loc := ToUpdate(TypeLocation, json.RawMessage(`[{"id":"100"},{"grid_id":200,"delete":true},{"label":"none"}]`))
	assert.Equal(t, ValuesUpdate{Values: []ValueOp{
		{Value: "100"},
		{Value: json.Number("200"), Delete: true},
	}}, loc)
}

func TestToUpdateScalars(t *testing.T) {
	assert.Equal(t, "user-12", ToUpdate(TypeUserSelect, json.RawMessage(`12`)))
	assert.Equal(t, "user-12", ToUpdate(TypeUserSelect, json.RawMessage(`"12"`)))
	assert.Equal(t, "user-12", ToUpdate(TypeUserSelect, json.RawMessage(`"user-12"`)))
	assert.Equal(t, "hello", ToUpdate(TypeText, json.RawMessage(`"hello"`)))
	assert.Equal(t, true, ToUpdate(TypeBoolean, json.RawMessage(`true`)))
	assert.Equal(t, []any{map[string]any{"value": "a@b.c"}}, ToUpdate(TypeCommunicationChannel, json.RawMessage(`[{"value":"a@b.c"}]`)))
	assert.Equal(t, []any{}, ToUpdate(TypeCommunicationChannel, json.RawMessage(`{}`)))
}

func TestParseUserRef(t *testing.T) {
	for _, in := range []any{"user-7", "7", float64(7), int64(7), json.Number("7")} {
		id, ok := ParseUserRef(in)
		assert.True(t, ok, "%v", in)
		assert.Equal(t, int64(7), id)
	}
	_, ok := ParseUserRef("someone")
	assert.False(t, ok)
}

// Formatting a multi_select, handing its raw value back as the edit payload and mapping
// it to an update keeps the selected set.
func TestMultiSelectRoundTripKeepsSelection(t *testing.T) {
	s := milestones()
	stored := json.RawMessage(`["milestone_reading_bible","milestone_has_bible"]`)
	value := Decode(s, stored)
	assert.Equal(t, "Reading Bible, Has Bible", Format(value, s))

	submitted, err := json.Marshal(RawValue(value))
	require.NoError(t, err)
	update, ok := ToUpdate(s.Kind(), submitted).(ValuesUpdate)
	require.True(t, ok)

	var keys []string
	for _, op := range update.Values {
		assert.False(t, op.Delete)
		keys = append(keys, op.Value.(string))
	}
	assert.ElementsMatch(t, []string{"milestone_has_bible", "milestone_reading_bible"}, keys)
}

func TestSummaryTiles(t *testing.T) {
	priorityLow, priorityHigh := 10, 1
	tiles := []TileSetting{
		{Key: "status", Label: "Status", Priority: &priorityLow},
		{Key: "details", Label: "", Priority: &priorityHigh},
		{Key: "faith", Label: "Faith"},
	}
	settings := []Setting{
		{Key: "name", Name: "Name", Type: "text", Tile: "details"},
		{Key: "overall_status", Name: "Status", Type: "key_select", Tile: "status", InCreateForm: json.RawMessage(`2`)},
		{Key: "seeker_path", Name: "Seeker Path", Type: "key_select", Tile: "status", InCreateForm: json.RawMessage(`1`)},
		{Key: "nickname", Name: "Nickname", Type: "text", Tile: "details"},
		{Key: "secret", Name: "Secret", Type: "text", Tile: "details", Hidden: true},
		{Key: "loose", Name: "Loose", Type: "text"},
		{Key: "orphan", Name: "Orphan", Type: "text", Tile: "missing"},
		{Key: "empty", Name: "Empty", Type: "text", Tile: "faith"},
		milestones(),
	}
	values := map[string]json.RawMessage{
		"name":           json.RawMessage(`"Alice"`),
		"overall_status": json.RawMessage(`{"key":"unassigned","label":"Unassigned"}`),
		"seeker_path":    json.RawMessage(`{"key":"none","label":"Contact Attempt Needed"}`),
		"nickname":       json.RawMessage(`"Al"`),
		"secret":         json.RawMessage(`"x"`),
		"loose":          json.RawMessage(`"x"`),
		"orphan":         json.RawMessage(`"x"`),
		"empty":          json.RawMessage(`""`),
		"milestones":     json.RawMessage(`["milestone_has_bible"]`),
	}

	got := SummaryTiles(values, settings, tiles)
	require.Len(t, got, 3)
	assert.Equal(t, "details", got[0].Key)
	assert.Equal(t, "details", got[0].Label)
	assert.Equal(t, []SummaryField{{Key: "nickname", Label: "Nickname", Value: "Al", Type: "text", Order: 100}}, got[0].Fields)
	assert.Equal(t, "status", got[1].Key)
	require.Len(t, got[1].Fields, 2)
	assert.Equal(t, "seeker_path", got[1].Fields[0].Key)
	assert.Equal(t, "overall_status", got[1].Fields[1].Key)
	assert.Equal(t, "faith", got[2].Key)
	assert.Equal(t, "Has Bible", got[2].Fields[0].Value)
}

func TestEditableTilesKeepEmptyFields(t *testing.T) {
	tiles := []TileSetting{{Key: "details", Label: "Details"}}
	settings := []Setting{
		{Key: "nickname", Name: "Nickname", Type: "text", Tile: "details"},
		{Key: "coached_by", Name: "Coached By", Type: "connection", Tile: "details", PostType: "contacts"},
		{Key: "seeker_path", Name: "Seeker Path", Type: "key_select", Tile: "details", Default: Options{{Key: "none", Label: "None"}}},
	}
	got := EditableTiles(map[string]json.RawMessage{}, settings, tiles)
	require.Len(t, got, 1)
	require.Len(t, got[0].Fields, 3)
	assert.Nil(t, got[0].Fields[0].RawValue)
	assert.Equal(t, "", got[0].Fields[0].Value)
	assert.Equal(t, "contacts", got[0].Fields[1].PostType)
	assert.Len(t, got[0].Fields[2].Options, 1)

	body, err := json.Marshal(got[0].Fields[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"raw_value":null`)
}
