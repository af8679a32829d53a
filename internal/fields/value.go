package fields

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Value is a decoded field value. The variants below are the only implementations.
type Value interface {
	isValue()
}

// Text holds text and textarea values.
type Text struct {
	Value string
}

// Number holds a numeric value in its CRM representation.
type Number struct {
	Value json.Number
}

// Bool holds a boolean value.
type Bool struct {
	Value bool
}

// KeySelect holds the selected option of a key_select field.
type KeySelect struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Color string `json:"color,omitempty"`
}

// SelectItem is one entry of a multi_select or tags value. The CRM stores bare keys;
// some callers carry a label alongside.
type SelectItem struct {
	Key   string
	Label string
}

// MultiSelect holds multi_select and tags values.
type MultiSelect struct {
	Items []SelectItem
}

// Channel is one communication channel entry (phone, email, ...).
type Channel struct {
	Key      string `json:"key,omitempty"`
	Value    string `json:"value"`
	Verified bool   `json:"verified,omitempty"`
}

// Channels holds a communication_channel value.
type Channels struct {
	Items []Channel
}

// LocationRef is one location grid entry.
type LocationRef struct {
	ID         int64  `json:"id,omitempty"`
	GridID     int64  `json:"grid_id,omitempty"`
	GridMetaID int64  `json:"grid_meta_id,omitempty"`
	Label      string `json:"label"`
}

// Grid returns the grid id of the entry, whichever field carries it.
func (l LocationRef) Grid() int64 {
	if l.ID != 0 {
		return l.ID
	}
	return l.GridID
}

// Locations holds location values.
type Locations struct {
	Items []LocationRef
}

// Status is the compact status object attached to connected records.
type Status struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
}

// ConnectionRef is one connected record.
type ConnectionRef struct {
	ID        int64   `json:"ID"`
	PostTitle string  `json:"post_title"`
	Permalink string  `json:"permalink,omitempty"`
	Status    *Status `json:"status,omitempty"`
}

// Connections holds a connection value.
type Connections struct {
	Items []ConnectionRef
}

// UserSelect holds a user_select value.
type UserSelect struct {
	ID         int64  `json:"id"`
	Display    string `json:"display"`
	AssignedTo string `json:"assigned-to,omitempty"`
}

// Date holds a date value.
type Date struct {
	Timestamp int64  `json:"timestamp"`
	Formatted string `json:"formatted"`
}

// Link is one link entry.
type Link struct {
	Value  string `json:"value"`
	Type   string `json:"type,omitempty"`
	MetaID string `json:"meta_id,omitempty"`
}

// Links holds a link value.
type Links struct {
	Items []Link
}

// Generic holds anything that does not fit its declared type.
type Generic struct {
	Raw json.RawMessage
}

func (Text) isValue()        {}
func (Number) isValue()      {}
func (Bool) isValue()        {}
func (KeySelect) isValue()   {}
func (MultiSelect) isValue() {}
func (Channels) isValue()    {}
func (Locations) isValue()   {}
func (Connections) isValue() {}
func (UserSelect) isValue()  {}
func (Date) isValue()        {}
func (Links) isValue()       {}
func (Generic) isValue()     {}

// IsBlank reports whether raw carries no value: missing, null or an empty string.
func IsBlank(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}

// IsEmpty reports whether raw is blank, false, zero, or an empty array or object.
func IsEmpty(raw json.RawMessage) bool {
	if IsBlank(raw) {
		return true
	}
	switch string(bytes.TrimSpace(raw)) {
	case "false", "0", "[]", "{}", `"0"`:
		return true
	}
	return false
}

// Decode turns a stored value into its typed variant. It returns nil for blank values and
// Generic when the payload does not match the declared type.
func Decode(setting Setting, raw json.RawMessage) Value {
	raw = bytes.TrimSpace(raw)
	if IsBlank(raw) {
		return nil
	}
	switch setting.Kind() {
	case TypeText, TypeTextarea:
		if s, ok := scalarString(raw); ok {
			return Text{Value: s}
		}
	case TypeNumber:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return Number{Value: n}
		}
		if s, ok := scalarString(raw); ok {
			return Text{Value: s}
		}
	case TypeBoolean:
		return Bool{Value: truthy(raw)}
	case TypeKeySelect:
		var v KeySelect
		if err := json.Unmarshal(raw, &v); err == nil && v.Key != "" {
			return v
		}
		var key string
		if err := json.Unmarshal(raw, &key); err == nil {
			opt, _ := setting.Option(key)
			return KeySelect{Key: key, Label: opt.Label, Color: opt.Color}
		}
	case TypeMultiSelect, TypeTags:
		if items, ok := decodeSelectItems(raw); ok {
			return MultiSelect{Items: items}
		}
	case TypeCommunicationChannel:
		var items []Channel
		if err := json.Unmarshal(raw, &items); err == nil {
			return Channels{Items: items}
		}
	case TypeLocation:
		var items []LocationRef
		if err := json.Unmarshal(raw, &items); err == nil {
			return Locations{Items: items}
		}
	case TypeConnection:
		var items []ConnectionRef
		if err := json.Unmarshal(raw, &items); err == nil {
			return Connections{Items: items}
		}
	case TypeUserSelect:
		var v UserSelect
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	case TypeDate:
		var v Date
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
		var ts int64
		if err := json.Unmarshal(raw, &ts); err == nil {
			return Date{Timestamp: ts}
		}
	case TypeLink:
		var items []Link
		if err := json.Unmarshal(raw, &items); err == nil {
			return Links{Items: items}
		}
	case TypeUnknown:
	}
	return Generic{Raw: append(json.RawMessage(nil), raw...)}
}

func decodeSelectItems(raw json.RawMessage) ([]SelectItem, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false
	}
	items := make([]SelectItem, 0, len(elems))
	for _, elem := range elems {
		if s, ok := scalarString(elem); ok {
			items = append(items, SelectItem{Key: s})
			continue
		}
		var obj struct {
			Key   string `json:"key"`
			Value string `json:"value"`
			Label string `json:"label"`
		}
		if err := json.Unmarshal(elem, &obj); err != nil {
			continue
		}
		key := obj.Value
		if key == "" {
			key = obj.Key
		}
		if key == "" && obj.Label == "" {
			continue
		}
		items = append(items, SelectItem{Key: key, Label: obj.Label})
	}
	return items, true
}

// scalarString returns a JSON string or number as a Go string.
func scalarString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func truthy(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	if s, ok := scalarString(raw); ok {
		s = strings.TrimSpace(strings.ToLower(s))
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n != 0
		}
		return s != "" && s != "false"
	}
	return !IsEmpty(raw)
}
