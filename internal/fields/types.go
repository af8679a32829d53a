// Package fields converts CRM field values between their stored shape, a display string,
// the raw value edit components work with, and the update shape the CRM accepts.
package fields

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type is the closed set of field types this package understands.
type Type string

const (
	TypeText                 Type = "text"
	TypeTextarea             Type = "textarea"
	TypeNumber               Type = "number"
	TypeBoolean              Type = "boolean"
	TypeKeySelect            Type = "key_select"
	TypeMultiSelect          Type = "multi_select"
	TypeTags                 Type = "tags"
	TypeCommunicationChannel Type = "communication_channel"
	TypeLocation             Type = "location"
	TypeConnection           Type = "connection"
	TypeUserSelect           Type = "user_select"
	TypeDate                 Type = "date"
	TypeLink                 Type = "link"
	TypeUnknown              Type = "unknown"
)

// ParseType maps a CRM type name onto Type. Location aliases collapse onto TypeLocation;
// anything unrecognised becomes TypeUnknown.
func ParseType(name string) Type {
	switch strings.TrimSpace(name) {
	case "", "text":
		return TypeText
	case "textarea":
		return TypeTextarea
	case "number":
		return TypeNumber
	case "boolean":
		return TypeBoolean
	case "key_select":
		return TypeKeySelect
	case "multi_select":
		return TypeMultiSelect
	case "tags":
		return TypeTags
	case "communication_channel":
		return TypeCommunicationChannel
	case "location", "location_grid", "location_grid_meta", "location_meta":
		return TypeLocation
	case "connection":
		return TypeConnection
	case "user_select":
		return TypeUserSelect
	case "date":
		return TypeDate
	case "link":
		return TypeLink
	default:
		return TypeUnknown
	}
}

// Setting is the CRM's per-field configuration.
type Setting struct {
	Key          string          `json:"key"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Tile         string          `json:"tile,omitempty"`
	Hidden       bool            `json:"hidden,omitempty"`
	InCreateForm json.RawMessage `json:"in_create_form,omitempty"`
	Default      Options         `json:"default,omitempty"`
	Icon         string          `json:"icon,omitempty"`
	FontIcon     string          `json:"font-icon,omitempty"`
	PostType     string          `json:"post_type,omitempty"`
}

// Kind returns the parsed Type of the setting.
func (s Setting) Kind() Type {
	return ParseType(s.Type)
}

// TypeName returns the CRM type name, "text" when unset.
func (s Setting) TypeName() string {
	if strings.TrimSpace(s.Type) == "" {
		return string(TypeText)
	}
	return s.Type
}

// Label returns the display name, falling back to the key.
func (s Setting) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Key
}

// Order is the numeric in_create_form value, 100 when absent or not numeric.
func (s Setting) Order() int {
	return numericOr(s.InCreateForm, DefaultOrder)
}

// Option returns the option with the given key.
func (s Setting) Option(key string) (Option, bool) {
	for _, opt := range s.Default {
		if opt.Key == key {
			return opt, true
		}
	}
	return Option{}, false
}

// DefaultOrder is used for tiles and fields without a usable order.
const DefaultOrder = 100

// Option is one choice of a key_select or multi_select field.
type Option struct {
	Key     string `json:"key"`
	Label   string `json:"label,omitempty"`
	Color   string `json:"color,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Hidden  bool   `json:"hidden,omitempty"`
}

// Options keeps options in their configured order. It decodes from either a JSON array
// of options or the CRM's object form keyed by option key.
type Options []Option

// UnmarshalJSON implements json.Unmarshaler.
func (o *Options) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '[' {
		var list []Option
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*o = list
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("options: unexpected token %v", tok)
	}
	var out Options
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var opt Option
		if err := dec.Decode(&opt); err != nil {
			return fmt.Errorf("options %q: %w", key, err)
		}
		opt.Key = key
		out = append(out, opt)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}

// TileSetting is a CRM tile: a labelled group of fields.
type TileSetting struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Priority *int   `json:"tile_priority,omitempty"`
}

// Order is the tile priority, 100 when unset.
func (t TileSetting) Order() int {
	if t.Priority == nil {
		return DefaultOrder
	}
	return *t.Priority
}

func numericOr(raw json.RawMessage, fallback int) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fallback
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return int(i)
		}
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if i, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int(i)
		}
	}
	return fallback
}
