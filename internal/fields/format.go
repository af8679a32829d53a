package fields

import (
	"encoding/json"
	"strings"
)

const listSeparator = ", "

// Separators between location labels in read-only and editable views.
const (
	SummaryLocationSeparator  = ", "
	EditableLocationSeparator = "\n"
)

// Format renders a value as a display string. Nil values render as "".
func Format(value Value, setting Setting) string {
	return format(value, setting, SummaryLocationSeparator)
}

// FormatEditable is Format for editable views, which list locations one per line.
func FormatEditable(value Value, setting Setting) string {
	return format(value, setting, EditableLocationSeparator)
}

func format(value Value, setting Setting, locationSeparator string) string {
	switch v := value.(type) {
	case nil:
		return ""
	case Text:
		return v.Value
	case Number:
		return v.Value.String()
	case Bool:
		if v.Value {
			return "Yes"
		}
		return "No"
	case KeySelect:
		if v.Label != "" {
			return v.Label
		}
		if opt, ok := setting.Option(v.Key); ok {
			return opt.Label
		}
		return ""
	case MultiSelect:
		labels := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			switch {
			case item.Label != "":
				labels = append(labels, item.Label)
			case item.Key != "":
				if opt, ok := setting.Option(item.Key); ok && opt.Label != "" {
					labels = append(labels, opt.Label)
				} else {
					labels = append(labels, item.Key)
				}
			}
		}
		return strings.Join(labels, listSeparator)
	case Channels:
		values := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if item.Value != "" {
				values = append(values, item.Value)
			}
		}
		return strings.Join(values, listSeparator)
	case Locations:
		labels := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if item.Label != "" {
				labels = append(labels, item.Label)
			}
		}
		return strings.Join(labels, locationSeparator)
	case Connections:
		titles := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if item.PostTitle != "" {
				titles = append(titles, item.PostTitle)
			}
		}
		return strings.Join(titles, listSeparator)
	case UserSelect:
		return v.Display
	case Date:
		return v.Formatted
	case Links:
		values := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if item.Value != "" {
				values = append(values, item.Value)
			}
		}
		return strings.Join(values, listSeparator)
	case Generic:
		return formatGeneric(v.Raw)
	default:
		return ""
	}
}

// formatGeneric shows strings as-is and objects by their label.
func formatGeneric(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Label
	}
	return ""
}

// ConnectionOption is the compact connected-record shape edit components use.
type ConnectionOption struct {
	ID     int64   `json:"id"`
	Label  string  `json:"label"`
	Link   string  `json:"link"`
	Status *Status `json:"status"`
}

// RawValue returns the value in the shape edit components consume. Nil values and values
// without an identifier return nil.
func RawValue(value Value) any {
	switch v := value.(type) {
	case nil:
		return nil
	case Text:
		return v.Value
	case Number:
		return v.Value
	case Bool:
		return v.Value
	case KeySelect:
		return v.Key
	case MultiSelect:
		keys := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if item.Key != "" {
				keys = append(keys, item.Key)
			}
		}
		return keys
	case Channels:
		return append([]Channel{}, v.Items...)
	case Locations:
		return append([]LocationRef{}, v.Items...)
	case Connections:
		out := make([]ConnectionOption, 0, len(v.Items))
		for _, item := range v.Items {
			out = append(out, ConnectionOption{
				ID:     item.ID,
				Label:  item.PostTitle,
				Link:   item.Permalink,
				Status: item.Status,
			})
		}
		return out
	case UserSelect:
		if v.ID == 0 {
			return nil
		}
		return v.ID
	case Date:
		if v.Timestamp == 0 {
			return nil
		}
		return v.Timestamp
	case Links:
		return append([]Link{}, v.Items...)
	case Generic:
		return v.Raw
	default:
		return nil
	}
}

// SelectOption is a choice offered to key_select and multi_select editors.
type SelectOption struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Color *string `json:"color"`
	Icon  *string `json:"icon"`
}

// SelectOptions lists the usable options of a select field, in configured order.
// Deleted, hidden and keyless options are skipped; a missing label falls back to the key.
// Fields of other types have no options.
func SelectOptions(setting Setting) []SelectOption {
	kind := setting.Kind()
	if kind != TypeKeySelect && kind != TypeMultiSelect {
		return []SelectOption{}
	}
	out := make([]SelectOption, 0, len(setting.Default))
	for _, opt := range setting.Default {
		if opt.Deleted || opt.Hidden || opt.Key == "" {
			continue
		}
		label := opt.Label
		if label == "" {
			label = opt.Key
		}
		out = append(out, SelectOption{
			ID:    opt.Key,
			Label: label,
			Color: optional(opt.Color),
			Icon:  optional(opt.Icon),
		})
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
