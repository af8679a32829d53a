package fields

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// DeletePrefix marks a multi_select or tags entry for removal in submitted values.
const DeletePrefix = "-"

// ValueOp adds or removes one entry of a list-valued field.
type ValueOp struct {
	Value  any  `json:"value"`
	Delete bool `json:"delete,omitempty"`
}

// ValuesUpdate is the CRM update shape for list-valued fields.
type ValuesUpdate struct {
	Values []ValueOp `json:"values"`
}

// ToUpdate converts a value submitted by an edit component into the CRM update shape
// for a field of type kind. Unrecognised payloads pass through unchanged.
func ToUpdate(kind Type, raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	switch kind {
	case TypeMultiSelect, TypeTags:
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return ValuesUpdate{Values: []ValueOp{}}
		}
		ops := make([]ValueOp, 0, len(elems))
		for _, elem := range elems {
			var s string
			if err := json.Unmarshal(elem, &s); err == nil {
				if strings.HasPrefix(s, DeletePrefix) {
					ops = append(ops, ValueOp{Value: strings.TrimPrefix(s, DeletePrefix), Delete: true})
				} else {
					ops = append(ops, ValueOp{Value: s})
				}
				continue
			}
			ops = append(ops, ValueOp{Value: decodeAny(elem)})
		}
		return ValuesUpdate{Values: ops}

	case TypeCommunicationChannel:
		var items []any
		if err := json.Unmarshal(raw, &items); err != nil {
			return []any{}
		}
		return items

	case TypeConnection:
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return ValuesUpdate{Values: []ValueOp{}}
		}
		ops := make([]ValueOp, 0, len(elems))
		for _, elem := range elems {
			var item struct {
				ID     json.RawMessage `json:"id"`
				Delete bool            `json:"delete"`
			}
			if err := json.Unmarshal(elem, &item); err == nil && len(item.ID) > 0 {
				ops = append(ops, ValueOp{Value: decodeAny(item.ID), Delete: item.Delete})
				continue
			}
			if id, ok := asInt(elem); ok {
				ops = append(ops, ValueOp{Value: id})
			}
		}
		return ValuesUpdate{Values: ops}

	case TypeLocation:
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return ValuesUpdate{Values: []ValueOp{}}
		}
		ops := make([]ValueOp, 0, len(elems))
		for _, elem := range elems {
			var item struct {
				ID     json.RawMessage `json:"id"`
				GridID json.RawMessage `json:"grid_id"`
				Delete bool            `json:"delete"`
			}
			if err := json.Unmarshal(elem, &item); err != nil {
				continue
			}
			switch {
			case len(item.ID) > 0:
				ops = append(ops, ValueOp{Value: decodeAny(item.ID), Delete: item.Delete})
			case len(item.GridID) > 0:
				ops = append(ops, ValueOp{Value: decodeAny(item.GridID), Delete: item.Delete})
			}
		}
		return ValuesUpdate{Values: ops}

	case TypeUserSelect:
		if id, ok := asInt(raw); ok {
			return UserRef(id)
		}
		return decodeAny(raw)

	default:
		return decodeAny(raw)
	}
}

// UserRef is the CRM's user_select reference form, "user-<id>".
func UserRef(id int64) string {
	return "user-" + strconv.FormatInt(id, 10)
}

// ParseUserRef accepts "user-<id>", a bare numeric string or a JSON number.
func ParseUserRef(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, t > 0
	case int:
		return int64(t), t > 0
	case float64:
		return int64(t), t > 0
	case json.Number:
		n, err := t.Int64()
		return n, err == nil && n > 0
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(t), "user-")
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

func asInt(raw json.RawMessage) (int64, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	if f, err := n.Float64(); err == nil {
		return int64(f), true
	}
	return 0, false
}

func decodeAny(raw json.RawMessage) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	return v
}
