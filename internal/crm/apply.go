package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/disciple-tools/homescreen-apps/internal/fields"
)

// DateLayout formats hydrated date values.
const DateLayout = "2006-01-02"

// Change is one field change recorded in the activity log.
type Change struct {
	Action string
	Key    string
	Value  string
	Old    string
}

type listOp struct {
	value  json.RawMessage
	delete bool
}

// ApplyUpdate applies update values to canonical field values and returns the new values
// with the changes made. The current map is not modified. Keys are processed in sorted
// order; a nil, null or empty value clears the field.
func ApplyUpdate(current map[string]json.RawMessage, settings []fields.Setting, values map[string]any) (map[string]json.RawMessage, []Change, error) {
	next := make(map[string]json.RawMessage, len(current)+len(values))
	for k, v := range current {
		next[k] = v
	}
	byKey := indexSettings(settings)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var changes []Change
	for _, key := range keys {
		setting, ok := byKey[key]
		if !ok {
			if key != FieldName {
				return nil, nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
			}
			setting = fields.Setting{Key: FieldName, Type: string(fields.TypeText)}
		}
		raw, err := json.Marshal(values[key])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		old := current[key]
		value, err := applyValue(setting, old, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		if value == nil {
			delete(next, key)
		} else {
			next[key] = value
		}
		changes = append(changes, diff(setting, old, value)...)
	}
	return next, changes, nil
}

func applyValue(setting fields.Setting, old, raw json.RawMessage) (json.RawMessage, error) {
	if fields.IsBlank(raw) {
		return nil, nil
	}
	switch setting.Kind() {
	case fields.TypeText, fields.TypeTextarea:
		s, ok := scalarText(raw)
		if !ok {
			return nil, fmt.Errorf("expected text")
		}
		return marshal(s)

	case fields.TypeNumber:
		s, ok := scalarText(raw)
		if !ok {
			return nil, fmt.Errorf("expected number")
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil || !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("expected number, got %q", s)
		}
		return json.RawMessage(s), nil

	case fields.TypeBoolean:
		var b bool
		if json.Unmarshal(raw, &b) == nil {
			return marshal(b)
		}
		s, _ := scalarText(raw)
		switch strings.ToLower(s) {
		case "1", "true", "yes", "on":
			return marshal(true)
		case "0", "false", "no", "off":
			return marshal(false)
		}
		return nil, fmt.Errorf("expected boolean")

	case fields.TypeKeySelect:
		key, ok := scalarText(raw)
		if !ok {
			var obj struct {
				Key string `json:"key"`
			}
			if json.Unmarshal(raw, &obj) != nil {
				return nil, fmt.Errorf("expected option key")
			}
			key = obj.Key
		}
		if key == "" {
			return nil, nil
		}
		if len(setting.Default) > 0 {
			if _, found := setting.Option(key); !found {
				return nil, fmt.Errorf("unknown option %q", key)
			}
		}
		return marshal(key)

	case fields.TypeMultiSelect, fields.TypeTags:
		ops, replace, err := parseListOps(raw)
		if err != nil {
			return nil, err
		}
		keys := Record{Fields: map[string]json.RawMessage{"v": old}}.Keys("v")
		if replace {
			keys = nil
		}
		for _, op := range ops {
			key, ok := scalarText(op.value)
			if !ok || key == "" {
				return nil, fmt.Errorf("expected option key")
			}
			if op.delete {
				keys = slices.DeleteFunc(keys, func(k string) bool { return k == key })
				continue
			}
			if setting.Kind() == fields.TypeMultiSelect && len(setting.Default) > 0 {
				if _, found := setting.Option(key); !found {
					return nil, fmt.Errorf("unknown option %q", key)
				}
			}
			if !slices.Contains(keys, key) {
				keys = append(keys, key)
			}
		}
		if len(keys) == 0 {
			return nil, nil
		}
		return marshal(keys)

	case fields.TypeConnection, fields.TypeLocation:
		ops, replace, err := parseListOps(raw)
		if err != nil {
			return nil, err
		}
		ids := Record{Fields: map[string]json.RawMessage{"v": old}}.IDs("v")
		if replace {
			ids = nil
		}
		for _, op := range ops {
			id, ok := int64Of(op.value)
			if !ok || id <= 0 {
				return nil, fmt.Errorf("expected id, got %s", op.value)
			}
			if op.delete {
				ids = slices.DeleteFunc(ids, func(v int64) bool { return v == id })
				continue
			}
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, nil
		}
		return marshal(ids)

	case fields.TypeUserSelect:
		var v any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		if obj, ok := v.(map[string]any); ok {
			v = obj["id"]
		}
		id, ok := fields.ParseUserRef(v)
		if !ok {
			return nil, fmt.Errorf("expected user reference")
		}
		return marshal(id)

	case fields.TypeDate:
		if ts, ok := int64Of(raw); ok {
			return marshal(ts)
		}
		var obj struct {
			Timestamp int64 `json:"timestamp"`
		}
		if json.Unmarshal(raw, &obj) == nil && obj.Timestamp != 0 {
			return marshal(obj.Timestamp)
		}
		s, _ := scalarText(raw)
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("expected date, got %q", s)
		}
		return marshal(t.Unix())

	case fields.TypeCommunicationChannel:
		var existing []fields.Channel
		if len(old) > 0 {
			_ = json.Unmarshal(old, &existing)
		}
		var items []struct {
			Key      string `json:"key"`
			Value    string `json:"value"`
			Verified bool   `json:"verified"`
			Delete   bool   `json:"delete"`
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("expected channel list")
		}
		for _, item := range items {
			idx := slices.IndexFunc(existing, func(c fields.Channel) bool { return item.Key != "" && c.Key == item.Key })
			switch {
			case item.Delete && idx >= 0:
				existing = slices.Delete(existing, idx, idx+1)
			case item.Delete:
			case idx >= 0:
				existing[idx].Value = item.Value
				existing[idx].Verified = item.Verified
			case strings.TrimSpace(item.Value) != "":
				existing = append(existing, fields.Channel{Key: channelKey(setting.Key), Value: item.Value, Verified: item.Verified})
			}
		}
		if len(existing) == 0 {
			return nil, nil
		}
		return marshal(existing)

	case fields.TypeLink:
		var links []fields.Link
		if err := json.Unmarshal(raw, &links); err != nil {
			return nil, fmt.Errorf("expected link list")
		}
		links = slices.DeleteFunc(links, func(l fields.Link) bool { return strings.TrimSpace(l.Value) == "" })
		if len(links) == 0 {
			return nil, nil
		}
		return marshal(links)
	}
	return append(json.RawMessage(nil), raw...), nil
}

// parseListOps reads {"values":[{"value":..,"delete":..}], "force_values":..} or a bare
// array, which replaces the list.
func parseListOps(raw json.RawMessage) ([]listOp, bool, error) {
	type opJSON struct {
		Value  json.RawMessage `json:"value"`
		Delete bool            `json:"delete"`
	}
	var upd struct {
		Values      []opJSON `json:"values"`
		ForceValues bool     `json:"force_values"`
	}
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		if err := json.Unmarshal(raw, &upd); err != nil {
			return nil, false, fmt.Errorf("expected values update")
		}
		ops := make([]listOp, 0, len(upd.Values))
		for _, v := range upd.Values {
			ops = append(ops, listOp{value: v.Value, delete: v.Delete})
		}
		return ops, upd.ForceValues, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false, fmt.Errorf("expected list")
	}
	ops := make([]listOp, 0, len(elems))
	for _, elem := range elems {
		var o opJSON
		if bytes.HasPrefix(bytes.TrimSpace(elem), []byte("{")) && json.Unmarshal(elem, &o) == nil && len(o.Value) > 0 {
			ops = append(ops, listOp{value: o.Value, delete: o.Delete})
			continue
		}
		ops = append(ops, listOp{value: elem})
	}
	return ops, true, nil
}

func diff(setting fields.Setting, old, value json.RawMessage) []Change {
	if setting.Kind() != fields.TypeConnection {
		if bytes.Equal(old, value) {
			return nil
		}
		return []Change{{Action: ActionFieldUpdate, Key: setting.Key, Value: canonicalText(value), Old: canonicalText(old)}}
	}
	before := Record{Fields: map[string]json.RawMessage{"v": old}}.IDs("v")
	after := Record{Fields: map[string]json.RawMessage{"v": value}}.IDs("v")
	var out []Change
	for _, id := range after {
		if !slices.Contains(before, id) {
			out = append(out, Change{Action: ActionConnected, Key: setting.Key, Value: strconv.FormatInt(id, 10)})
		}
	}
	for _, id := range before {
		if !slices.Contains(after, id) {
			out = append(out, Change{Action: ActionDisconnected, Key: setting.Key, Value: strconv.FormatInt(id, 10)})
		}
	}
	return out
}

func channelKey(field string) string {
	return field + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func indexSettings(settings []fields.Setting) map[string]fields.Setting {
	out := make(map[string]fields.Setting, len(settings))
	for _, s := range settings {
		out[s.Key] = s
	}
	return out
}

func marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// scalarText returns a JSON string or number as text.
func scalarText(raw json.RawMessage) (string, bool) {
	if s, ok := stringOf(raw); ok {
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String(), true
	}
	return "", false
}

func canonicalText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if s, ok := stringOf(raw); ok {
		return s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return string(raw)
	}
	return buf.String()
}

// Match reports whether a canonical record satisfies the filter.
func (f Filter) Match(rec Record) bool {
	if len(f.Values) == 0 {
		return true
	}
	for _, v := range textValues(rec.Raw(f.Field)) {
		if slices.Contains(f.Values, v) {
			return true
		}
	}
	return false
}

func textValues(raw json.RawMessage) []string {
	if fields.IsBlank(raw) {
		return nil
	}
	var elems []json.RawMessage
	if json.Unmarshal(raw, &elems) != nil {
		elems = []json.RawMessage{raw}
	}
	out := make([]string, 0, len(elems))
	for _, elem := range elems {
		if s, ok := scalarText(elem); ok {
			out = append(out, s)
			continue
		}
		out = append(out, canonicalText(elem))
	}
	return out
}
