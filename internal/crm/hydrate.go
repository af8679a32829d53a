package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/disciple-tools/homescreen-apps/internal/fields"
)

// statusFields names the status field shown on compact connection references.
var statusFields = map[string]string{
	PostTypeContacts: FieldOverallStatus,
	PostTypeGroups:   FieldGroupStatus,
}

// Permalink is the record's path in the CRM.
func Permalink(postType string, id int64) string {
	return fmt.Sprintf("/%s/%d", postType, id)
}

// CompactRef builds the connection reference of a canonical record.
func CompactRef(rec Record, settings []fields.Setting) fields.ConnectionRef {
	ref := fields.ConnectionRef{ID: rec.ID, PostTitle: rec.Name(), Permalink: Permalink(rec.PostType, rec.ID)}
	statusKey, ok := statusFields[rec.PostType]
	if !ok {
		return ref
	}
	key := rec.Key(statusKey)
	if key == "" {
		return ref
	}
	status := &fields.Status{Key: key, Label: key}
	if setting, found := indexSettings(settings)[statusKey]; found {
		if opt, ok := setting.Option(key); ok {
			if opt.Label != "" {
				status.Label = opt.Label
			}
			status.Color = opt.Color
		}
	}
	ref.Status = status
	return ref
}

// Hydrate expands canonical values of recs into display shapes: option keys gain labels,
// ids become compact references, user ids gain display names and timestamps gain a
// formatted date. post_date and last_modified are added from the record timestamps.
func Hydrate(ctx context.Context, src Source, postType string, recs []Record) ([]Record, error) {
	if len(recs) == 0 {
		return recs, nil
	}
	settings, err := src.FieldSettings(ctx, postType)
	if err != nil {
		return nil, fmt.Errorf("field settings: %w", err)
	}
	byKey := indexSettings(settings)

	connIDs := map[string][]int64{}
	var gridIDs, userIDs []int64
	for _, rec := range recs {
		for key := range rec.Fields {
			setting, ok := byKey[key]
			if !ok {
				continue
			}
			switch setting.Kind() {
			case fields.TypeConnection:
				target := setting.PostType
				if target == "" {
					target = postType
				}
				connIDs[target] = append(connIDs[target], rec.IDs(key)...)
			case fields.TypeLocation:
				gridIDs = append(gridIDs, rec.IDs(key)...)
			case fields.TypeUserSelect:
				if id := rec.UserID(key); id > 0 {
					userIDs = append(userIDs, id)
				}
			}
		}
	}

	refs := map[string]map[int64]fields.ConnectionRef{}
	for target, ids := range connIDs {
		connected, err := src.RawRecords(ctx, target, uniq(ids))
		if err != nil {
			return nil, fmt.Errorf("connected %s: %w", target, err)
		}
		targetSettings := settings
		if target != postType {
			if targetSettings, err = src.FieldSettings(ctx, target); err != nil {
				return nil, fmt.Errorf("field settings %s: %w", target, err)
			}
		}
		refs[target] = make(map[int64]fields.ConnectionRef, len(connected))
		for _, c := range connected {
			refs[target][c.ID] = CompactRef(c, targetSettings)
		}
	}
	var gridNames, userNames map[int64]string
	if len(gridIDs) > 0 {
		if gridNames, err = src.LocationNames(ctx, uniq(gridIDs)); err != nil {
			return nil, fmt.Errorf("location names: %w", err)
		}
	}
	if len(userIDs) > 0 {
		if userNames, err = src.DisplayNames(ctx, uniq(userIDs)); err != nil {
			return nil, fmt.Errorf("display names: %w", err)
		}
	}

	out := make([]Record, len(recs))
	for i, rec := range recs {
		hydrated := rec
		hydrated.Fields = make(map[string]json.RawMessage, len(rec.Fields)+2)
		for key, raw := range rec.Fields {
			setting, ok := byKey[key]
			if !ok {
				hydrated.Fields[key] = raw
				continue
			}
			value, err := hydrateValue(rec, setting, postType, refs, gridNames, userNames)
			if err != nil {
				return nil, fmt.Errorf("hydrate %s: %w", key, err)
			}
			if value != nil {
				hydrated.Fields[key] = value
			}
		}
		if !rec.CreatedAt.IsZero() {
			hydrated.Fields[FieldPostDate], _ = marshal(dateValue(rec.CreatedAt.Unix()))
		}
		if !rec.ModifiedAt.IsZero() {
			hydrated.Fields[FieldLastModified], _ = marshal(dateValue(rec.ModifiedAt.Unix()))
		}
		out[i] = hydrated
	}
	return out, nil
}

func hydrateValue(rec Record, setting fields.Setting, postType string, refs map[string]map[int64]fields.ConnectionRef, gridNames, userNames map[int64]string) (json.RawMessage, error) {
	key := setting.Key
	raw := rec.Fields[key]
	switch setting.Kind() {
	case fields.TypeKeySelect:
		k := rec.Key(key)
		if k == "" {
			return raw, nil
		}
		v := fields.KeySelect{Key: k, Label: k}
		if opt, ok := setting.Option(k); ok {
			if opt.Label != "" {
				v.Label = opt.Label
			}
			v.Color = opt.Color
		}
		return marshal(v)

	case fields.TypeConnection:
		target := setting.PostType
		if target == "" {
			target = postType
		}
		items := []fields.ConnectionRef{}
		for _, id := range rec.IDs(key) {
			if ref, ok := refs[target][id]; ok {
				items = append(items, ref)
			}
		}
		return marshal(items)

	case fields.TypeLocation:
		items := []fields.LocationRef{}
		for _, id := range rec.IDs(key) {
			items = append(items, fields.LocationRef{ID: id, GridID: id, Label: gridNames[id]})
		}
		return marshal(items)

	case fields.TypeUserSelect:
		id := rec.UserID(key)
		if id <= 0 {
			return raw, nil
		}
		return marshal(fields.UserSelect{ID: id, Display: userNames[id], AssignedTo: fields.UserRef(id)})

	case fields.TypeDate:
		ts, ok := int64Of(raw)
		if !ok {
			return raw, nil
		}
		return marshal(dateValue(ts))
	}
	return raw, nil
}

func dateValue(ts int64) fields.Date {
	return fields.Date{Timestamp: ts, Formatted: time.Unix(ts, 0).UTC().Format(DateLayout)}
}

func uniq(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
