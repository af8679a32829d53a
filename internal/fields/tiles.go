package fields

import (
	"encoding/json"
	"slices"
)

// systemFields never appear in tiles.
var systemFields = map[string]struct{}{
	"corresponds_to_user": {},
	"duplicate_data":      {},
	"duplicate_of":        {},
	"post_author":         {},
	"record_picture":      {},
	"name":                {},
}

// Tile is a labelled, ordered group of rendered fields.
type Tile[F any] struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Order  int    `json:"order"`
	Fields []F    `json:"fields"`
}

// SummaryField is a read-only rendering of a field.
type SummaryField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
	Type  string `json:"type"`
	Order int    `json:"order"`
}

// EditableField carries what an edit component needs alongside the display value.
type EditableField struct {
	Key      string         `json:"key"`
	Label    string         `json:"label"`
	Value    string         `json:"value"`
	RawValue any            `json:"raw_value"`
	Type     string         `json:"type"`
	Options  []SelectOption `json:"options"`
	Icon     string         `json:"icon"`
	FontIcon string         `json:"font_icon"`
	Order    int            `json:"order"`
	PostType string         `json:"post_type,omitempty"`
}

// SummaryTiles groups a record's non-empty fields into tiles for read-only display.
func SummaryTiles(values map[string]json.RawMessage, settings []Setting, tiles []TileSetting) []Tile[SummaryField] {
	return buildTiles(settings, tiles, func(s Setting) (SummaryField, bool) {
		raw := values[s.Key]
		if IsEmpty(raw) {
			return SummaryField{}, false
		}
		formatted := Format(Decode(s, raw), s)
		if formatted == "" {
			return SummaryField{}, false
		}
		return SummaryField{
			Key:   s.Key,
			Label: s.Label(),
			Value: formatted,
			Type:  s.TypeName(),
			Order: s.Order(),
		}, true
	})
}

// EditableTiles groups every tiled field of a record, empty ones included, for editing.
func EditableTiles(values map[string]json.RawMessage, settings []Setting, tiles []TileSetting) []Tile[EditableField] {
	return buildTiles(settings, tiles, func(s Setting) (EditableField, bool) {
		value := Decode(s, values[s.Key])
		field := EditableField{
			Key:      s.Key,
			Label:    s.Label(),
			Value:    FormatEditable(value, s),
			RawValue: RawValue(value),
			Type:     s.TypeName(),
			Options:  SelectOptions(s),
			Icon:     s.Icon,
			FontIcon: s.FontIcon,
			Order:    s.Order(),
		}
		if s.Kind() == TypeConnection {
			field.PostType = s.PostType
		}
		return field, true
	})
}

type ordered interface {
	SummaryField | EditableField
}

func fieldOrder[F ordered](f F) int {
	switch v := any(f).(type) {
	case SummaryField:
		return v.Order
	case EditableField:
		return v.Order
	}
	return DefaultOrder
}

func buildTiles[F ordered](settings []Setting, tiles []TileSetting, render func(Setting) (F, bool)) []Tile[F] {
	tileByKey := make(map[string]TileSetting, len(tiles))
	for _, t := range tiles {
		tileByKey[t.Key] = t
	}

	var out []*Tile[F]
	index := map[string]*Tile[F]{}
	for _, s := range settings {
		if _, skip := systemFields[s.Key]; skip || s.Hidden || s.Tile == "" {
			continue
		}
		ts, ok := tileByKey[s.Tile]
		if !ok {
			continue
		}
		field, ok := render(s)
		if !ok {
			continue
		}
		tile, ok := index[s.Tile]
		if !ok {
			label := ts.Label
			if label == "" {
				label = ts.Key
			}
			tile = &Tile[F]{Key: ts.Key, Label: label, Order: ts.Order(), Fields: []F{}}
			index[s.Tile] = tile
			out = append(out, tile)
		}
		tile.Fields = append(tile.Fields, field)
	}

	slices.SortStableFunc(out, func(a, b *Tile[F]) int { return a.Order - b.Order })
	result := make([]Tile[F], 0, len(out))
	for _, tile := range out {
		slices.SortStableFunc(tile.Fields, func(a, b F) int { return fieldOrder(a) - fieldOrder(b) })
		result = append(result, *tile)
	}
	return result
}
