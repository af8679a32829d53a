package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/disciple-tools/homescreen-apps/internal/accounts"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/fields"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/notify"
)

// ListLimit caps the records a list template returns.
const ListLimit = 100

// Row is one record rendered by a list template.
type Row struct {
	ID       int64             `json:"ID"`
	Name     string            `json:"name"`
	Fields   map[string]string `json:"fields"`
	Comments []crm.Comment     `json:"comments,omitempty"`
}

// ListResult is the output of a list or connections template.
type ListResult struct {
	Template Template `json:"template"`
	Posts    []Row    `json:"posts"`
	Total    int      `json:"total"`
}

// Runner executes templates against the CRM for verified magic-link owners.
type Runner struct {
	store    crm.Store
	registry *Registry
	notify   *notify.Service
	logger   *slog.Logger
}

// NewRunner creates a runner. notifier may be nil.
func NewRunner(log *slog.Logger, store crm.Store, registry *Registry, notifier *notify.Service) *Runner {
	return &Runner{
		store:    store,
		registry: registry,
		notify:   notifier,
		logger:   log.With(slog.String("service", "templates")),
	}
}

// authorize fails with ErrForbidden unless owner may run t. Dispatcher templates need the
// dispatcher link of an active user who can still dispatch; owner templates need a contact
// link.
func (r *Runner) authorize(ctx context.Context, t Template, owner magiclink.Owner) error {
	forbidden := fmt.Errorf("%w: %s", ErrForbidden, t.ID)
	if owner.ID <= 0 {
		return forbidden
	}
	switch t.AccessScope() {
	case ScopeDispatcher:
		if owner.App.Type != magiclink.TypeDispatcher {
			return forbidden
		}
		u, err := r.store.GetUser(ctx, owner.ID)
		if errors.Is(err, crm.ErrUserNotFound) {
			return forbidden
		}
		if err != nil {
			return fmt.Errorf("dispatcher user: %w", err)
		}
		if !u.IsActive || !accounts.CanDispatch(u.Roles) {
			return forbidden
		}
	default:
		if owner.App.Type != magiclink.TypeMyContacts {
			return forbidden
		}
	}
	return nil
}

// List runs a list-template or post-connections template for the magic-link owner.
// Connection templates only return records connected to the owner.
func (r *Runner) List(ctx context.Context, id string, owner magiclink.Owner) (ListResult, error) {
	t, err := r.registry.Get(id)
	if err != nil {
		return ListResult{}, err
	}
	if err := r.authorize(ctx, t, owner); err != nil {
		return ListResult{}, err
	}
	ownerID := owner.ID
	var recs []crm.Record
	switch t.Type {
	case TypeList:
		recs, err = r.store.ListRecords(ctx, crm.ListQuery{
			PostType: t.PostType,
			Filters:  queryFilters(t.Query),
			Sort:     crm.SortNewest,
			Limit:    ListLimit,
		})
		if err != nil {
			return ListResult{}, fmt.Errorf("list %s: %w", t.ID, err)
		}
	case TypeConnections:
		seen := map[int64]bool{}
		owner := strconv.FormatInt(ownerID, 10)
		for _, field := range t.ConnectionFields {
			connected, err := r.store.ListRecords(ctx, crm.ListQuery{
				PostType: t.PostType,
				Filters:  []crm.Filter{{Field: field, Values: []string{owner}}},
				Sort:     crm.SortRecentlyModified,
				Limit:    ListLimit,
			})
			if err != nil {
				return ListResult{}, fmt.Errorf("list %s by %s: %w", t.ID, field, err)
			}
			for _, rec := range connected {
				if seen[rec.ID] || rec.ID == ownerID {
					continue
				}
				seen[rec.ID] = true
				recs = append(recs, rec)
			}
		}
	default:
		return ListResult{}, fmt.Errorf("%w: %s is %s", ErrWrongType, t.ID, t.Type)
	}

	settings, err := r.store.FieldSettings(ctx, t.PostType)
	if err != nil {
		return ListResult{}, fmt.Errorf("field settings: %w", err)
	}
	byKey := map[string]fields.Setting{}
	for _, s := range settings {
		byKey[s.Key] = s
	}
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		row := Row{ID: rec.ID, Name: rec.Name(), Fields: map[string]string{}}
		for _, key := range t.EnabledFields() {
			row.Fields[key] = renderField(rec, key, byKey)
		}
		if t.ShowRecentComments > 0 {
			if row.Comments, err = r.store.ListComments(ctx, t.PostType, rec.ID, t.ShowRecentComments); err != nil {
				return ListResult{}, fmt.Errorf("comments of %d: %w", rec.ID, err)
			}
		}
		rows = append(rows, row)
	}
	return ListResult{Template: t, Posts: rows, Total: len(rows)}, nil
}

func renderField(rec crm.Record, key string, byKey map[string]fields.Setting) string {
	if key == crm.FieldName {
		return rec.Name()
	}
	setting, ok := byKey[key]
	if !ok {
		switch key {
		case crm.FieldPostDate, crm.FieldLastModified:
			setting = fields.Setting{Key: key, Type: string(fields.TypeDate)}
		default:
			setting = fields.Setting{Key: key}
		}
	}
	return fields.Format(fields.Decode(setting, rec.Raw(key)), setting)
}

func queryFilters(query map[string][]string) []crm.Filter {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]crm.Filter, 0, len(keys))
	for _, k := range keys {
		out = append(out, crm.Filter{Field: k, Values: query[k]})
	}
	return out
}

// Create creates a record from a create-record template. Only the template's enabled
// fields are accepted and a name is required. Records created through a dispatcher link
// are attributed to that user; contact links create them without a user.
func (r *Runner) Create(ctx context.Context, id string, values map[string]json.RawMessage, owner magiclink.Owner) (crm.Record, error) {
	t, err := r.registry.Get(id)
	if err != nil {
		return crm.Record{}, err
	}
	if t.Type != TypeCreate || !t.SupportsCreate {
		return crm.Record{}, fmt.Errorf("%w: %s", ErrNotCreatable, t.ID)
	}
	if err := r.authorize(ctx, t, owner); err != nil {
		return crm.Record{}, err
	}
	var userID int64
	if owner.App.Type == magiclink.TypeDispatcher {
		userID = owner.ID
	}
	if fields.IsBlank(values[crm.FieldName]) {
		return crm.Record{}, fmt.Errorf("%w: name is required", crm.ErrInvalidValue)
	}
	settings, err := r.store.FieldSettings(ctx, t.PostType)
	if err != nil {
		return crm.Record{}, fmt.Errorf("field settings: %w", err)
	}
	kinds := map[string]fields.Type{crm.FieldName: fields.TypeText}
	for _, s := range settings {
		kinds[s.Key] = s.Kind()
	}
	allowed := map[string]bool{}
	for _, key := range t.EnabledFields() {
		allowed[key] = true
	}
	update := make(map[string]any, len(values))
	for key, raw := range values {
		if !allowed[key] {
			return crm.Record{}, fmt.Errorf("%w: %s", crm.ErrUnknownField, key)
		}
		kind, ok := kinds[key]
		if !ok {
			return crm.Record{}, fmt.Errorf("%w: %s", crm.ErrUnknownField, key)
		}
		update[key] = fields.ToUpdate(kind, raw)
	}
	rec, err := r.store.CreateRecord(ctx, t.PostType, update, userID)
	if err != nil {
		return crm.Record{}, err
	}
	r.logger.Info("record created from template", slog.String("template", t.ID), slog.Int64("id", rec.ID))
	if t.SendSubmissionNotifications {
		r.notify.Emit(ctx, notify.EventRecordSubmitted, notify.RecordSubmitted{
			TemplateID: t.ID,
			PostType:   t.PostType,
			RecordID:   rec.ID,
			RecordName: rec.Name(),
			OwnerID:    owner.ID,
		})
	}
	return rec, nil
}
