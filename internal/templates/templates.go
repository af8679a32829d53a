// Package templates holds the magic-link page templates and home-screen link apps.
package templates

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Template types.
const (
	TypeList        = "list-template"
	TypeConnections = "post-connections"
	TypeCreate      = "create-record"
)

// Access scopes. Dispatcher templates open with a dispatcher link; owner templates open
// with the owner's contact link and only reach records tied to that owner.
const (
	ScopeDispatcher = "dispatcher"
	ScopeOwner      = "owner"
)

//go:embed definitions.yaml
var definitionsYAML []byte

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrNotCreatable     = errors.New("template does not support create")
	ErrWrongType        = errors.New("template type does not support this action")
	ErrForbidden        = errors.New("template is not available to this link")
)

// Field is one field shown by a template.
type Field struct {
	ID      string `yaml:"id" json:"id"`
	Type    string `yaml:"type" json:"type"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Label   string `yaml:"label" json:"label"`
}

// Template is a magic-link page configuration.
type Template struct {
	ID                          string              `yaml:"id" json:"id"`
	Enabled                     bool                `yaml:"enabled" json:"enabled"`
	Name                        string              `yaml:"name" json:"name"`
	Title                       string              `yaml:"title" json:"title"`
	Type                        string              `yaml:"type" json:"type"`
	Scope                       string              `yaml:"scope,omitempty" json:"scope"`
	PostType                    string              `yaml:"post_type" json:"post_type"`
	RecordType                  string              `yaml:"record_type" json:"record_type"`
	Message                     string              `yaml:"message" json:"message"`
	Icon                        string              `yaml:"icon,omitempty" json:"icon,omitempty"`
	Query                       map[string][]string `yaml:"query,omitempty" json:"query,omitempty"`
	ConnectionFields            []string            `yaml:"connection_fields,omitempty" json:"connection_fields,omitempty"`
	Fields                      []Field             `yaml:"fields" json:"fields"`
	ShowRecentComments          int                 `yaml:"show_recent_comments" json:"show_recent_comments"`
	SendSubmissionNotifications bool                `yaml:"send_submission_notifications" json:"send_submission_notifications"`
	SupportsCreate              bool                `yaml:"supports_create" json:"supports_create"`
}

// EnabledFields returns the ids of the enabled fields in order.
func (t Template) EnabledFields() []string {
	out := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Enabled {
			out = append(out, f.ID)
		}
	}
	return out
}

// AccessScope returns the scope. Unset, list templates are dispatcher scoped and the rest
// owner scoped.
func (t Template) AccessScope() string {
	switch {
	case t.Scope != "":
		return t.Scope
	case t.Type == TypeList:
		return ScopeDispatcher
	default:
		return ScopeOwner
	}
}

func (t Template) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template: id is required")
	}
	if t.PostType == "" {
		return fmt.Errorf("template %s: post_type is required", t.ID)
	}
	switch t.AccessScope() {
	case ScopeDispatcher, ScopeOwner:
	default:
		return fmt.Errorf("template %s: unknown scope %q", t.ID, t.Scope)
	}
	if t.AccessScope() == ScopeDispatcher && t.Type == TypeConnections {
		return fmt.Errorf("template %s: connection templates are owner scoped", t.ID)
	}
	if t.AccessScope() == ScopeOwner && t.Type == TypeList {
		return fmt.Errorf("template %s: list templates are dispatcher scoped", t.ID)
	}
	switch t.Type {
	case TypeList, TypeCreate:
	case TypeConnections:
		if len(t.ConnectionFields) == 0 {
			return fmt.Errorf("template %s: connection_fields is required", t.ID)
		}
	default:
		return fmt.Errorf("template %s: unknown type %q", t.ID, t.Type)
	}
	return nil
}

// HomeApp is a home-screen app entry.
type HomeApp struct {
	Name         string `yaml:"name" json:"name"`
	Type         string `yaml:"type" json:"type"`
	CreationType string `yaml:"creation_type" json:"creation_type"`
	Icon         string `yaml:"icon" json:"icon"`
	URL          string `yaml:"url" json:"url"`
	Sort         int    `yaml:"sort" json:"sort"`
	Slug         string `yaml:"slug" json:"slug"`
	IsHidden     bool   `yaml:"is_hidden" json:"is_hidden"`
	OpenInNewTab bool   `yaml:"open_in_new_tab" json:"open_in_new_tab"`
}

// AppendHomeApps appends each app whose slug is not already used.
func AppendHomeApps(apps []HomeApp, add ...HomeApp) []HomeApp {
	for _, app := range add {
		if slices.ContainsFunc(apps, func(existing HomeApp) bool { return existing.Slug == app.Slug }) {
			continue
		}
		apps = append(apps, app)
	}
	return apps
}

// Definitions is the parsed definition file.
type Definitions struct {
	Templates []Template `yaml:"templates"`
	HomeApps  []HomeApp  `yaml:"home_apps"`
}

// ParseDefinitions decodes and validates a definitions payload.
func ParseDefinitions(data []byte) (Definitions, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definitions{}, fmt.Errorf("templates: definitions payload is empty")
	}
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return Definitions{}, fmt.Errorf("templates: decode definitions: %w", err)
	}
	for _, t := range defs.Templates {
		if err := t.validate(); err != nil {
			return Definitions{}, err
		}
	}
	return defs, nil
}

// Builtin returns the embedded definitions.
func Builtin() (Definitions, error) {
	return ParseDefinitions(definitionsYAML)
}

// Registry holds templates keyed by post type then id, plus home apps.
type Registry struct {
	mu        sync.RWMutex
	postTypes []string
	templates map[string]map[string]Template
	order     map[string][]string
	homeApps  []HomeApp
}

// NewRegistry creates a registry loaded with defs.
func NewRegistry(defs Definitions) *Registry {
	r := &Registry{
		templates: map[string]map[string]Template{},
		order:     map[string][]string{},
	}
	for _, t := range defs.Templates {
		r.Register(t)
	}
	r.AddHomeApps(defs.HomeApps...)
	return r
}

// Register adds a template; a later registration with the same id replaces the earlier one.
func (r *Registry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.templates[t.PostType]
	if !ok {
		byID = map[string]Template{}
		r.templates[t.PostType] = byID
		r.postTypes = append(r.postTypes, t.PostType)
	}
	if _, exists := byID[t.ID]; !exists {
		r.order[t.PostType] = append(r.order[t.PostType], t.ID)
	}
	byID[t.ID] = t
}

// AddHomeApps appends home apps, skipping used slugs.
func (r *Registry) AddHomeApps(apps ...HomeApp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.homeApps = AppendHomeApps(r.homeApps, apps...)
}

// HomeApps returns the home apps ordered by sort, then registration order.
func (r *Registry) HomeApps() []HomeApp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Clone(r.homeApps)
	slices.SortStableFunc(out, func(a, b HomeApp) int { return a.Sort - b.Sort })
	return out
}

// Get finds an enabled template by id.
func (r *Registry) Get(id string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, byID := range r.templates {
		if t, ok := byID[id]; ok && t.Enabled {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}

// All returns enabled templates grouped by post type in registration order.
func (r *Registry) All() map[string][]Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]Template, len(r.postTypes))
	for _, pt := range r.postTypes {
		for _, id := range r.order[pt] {
			if t := r.templates[pt][id]; t.Enabled {
				out[pt] = append(out[pt], t)
			}
		}
	}
	return out
}
