// Package magiclink issues and verifies the public keys behind magic-link apps.
//
// A key is stored as record meta under <root>_<type>_magic_key on its owner; the link is
// <base>/<root>/<type>/<key>.
package magiclink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
)

// App types.
const (
	TypeDispatcher = "dispatcher"
	TypeMyContacts = "my_contacts"
)

// keyBytes is the raw key length; keys are hex encoded.
const keyBytes = 32

var (
	ErrInvalidKey = errors.New("invalid magic link")
	ErrUnknownApp = errors.New("unknown magic link app")
)

// App is a registered magic-link app.
type App struct {
	Type        string
	PostType    string
	Label       string
	Description string
	Icon        string
	// LoginRequired apps are served to logged-in sessions; the key only identifies the page.
	LoginRequired bool
	ContactsOnly  bool
}

// OwnerType is the meta owner the app's keys are stored on.
func (a App) OwnerType() string {
	if a.PostType == "user" {
		return crm.OwnerUser
	}
	return crm.OwnerPost
}

// DefaultApps are the apps this service serves.
var DefaultApps = []App{
	{
		Type:          TypeDispatcher,
		PostType:      "user",
		Label:         "Dispatcher",
		Description:   "Assign unassigned contacts to users.",
		Icon:          "mdi mdi-account-switch",
		LoginRequired: true,
	},
	{
		Type:         TypeMyContacts,
		PostType:     crm.PostTypeContacts,
		Label:        "My Contacts",
		Description:  "View and manage your contacts.",
		Icon:         "mdi mdi-account-group",
		ContactsOnly: true,
	},
}

// Parts identifies a magic link in a request body.
type Parts struct {
	MetaKey   string `json:"meta_key"`
	PublicKey string `json:"public_key"`
}

// Owner is the resolved owner of a verified key.
type Owner struct {
	App App
	ID  int64
}

// Link is an issued magic link.
type Link struct {
	App     string `json:"app"`
	OwnerID int64  `json:"owner_id"`
	MetaKey string `json:"meta_key"`
	Key     string `json:"public_key"`
	URL     string `json:"url"`
}

// Settings is an entry of the apps list.
type Settings struct {
	Key             string `json:"key"`
	URLBase         string `json:"url_base"`
	Label           string `json:"label"`
	Description     string `json:"description"`
	Icon            string `json:"icon"`
	SettingsDisplay bool   `json:"settings_display"`
}

// MetaStore persists keys.
type MetaStore interface {
	LookupMeta(ctx context.Context, key, value string) (crm.Meta, error)
	GetMeta(ctx context.Context, ownerType string, ownerID int64, key string) (crm.Meta, error)
	SetMeta(ctx context.Context, m crm.Meta) error
}

// Service issues and verifies keys for a set of apps under one root.
type Service struct {
	store   MetaStore
	root    string
	baseURL string
	apps    []App
	logger  *slog.Logger
}

// NewService creates a service for apps under root. Links are built on baseURL.
func NewService(log *slog.Logger, store MetaStore, root, baseURL string, apps []App) *Service {
	return &Service{
		store:   store,
		root:    strings.Trim(root, "/"),
		baseURL: strings.TrimRight(baseURL, "/"),
		apps:    slices.Clone(apps),
		logger:  log.With(slog.String("service", "magiclink")),
	}
}

// Root is the URL namespace of the apps.
func (s *Service) Root() string {
	return s.root
}

// App looks up a registered app by type.
func (s *Service) App(appType string) (App, error) {
	for _, app := range s.apps {
		if app.Type == appType {
			return app, nil
		}
	}
	return App{}, fmt.Errorf("%w: %s", ErrUnknownApp, appType)
}

// MetaKey is the meta key the app's keys are stored under.
func (s *Service) MetaKey(app App) string {
	return s.root + "_" + app.Type + "_magic_key"
}

// URLBase is the path prefix of the app.
func (s *Service) URLBase(app App) string {
	return s.root + "/" + app.Type
}

// URL builds the link for a key.
func (s *Service) URL(app App, key string) string {
	return s.baseURL + "/" + s.URLBase(app) + "/" + key
}

// Apps lists the registered apps.
func (s *Service) Apps() []Settings {
	out := make([]Settings, 0, len(s.apps))
	for _, app := range s.apps {
		out = append(out, Settings{
			Key:             s.URLBase(app),
			URLBase:         s.URLBase(app),
			Label:           app.Label,
			Description:     app.Description,
			Icon:            app.Icon,
			SettingsDisplay: true,
		})
	}
	return out
}

// Issue creates a key for the owner, replacing any previous one. With rotate false an
// existing key is returned unchanged.
func (s *Service) Issue(ctx context.Context, appType string, ownerID int64, rotate bool) (Link, error) {
	app, err := s.App(appType)
	if err != nil {
		return Link{}, err
	}
	if ownerID <= 0 {
		return Link{}, fmt.Errorf("issue %s: owner id required", appType)
	}
	metaKey := s.MetaKey(app)
	if !rotate {
		existing, err := s.store.GetMeta(ctx, app.OwnerType(), ownerID, metaKey)
		switch {
		case err == nil:
			return s.link(app, ownerID, existing.Value), nil
		case !errors.Is(err, crm.ErrMetaNotFound):
			return Link{}, fmt.Errorf("get key: %w", err)
		}
	}
	key, err := NewKey()
	if err != nil {
		return Link{}, err
	}
	if err := s.store.SetMeta(ctx, crm.Meta{OwnerType: app.OwnerType(), OwnerID: ownerID, Key: metaKey, Value: key}); err != nil {
		return Link{}, fmt.Errorf("store key: %w", err)
	}
	s.logger.Info("magic link issued", slog.String("app", app.Type), slog.Int64("owner_id", ownerID), slog.Bool("rotated", rotate))
	return s.link(app, ownerID, key), nil
}

func (s *Service) link(app App, ownerID int64, key string) Link {
	return Link{App: app.Type, OwnerID: ownerID, MetaKey: s.MetaKey(app), Key: key, URL: s.URL(app, key)}
}

// Verify resolves the owner of parts. It fails with ErrInvalidKey when the meta key is
// not one of this service's apps or no owner holds the key.
func (s *Service) Verify(ctx context.Context, parts Parts) (Owner, error) {
	if parts.MetaKey == "" || parts.PublicKey == "" {
		return Owner{}, ErrInvalidKey
	}
	var (
		app   App
		found bool
	)
	for _, candidate := range s.apps {
		if s.MetaKey(candidate) == parts.MetaKey {
			app, found = candidate, true
			break
		}
	}
	if !found {
		return Owner{}, ErrInvalidKey
	}
	meta, err := s.store.LookupMeta(ctx, parts.MetaKey, parts.PublicKey)
	if err != nil {
		if errors.Is(err, crm.ErrMetaNotFound) {
			return Owner{}, ErrInvalidKey
		}
		return Owner{}, fmt.Errorf("lookup key: %w", err)
	}
	if meta.OwnerType != app.OwnerType() || meta.OwnerID <= 0 {
		return Owner{}, ErrInvalidKey
	}
	return Owner{App: app, ID: meta.OwnerID}, nil
}

// VerifyApp is Verify restricted to one app type.
func (s *Service) VerifyApp(ctx context.Context, appType string, parts Parts) (int64, error) {
	owner, err := s.Verify(ctx, parts)
	if err != nil {
		return 0, err
	}
	if owner.App.Type != appType {
		return 0, ErrInvalidKey
	}
	return owner.ID, nil
}

// NewKey returns a random 64 character hex key.
func NewKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
