package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disciple-tools/homescreen-apps/internal/accounts"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/crm/crmtest"
	"github.com/disciple-tools/homescreen-apps/internal/dispatcher"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/mycontacts"
	"github.com/disciple-tools/homescreen-apps/internal/notify"
	"github.com/disciple-tools/homescreen-apps/internal/server"
	"github.com/disciple-tools/homescreen-apps/internal/templates"
)

const (
	root     = "homescreen_apps"
	secret   = "handler-secret"
	password = "correct horse"
)

var start = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	h     http.Handler
	store *crmtest.MemStore
	links *magiclink.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := crmtest.Seeded(start)

	hash, err := accounts.HashPassword(password)
	require.NoError(t, err)
	store.PutUser(crm.User{ID: 1, Username: "dee", DisplayName: "Dee", PasswordHash: hash, Roles: []string{"dispatcher"}, IsActive: true})
	store.PutUser(crm.User{ID: 2, Username: "max", DisplayName: "Max", PasswordHash: hash, Roles: []string{"multiplier"},
		LocationGridIDs: []int64{crmtest.GridCity}, ContactID: 50, IsActive: true})

	store.PutRecord("contacts", 5, map[string]any{"name": "Bob", "overall_status": "unassigned"}, start.Add(-time.Hour))
	store.PutRecord("contacts", 50, map[string]any{"name": "Max Contact", "corresponds_to_user": 2}, start.Add(-time.Hour))
	store.PutRecord("contacts", 51, map[string]any{"name": "Mine", "overall_status": "active", "assigned_to": 2}, start)

	notifier := notify.NewService(log, notify.Nop{})
	links := magiclink.NewService(log, store, root, "https://dt.example.org", magiclink.DefaultApps)
	accountService := accounts.NewService(log, store)
	defs, err := templates.Builtin()
	require.NoError(t, err)
	registry := templates.NewRegistry(defs)

	srv := server.NewServer(log, server.Options{JWTSecret: secret, Root: root},
		NewPingHandler(log, nil),
		NewAuthHandler(log, accountService, secret, time.Hour),
		NewDispatcherHandler(log, dispatcher.NewService(log, store, notifier, links), accountService, root),
		NewMyContactsHandler(log, mycontacts.NewService(log, store, notifier), links, root),
		NewAppsHandler(log, links, accountService, registry),
		NewTemplatesHandler(log, registry, templates.NewRunner(log, store, registry, notifier), links, root),
	)
	return &fixture{t: t, h: srv.Handler(), store: store, links: links}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(username string) string {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	var out LoginResponse
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.AccessToken
}

func (f *fixture) parts(ownerID int64) magiclink.Parts {
	return f.issue(magiclink.TypeMyContacts, ownerID)
}

func (f *fixture) dispatcherParts(userID int64) magiclink.Parts {
	return f.issue(magiclink.TypeDispatcher, userID)
}

func (f *fixture) issue(appType string, ownerID int64) magiclink.Parts {
	f.t.Helper()
	link, err := f.links.Issue(context.Background(), appType, ownerID, false)
	require.NoError(f.t, err)
	return magiclink.Parts{MetaKey: link.MetaKey, PublicKey: link.Key}
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Message
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingReportsDatabase(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	serve := func(db Pinger, method, path string) *httptest.ResponseRecorder {
		e := echo.New()
		NewPingHandler(log, db).Register(e)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	up := serve(pinger{}, http.MethodGet, "/ping")
	require.Equal(t, http.StatusOK, up.Code)
	var out PingResponse
	require.NoError(t, json.Unmarshal(up.Body.Bytes(), &out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "ok", out.Database)

	down := serve(pinger{err: errors.New("connection refused")}, http.MethodGet, "/ping")
	require.Equal(t, http.StatusServiceUnavailable, down.Code)
	require.NoError(t, json.Unmarshal(down.Body.Bytes(), &out))
	assert.Equal(t, "degraded", out.Status)
	assert.Equal(t, "unreachable", out.Database)

	assert.Equal(t, http.StatusOK, serve(pinger{}, http.MethodHead, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(pinger{err: errors.New("down")}, http.MethodHead, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(nil, http.MethodHead, "/health").Code)
}

func TestSwaggerRoutes(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"swagger":"2.0"}`), 0o600))

	srv := server.NewServer(log, server.Options{JWTSecret: secret, Root: root}, NewSwaggerHandler(log, path))
	get := func(p string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		return rec
	}
	spec := get("/api/swagger.json")
	require.Equal(t, http.StatusOK, spec.Code)
	assert.JSONEq(t, `{"swagger":"2.0"}`, spec.Body.String())
	ui := get("/api/docs")
	require.Equal(t, http.StatusOK, ui.Code)
	assert.Contains(t, ui.Body.String(), "/api/swagger.json")

	missing := NewSwaggerHandler(log, filepath.Join(t.TempDir(), "none.json"))
	e := echo.New()
	missing.Register(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/swagger.json", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPingAndLogin(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/ping", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodHead, "/health", "", nil).Code)

	bad := f.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "dee", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	missing := f.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "dee"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	assert.NotEmpty(t, f.login("dee"))
}

func TestDispatcherRoutes(t *testing.T) {
	f := newFixture(t)
	token := f.login("dee")
	prefix := "/" + root + "/v1/dispatcher"

	list := f.do(http.MethodPost, prefix+"/contacts", token, nil)
	require.Equal(t, http.StatusOK, list.Code, list.Body.String())
	var contacts dispatcher.ContactList
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &contacts))
	require.Equal(t, 1, contacts.Total)
	assert.Equal(t, int64(5), contacts.Contacts[0].ID)

	detail := f.do(http.MethodPost, prefix+"/contact", token, map[string]any{"contact_id": "5"})
	require.Equal(t, http.StatusOK, detail.Code, detail.Body.String())

	missing := f.do(http.MethodPost, prefix+"/contact", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, "Contact ID is required", message(t, missing))

	notFound := f.do(http.MethodPost, prefix+"/contact", token, map[string]any{"contact_id": 404})
	assert.Equal(t, http.StatusNotFound, notFound.Code)

	users := f.do(http.MethodPost, prefix+"/users", token, map[string]any{"contact_location_ids": []string{"100"}})
	require.Equal(t, http.StatusOK, users.Code, users.Body.String())
	var ranked dispatcher.UserList
	require.NoError(t, json.Unmarshal(users.Body.Bytes(), &ranked))
	require.Equal(t, 1, ranked.Total)
	assert.Equal(t, int64(2), ranked.Users[0].ID)

	assign := f.do(http.MethodPost, prefix+"/assign", token, map[string]any{"contact_id": 5, "user_id": 2})
	require.Equal(t, http.StatusOK, assign.Code, assign.Body.String())
	rec, ok := f.store.Raw(5)
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.UserID("assigned_to"))

	unknownUser := f.do(http.MethodPost, prefix+"/assign", token, map[string]any{"contact_id": 5, "user_id": 99})
	assert.Equal(t, http.StatusNotFound, unknownUser.Code)

	comment := f.do(http.MethodPost, prefix+"/comment", token, map[string]any{"contact_id": 5, "comment": "hello"})
	assert.Equal(t, http.StatusOK, comment.Code)

	mention := f.do(http.MethodPost, prefix+"/users-mention", token, map[string]any{"search": "ma"})
	require.Equal(t, http.StatusOK, mention.Code)
	assert.Contains(t, mention.Body.String(), `"display_name":"Max"`)
}

func TestDispatcherRequiresRole(t *testing.T) {
	f := newFixture(t)
	prefix := "/" + root + "/v1/dispatcher"

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, prefix+"/contacts", "", nil).Code)
	forbidden := f.do(http.MethodPost, prefix+"/contacts", f.login("max"), nil)
	assert.Equal(t, http.StatusForbidden, forbidden.Code)
}

func TestMyContactsRoutes(t *testing.T) {
	f := newFixture(t)
	prefix := "/" + root + "/v1/my_contacts"
	parts := f.parts(50)

	list := f.do(http.MethodPost, prefix+"/contacts", "", map[string]any{"parts": parts})
	require.Equal(t, http.StatusOK, list.Code, list.Body.String())
	var contacts mycontacts.ContactList
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &contacts))
	require.Equal(t, 1, contacts.Total)
	assert.Equal(t, int64(51), contacts.Contacts[0].ID)
	assert.Equal(t, int64(50), contacts.OwnerContactID)

	invalid := f.do(http.MethodPost, prefix+"/contacts", "", map[string]any{"parts": magiclink.Parts{MetaKey: parts.MetaKey, PublicKey: "bad"}})
	assert.Equal(t, http.StatusForbidden, invalid.Code)
	assert.Equal(t, "Invalid magic link", message(t, invalid))

	denied := f.do(http.MethodPost, prefix+"/contact", "", map[string]any{"parts": parts, "contact_id": 5})
	assert.Equal(t, http.StatusForbidden, denied.Code)
	assert.Equal(t, "You do not have access to this contact", message(t, denied))

	detail := f.do(http.MethodPost, prefix+"/contact", "", map[string]any{"parts": parts, "contact_id": 51})
	require.Equal(t, http.StatusOK, detail.Code, detail.Body.String())

	update := f.do(http.MethodPost, prefix+"/update-field", "", map[string]any{
		"parts": parts, "contact_id": 51, "field_key": "seeker_path", "field_value": "attempted",
	})
	require.Equal(t, http.StatusOK, update.Code, update.Body.String())
	var result mycontacts.UpdateResult
	require.NoError(t, json.Unmarshal(update.Body.Bytes(), &result))
	assert.Equal(t, "Contact Attempted", result.Value)
	assert.Equal(t, "attempted", result.RawValue)

	badValue := f.do(http.MethodPost, prefix+"/update-field", "", map[string]any{
		"parts": parts, "contact_id": 51, "field_key": "seeker_path", "field_value": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, badValue.Code)

	comment := f.do(http.MethodPost, prefix+"/comment", "", map[string]any{"parts": parts, "contact_id": 51, "comment": "hi"})
	assert.Equal(t, http.StatusOK, comment.Code)

	options := f.do(http.MethodPost, prefix+"/field-options", "", map[string]any{"parts": parts, "field": "location_grid", "query": "spring"})
	require.Equal(t, http.StatusOK, options.Code)
	assert.Contains(t, options.Body.String(), `"label":"Springfield"`)

	mention := f.do(http.MethodPost, prefix+"/users-mention", "", map[string]any{"parts": parts, "search": "de"})
	require.Equal(t, http.StatusOK, mention.Code)
	assert.JSONEq(t, `{"users":[{"ID":1,"display_name":"Dee"}]}`, mention.Body.String())
}

func TestMagicLinksAndApps(t *testing.T) {
	f := newFixture(t)
	prefix := "/" + root + "/v1"
	max := f.login("max")

	own := f.do(http.MethodPost, prefix+"/magic-links", max, map[string]any{"app": "my_contacts"})
	require.Equal(t, http.StatusOK, own.Code, own.Body.String())
	var link magiclink.Link
	require.NoError(t, json.Unmarshal(own.Body.Bytes(), &link))
	assert.Equal(t, int64(50), link.OwnerID)
	assert.Equal(t, "https://dt.example.org/homescreen_apps/my_contacts/"+link.Key, link.URL)

	other := f.do(http.MethodPost, prefix+"/magic-links", max, map[string]any{"app": "my_contacts", "owner_id": 5})
	assert.Equal(t, http.StatusForbidden, other.Code)
	dispatcherApp := f.do(http.MethodPost, prefix+"/magic-links", max, map[string]any{"app": "dispatcher"})
	assert.Equal(t, http.StatusForbidden, dispatcherApp.Code)
	unknown := f.do(http.MethodPost, prefix+"/magic-links", max, map[string]any{"app": "nope"})
	assert.Equal(t, http.StatusBadRequest, unknown.Code)

	byDispatcher := f.do(http.MethodPost, prefix+"/magic-links", f.login("dee"), map[string]any{"app": "my_contacts", "owner_id": "5"})
	assert.Equal(t, http.StatusOK, byDispatcher.Code)

	apps := f.do(http.MethodGet, prefix+"/apps", max, nil)
	require.Equal(t, http.StatusOK, apps.Code)
	var out AppsResponse
	require.NoError(t, json.Unmarshal(apps.Body.Bytes(), &out))
	assert.Len(t, out.Apps, 2)
	assert.NotEmpty(t, out.HomeApps)
}

func TestTemplateRoutes(t *testing.T) {
	f := newFixture(t)
	prefix := "/" + root + "/v1/templates"

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, prefix, "", nil).Code)
	list := f.do(http.MethodGet, prefix, f.login("max"), nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), "templates_my_coaching")

	parts := f.parts(50)
	run := f.do(http.MethodPost, prefix+"/templates_dispatcher_contacts/list", "", map[string]any{"parts": f.dispatcherParts(1)})
	require.Equal(t, http.StatusOK, run.Code, run.Body.String())
	var result templates.ListResult
	require.NoError(t, json.Unmarshal(run.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Total)

	coaching := f.do(http.MethodPost, prefix+"/templates_my_coaching/list", "", map[string]any{"parts": parts})
	assert.Equal(t, http.StatusOK, coaching.Code, coaching.Body.String())

	create := f.do(http.MethodPost, prefix+"/templates_create_contact/create", "", map[string]any{
		"parts": parts, "fields": map[string]any{"name": "New Person", "seeker_path": "none"},
	})
	require.Equal(t, http.StatusOK, create.Code, create.Body.String())
	var created CreateResponse
	require.NoError(t, json.Unmarshal(create.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.Equal(t, "New Person", created.Name)

	notCreatable := f.do(http.MethodPost, prefix+"/templates_my_coaching/create", "", map[string]any{"parts": parts, "fields": map[string]any{"name": "x"}})
	assert.Equal(t, http.StatusBadRequest, notCreatable.Code)
	missing := f.do(http.MethodPost, prefix+"/nope/list", "", map[string]any{"parts": parts})
	assert.Equal(t, http.StatusNotFound, missing.Code)
	noLink := f.do(http.MethodPost, prefix+"/templates_dispatcher_contacts/list", "", map[string]any{})
	assert.Equal(t, http.StatusForbidden, noLink.Code)
}

func TestDispatcherTemplateRejectsOtherLinks(t *testing.T) {
	f := newFixture(t)
	path := "/" + root + "/v1/templates/templates_dispatcher_contacts/list"

	for name, parts := range map[string]magiclink.Parts{
		"unrelated contact":  f.parts(51),
		"multiplier contact": f.parts(50),
		"non-dispatcher":     f.dispatcherParts(2),
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(http.MethodPost, path, "", map[string]any{"parts": parts})
			assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "Bob")
		})
	}

	create := f.do(http.MethodPost, "/"+root+"/v1/templates/templates_create_contact/create", "", map[string]any{
		"parts": f.dispatcherParts(1), "fields": map[string]any{"name": "Wrong Link"},
	})
	assert.Equal(t, http.StatusForbidden, create.Code)
}

func TestIDsUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want IDs
	}{
		{`[1,"2"," 3 ",0,"x"]`, IDs{1, 2, 3}},
		{`"4, 5"`, IDs{4, 5}},
		{`6`, IDs{6}},
		{`null`, IDs{}},
	}
	for _, tt := range tests {
		var got IDs
		require.NoError(t, json.Unmarshal([]byte(tt.in), &got), tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	var id ID
	require.NoError(t, json.Unmarshal([]byte(`"12"`), &id))
	assert.Equal(t, ID(12), id)
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &id))
}
