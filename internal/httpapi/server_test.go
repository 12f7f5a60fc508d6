package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lerndmina/Heimdall-sub000/internal/gateway"
	"github.com/lerndmina/Heimdall-sub000/internal/httpapi"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
	"github.com/lerndmina/Heimdall-sub000/internal/testutil"
)

type tokens map[string]string

func (t tokens) ResolveIdentity(_ context.Context, token string) (platform.Identity, error) {
	if id, ok := t[token]; ok {
		return platform.Identity{UserID: id}, nil
	}
	return platform.Identity{}, platform.ErrUnauthorized
}

type members struct{}

func (members) FetchMember(_ context.Context, guildID, userID string) (permissions.Member, error) {
	if guildID != "g1" {
		return permissions.Member{}, platform.ErrNotMember
	}
	m := permissions.Member{GuildID: guildID, UserID: userID}
	switch userID {
	case "owner":
		m.Owner = true
	case "staff":
		m.Roles = []permissions.Role{{ID: "staff-role", Position: 2}}
	case "banned":
		m.Roles = []permissions.Role{{ID: "banned-role", Position: 3}}
	}
	return m, nil
}

type broadcast struct {
	guildID string
	event   string
	data    any
}

type recorder struct {
	mu     sync.Mutex
	events []broadcast
}

func (r *recorder) Broadcast(guildID, event string, data any, _ ...gateway.BroadcastOption) {
	r.mu.Lock()
	r.events = append(r.events, broadcast{guildID, event, data})
	r.mu.Unlock()
}

func (r *recorder) take() []broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type fixture struct {
	srv      *httpapi.Server
	http     *httptest.Server
	gateway  *recorder
	registry *permissions.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testutil.OpenStore(t)
	registry := permissions.NewRegistry()
	if err := registry.Register("tickets", permissions.Category{
		Key:   "tickets",
		Label: "Tickets",
		Actions: []permissions.Action{
			{Key: "view", Label: "View"},
			{Key: "manage", Label: "Manage"},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	if err := st.PutRoleOverride(ctx, permissions.RoleOverride{GuildID: "g1", RoleID: "staff-role", Values: map[string]permissions.Decision{"tickets.view": permissions.Allow}}); err != nil {
		t.Fatalf("seed override: %v", err)
	}
	if err := st.PutRoleOverride(ctx, permissions.RoleOverride{GuildID: "g1", RoleID: "banned-role", Values: map[string]permissions.Decision{permissions.DenyAccessKey: permissions.Deny}}); err != nil {
		t.Fatalf("seed override: %v", err)
	}

	rec := &recorder{}
	srv := httpapi.New(httpapi.Deps{
		Identity:    tokens{"owner-token": "owner", "staff-token": "staff", "banned-token": "banned"},
		Members:     members{},
		Permissions: permissions.NewChecker(registry, st),
		Registry:    registry,
		Overrides:   st,
		Gateway:     rec,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, http: ts, gateway: rec, registry: registry}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(data)
}

func (f *fixture) mountTickets(t *testing.T) {
	t.Helper()
	routes := []httpapi.Route{
		{Method: http.MethodGet, Pattern: "/items/{id}", Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _ := httpapi.CallerFrom(r.Context())
			httpapi.WriteJSON(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id"), "guild": caller.GuildID})
		})},
		{Method: http.MethodPost, Pattern: "/items", Action: "manage", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpapi.WriteJSON(w, http.StatusCreated, map[string]string{"id": "1"})
		})},
		{Method: http.MethodDelete, Pattern: "/items/{id}", Action: "manage", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpapi.WriteError(w, http.StatusConflict, "locked")
		})},
	}
	if err := f.srv.MountPlugin("tickets", routes); err != nil {
		t.Fatalf("MountPlugin: %v", err)
	}
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)

	if code, _ := f.do(t, http.MethodGet, "/api/guilds/g1/permissions/me", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/guilds/g1/permissions/me", "nope", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/guilds/g2/permissions/me", "owner-token", ""); code != http.StatusForbidden {
		t.Fatalf("expected 403 outside guild, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/guilds/g1/permissions/me", "banned-token", ""); code != http.StatusForbidden {
		t.Fatalf("expected 403 for denied member, got %d", code)
	}

	code, body := f.do(t, http.MethodGet, "/api/guilds/g1/permissions/me", "staff-token", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	var me struct {
		Permissions map[string]bool `json:"permissions"`
	}
	if err := json.Unmarshal([]byte(body), &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !me.Permissions["tickets.view"] || me.Permissions["tickets.manage"] {
		t.Fatalf("unexpected resolved permissions %v", me.Permissions)
	}
}

func TestPluginRoutesArePermissionChecked(t *testing.T) {
	f := newFixture(t)
	f.mountTickets(t)

	code, body := f.do(t, http.MethodGet, "/api/guilds/g1/tickets/items/42", "staff-token", "")
	if code != http.StatusOK || !strings.Contains(body, `"id":"42"`) || !strings.Contains(body, `"guild":"g1"`) {
		t.Fatalf("unexpected response %d: %s", code, body)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/guilds/g1/tickets/items", "staff-token", "{}"); code != http.StatusForbidden {
		t.Fatalf("expected 403 for write without manage, got %d", code)
	}
	if got := f.gateway.take(); len(got) != 0 {
		t.Fatalf("rejected write must not broadcast, got %+v", got)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/guilds/g1/tickets/items", "owner-token", "{}"); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	events := f.gateway.take()
	if len(events) != 1 || events[0].event != gateway.DataChangedEvent || events[0].guildID != "g1" {
		t.Fatalf("expected one data_changed broadcast, got %+v", events)
	}
	data := events[0].data.(map[string]any)
	if data["plugin"] != "tickets" || data["requiredAction"] != "tickets.manage" {
		t.Fatalf("unexpected broadcast payload %+v", data)
	}

	if code, _ := f.do(t, http.MethodDelete, "/api/guilds/g1/tickets/items/1", "owner-token", ""); code != http.StatusConflict {
		t.Fatalf("expected handler status, got %d", code)
	}
	if got := f.gateway.take(); len(got) != 0 {
		t.Fatalf("failed write must not broadcast, got %+v", got)
	}
}

func TestUnmountPlugin(t *testing.T) {
	f := newFixture(t)
	f.mountTickets(t)
	f.srv.UnmountPlugin("tickets")

	if code, _ := f.do(t, http.MethodGet, "/api/guilds/g1/tickets/items/1", "owner-token", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 after unmount, got %d", code)
	}
	if err := f.srv.MountPlugin(httpapi.ReservedSegment, []httpapi.Route{{Pattern: "/", Handler: http.NotFoundHandler()}}); err == nil {
		t.Fatal("reserved segment must be rejected")
	}
}

func TestOverrideEndpoints(t *testing.T) {
	f := newFixture(t)
	base := "/api/guilds/g1/permissions/overrides"

	if code, _ := f.do(t, http.MethodPut, base+"/mods", "staff-token", `{"values":{"tickets":"allow"}}`); code != http.StatusForbidden {
		t.Fatalf("expected staff to be refused, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPut, base+"/mods", "owner-token", `{"values":{"nope.view":"allow"}}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown key, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPut, base+"/mods", "owner-token", `{"values":{"tickets":"maybe"}}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad decision, got %d", code)
	}

	if code, body := f.do(t, http.MethodPut, base+"/mods", "owner-token", `{"values":{"tickets":"allow","_deny_access":"allow"}}`); code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	events := f.gateway.take()
	if len(events) != 1 || events[0].event != gateway.PermissionsUpdatedEvent {
		t.Fatalf("expected permissions:updated broadcast, got %+v", events)
	}

	code, body := f.do(t, http.MethodGet, base+"/mods", "owner-token", "")
	if code != http.StatusOK || !strings.Contains(body, `"tickets":"allow"`) {
		t.Fatalf("unexpected override %d: %s", code, body)
	}
	if code, body := f.do(t, http.MethodGet, base, "owner-token", ""); code != http.StatusOK || !strings.Contains(body, "staff-role") {
		t.Fatalf("unexpected list %d: %s", code, body)
	}

	if code, _ := f.do(t, http.MethodDelete, base+"/mods", "owner-token", ""); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code, _ := f.do(t, http.MethodDelete, base+"/mods", "owner-token", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, base+"/mods", "owner-token", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", code)
	}
}

func TestCategoriesIncludePluginActions(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/guilds/g1/permissions/categories", "owner-token", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var cats []permissions.Category
	if err := json.Unmarshal([]byte(body), &cats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !permissions.Known(cats, "tickets.manage") || !permissions.Known(cats, permissions.ActionDashboardView) {
		t.Fatalf("categories missing keys: %+v", cats)
	}
}
