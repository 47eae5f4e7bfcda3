package handler

import (
	"bytes"
	"database/sql"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/completion"
	"github.com/dukerupert/dayboard/internal/database"
	"github.com/dukerupert/dayboard/internal/gate"
	"github.com/dukerupert/dayboard/internal/guard"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/profile"
	"github.com/dukerupert/dayboard/internal/store"
	"github.com/dukerupert/dayboard/internal/websocket"
)

type sentMessage struct {
	householdID int64
	userID      int64
	msg         websocket.Message
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentMessage
	moves map[int64]int64
}

func (f *fakeNotifier) BroadcastHousehold(householdID int64, msg websocket.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{householdID: householdID, msg: msg})
}

func (f *fakeNotifier) SendUser(userID int64, msg websocket.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{userID: userID, msg: msg})
}

func (f *fakeNotifier) MoveUser(userID, householdID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moves == nil {
		f.moves = make(map[int64]int64)
	}
	f.moves[userID] = householdID
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.msg.Type)
	}
	return out
}

type testEnv struct {
	db         *sql.DB
	users      *store.UserStore
	sessions   *store.SessionStore
	profiles   *store.ProfileStore
	households *store.HouseholdStore
	overrides  *store.OverrideStore
	settings   *store.SettingsStore
	invites    *store.InviteStore
	service    *profile.Service
	resolver   *permission.Resolver
	guard      *guard.Guard
	registry   *gate.Registry
	templates  *Templates
	notifier   *fakeNotifier
	logger     *slog.Logger
	logs       *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	catalog, err := permission.LoadDefault()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	resolver := permission.NewResolver(catalog, logger)
	registry, err := gate.NewRegistry(catalog, GateSlots()...)
	if err != nil {
		t.Fatalf("gate registry: %v", err)
	}
	templates, err := ParseTemplates(registry, logger)
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}

	env := &testEnv{
		db:         db,
		users:      store.NewUserStore(db),
		sessions:   store.NewSessionStore(db),
		profiles:   store.NewProfileStore(db),
		households: store.NewHouseholdStore(db),
		overrides:  store.NewOverrideStore(db),
		settings:   store.NewSettingsStore(db),
		invites:    store.NewInviteStore(db),
		resolver:   resolver,
		registry:   registry,
		templates:  templates,
		notifier:   &fakeNotifier{},
		logger:     logger,
		logs:       &logs,
	}
	env.service = profile.NewService(env.profiles, completion.Default, logger)
	env.guard = guard.New(store.NewAccessStore(db), resolver,
		guard.WithLogger(logger), guard.WithErrorPage(templates.ErrorPage))
	return env
}

// addUser creates a user and profile with the given role.
func (e *testEnv) addUser(t *testing.T, email, role string) int64 {
	t.Helper()
	u, err := e.users.Create(email, email)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := e.profiles.Create(u.ID, email, role, 10); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return u.ID
}

// addHousehold creates a household owned by ownerID.
func (e *testEnv) addHousehold(t *testing.T, ownerID int64, name string) int64 {
	t.Helper()
	h, err := e.households.CreateForOwner(ownerID, store.HouseholdInput{Name: name})
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	return h.ID
}

// join puts userID into householdID without changing their role.
func (e *testEnv) join(t *testing.T, userID, householdID int64) {
	t.Helper()
	if err := e.profiles.SetHousehold(userID, &householdID); err != nil {
		t.Fatalf("join household: %v", err)
	}
}

func asUser(r *http.Request, userID int64) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{UserID: userID, SessionID: 1}))
}

// call sends r as userID through an API guard for key and returns the
// recorded response.
func (e *testEnv) call(t *testing.T, key permission.Capability, h http.HandlerFunc, r *http.Request, userID int64, opts ...guard.RouteOption) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.guard.API(key, opts...)(h).ServeHTTP(rec, asUser(r, userID))
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestGateSlotsRegisterAgainstCatalog(t *testing.T) {
	env := newTestEnv(t)
	if got, want := len(env.registry.Slots()), len(GateSlots()); got != want {
		t.Errorf("registered slots = %d, want %d", got, want)
	}
	for _, s := range GateSlots() {
		if env.templates.set.Lookup(s.Children) == nil {
			t.Errorf("slot %s: children template %q is not defined", s.Name, s.Children)
		}
		if s.Fallback != "" && env.templates.set.Lookup(s.Fallback) == nil {
			t.Errorf("slot %s: fallback template %q is not defined", s.Name, s.Fallback)
		}
	}
}

func TestPagesRenderGatesInLoadingState(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	data := pageData(httptest.NewRequest("GET", "/onboarding", nil), "Onboarding")
	env.templates.render(rec, http.StatusOK, "page-onboarding", data)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	for _, want := range []string{`id="gate-nav-meals"`, `data-gate-state="loading"`, `hx-get="/partials/gate/nav-budget"`} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %s", want)
		}
	}
	if strings.Contains(body, `href="/budget"`) {
		t.Error("first paint must not contain gated children")
	}
}

func TestErrorPage(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		status int
		want   string
	}{
		{http.StatusForbidden, "You do not have access"},
		{http.StatusServiceUnavailable, "Temporarily unavailable"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		env.templates.ErrorPage(rec, httptest.NewRequest("GET", "/", nil), tt.status)
		if rec.Code != tt.status {
			t.Errorf("status = %d, want %d", rec.Code, tt.status)
		}
		if !strings.Contains(rec.Body.String(), tt.want) {
			t.Errorf("status %d body missing %q", tt.status, tt.want)
		}
	}
}

func TestUnknownGateInTemplateFails(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.templates.placeholder("nope", ""); err == nil {
		t.Error("expected error for an unregistered slot")
	}
}

func TestPageScriptListensForAccessEvents(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.templates.render(rec, http.StatusOK, "page-onboarding", pageData(httptest.NewRequest("GET", "/onboarding", nil), "Onboarding"))

	body := rec.Body.String()
	for _, want := range []string{`"` + websocket.TypeAccessUpdated + `"`, `"` + websocket.TypeHouseholdUpdated + `"`, `"` + gate.AccessChangedEvent + `"`} {
		if !strings.Contains(body, want) {
			t.Errorf("page script missing %s", want)
		}
	}
}
