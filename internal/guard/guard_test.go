package guard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/metrics"
	"github.com/dukerupert/dayboard/internal/model"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/store"
)

type fakeLookup struct {
	access map[int64]*model.Access
	err    error
	calls  int
}

func (f *fakeLookup) Lookup(ctx context.Context, userID int64) (*model.Access, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.access[userID], nil
}

type blockingLookup struct{}

func (blockingLookup) Lookup(ctx context.Context, userID int64) (*model.Access, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testResolver(t *testing.T) *permission.Resolver {
	t.Helper()
	c, err := permission.LoadDefault()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return permission.NewResolver(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestGuard(t *testing.T, lookup AccessLookup, opts ...Option) *Guard {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(lookup, testResolver(t), opts...)
}

func householdID(id int64) *int64 { return &id }

func member(userID int64, role string) *model.Access {
	return &model.Access{
		UserID:      userID,
		Role:        role,
		IsActive:    true,
		HouseholdID: householdID(1),
	}
}

func okHandler(t *testing.T, seen **model.Access) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := auth.AccessFrom(r.Context())
		if !ok {
			t.Error("expected Access in context for a granted request")
		}
		if seen != nil {
			*seen = a
		}
		w.WriteHeader(http.StatusOK)
	})
}

func unreachable(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	})
}

func request(method, path string, userID int64) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if userID != 0 {
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID, SessionID: 1}))
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIUnauthenticated(t *testing.T) {
	lookup := &fakeLookup{}
	g := newTestGuard(t, lookup)

	rec := serve(g.API(permission.CapBudget)(unreachable(t)), request("GET", "/api/budget", 0))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if lookup.calls != 0 {
		t.Errorf("lookup calls = %d, want 0 for anonymous request", lookup.calls)
	}
}

func TestPageUnauthenticatedRedirects(t *testing.T) {
	g := newTestGuard(t, &fakeLookup{})
	h := g.Page(permission.CapMeals)(unreachable(t))

	rec := serve(h, request("GET", "/meals", 0))
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != SignInPath {
		t.Errorf("Location = %q, want %q", loc, SignInPath)
	}

	req := request("GET", "/meals", 0)
	req.Header.Set("HX-Request", "true")
	rec = serve(h, req)
	if got := rec.Header().Get("HX-Redirect"); got != SignInPath {
		t.Errorf("HX-Redirect = %q, want %q", got, SignInPath)
	}
}

func TestAPIMemberDeniedBudget(t *testing.T) {
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{7: member(7, "member")}})

	rec := serve(g.API(permission.CapBudget)(unreachable(t)), request("GET", "/api/budget", 7))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	body := rec.Body.String()
	if strings.Contains(body, "budget") {
		t.Errorf("response body reveals the capability: %s", body)
	}
	if !strings.Contains(body, `"error":"forbidden"`) {
		t.Errorf("body = %s, want generic forbidden error", body)
	}
}

func TestAPISuperAdminGranted(t *testing.T) {
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{1: member(1, "super_admin")}})

	var seen *model.Access
	rec := serve(g.API(permission.CapSystemAdmin)(okHandler(t, &seen)), request("GET", "/api/system", 1))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if seen == nil || seen.UserID != 1 {
		t.Errorf("context Access = %+v, want user 1", seen)
	}
}

func TestUpstreamFailureIsNotADenial(t *testing.T) {
	var logs bytes.Buffer
	lookup := &fakeLookup{err: errors.New("connection refused")}
	g := New(lookup, testResolver(t), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	rec := serve(g.API(permission.CapMeals)(unreachable(t)), request("GET", "/api/meals", 3))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("api status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("response leaks internal error: %s", rec.Body.String())
	}

	rec = serve(g.Page(permission.CapMeals)(unreachable(t)), request("GET", "/meals", 3))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("page status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if rec.Header().Get("Location") != "" {
		t.Errorf("upstream failure should not redirect, got Location %q", rec.Header().Get("Location"))
	}

	out := logs.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "access lookup failed") {
		t.Errorf("expected error-level upstream log, got %q", out)
	}
	if strings.Contains(out, "access denied") {
		t.Errorf("upstream failure logged as denial: %q", out)
	}
}

func TestLookupTimeout(t *testing.T) {
	g := newTestGuard(t, blockingLookup{}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	rec := serve(g.API(permission.CapDashboard)(unreachable(t)), request("GET", "/api/me/capabilities", 3))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("guard waited %v, want it bounded by the timeout", elapsed)
	}
}

func TestClientRoleClaimsIgnored(t *testing.T) {
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{7: member(7, "member")}})

	req := request("GET", "/api/budget?role=super_admin", 7)
	req.Header.Set("X-Dayboard-Role", "super_admin")
	req.Header.Set("X-Role", "admin")
	rec := serve(g.API(permission.CapBudget)(unreachable(t)), req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRequireHousehold(t *testing.T) {
	noHousehold := member(2, "admin")
	noHousehold.HouseholdID = nil
	dangling := member(3, "admin")
	dangling.HouseholdMissing = true

	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{
		1: member(1, "admin"),
		2: noHousehold,
		3: dangling,
	}})

	tests := []struct {
		name   string
		userID int64
		want   int
	}{
		{"ready", 1, http.StatusOK},
		{"no household", 2, http.StatusConflict},
		{"dangling household", 3, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := g.API(permission.CapHouseholdManagement, RequireHousehold())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			rec := serve(h, request("GET", "/api/household", tt.userID))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	rec := serve(g.Page(permission.CapMeals, RequireHousehold())(unreachable(t)), request("GET", "/meals", 2))
	if loc := rec.Header().Get("Location"); loc != OnboardingPath {
		t.Errorf("Location = %q, want %q", loc, OnboardingPath)
	}
}

func TestHouseholdNotRequiredByDefault(t *testing.T) {
	a := member(2, "member")
	a.HouseholdID = nil
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{2: a}})

	rec := serve(g.Page(permission.CapProfile)(okHandler(t, nil)), request("GET", "/onboarding", 2))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestPageDenialRedirectsHome(t *testing.T) {
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{7: member(7, "member")}})

	rec := serve(g.Page(permission.CapBudget)(unreachable(t)), request("GET", "/budget", 7))
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != HomePath {
		t.Errorf("Location = %q, want %q", loc, HomePath)
	}
}

func TestPageDenialAtHomeDoesNotLoop(t *testing.T) {
	inactive := member(7, "member")
	inactive.IsActive = false
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{7: inactive}})

	rec := serve(g.Page(permission.CapDashboard)(unreachable(t)), request("GET", "/", 7))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if rec.Header().Get("Location") != "" {
		t.Error("denial at home must not redirect")
	}
}

func TestCustomErrorPage(t *testing.T) {
	var gotStatus int
	g := newTestGuard(t, &fakeLookup{err: errors.New("boom")}, WithErrorPage(func(w http.ResponseWriter, r *http.Request, status int) {
		gotStatus = status
		w.WriteHeader(status)
	}))

	serve(g.Page(permission.CapMeals)(unreachable(t)), request("GET", "/meals", 1))
	if gotStatus != http.StatusServiceUnavailable {
		t.Errorf("error page status = %d, want %d", gotStatus, http.StatusServiceUnavailable)
	}
}

func TestInactiveAndMissingProfileDenied(t *testing.T) {
	inactive := member(4, "admin")
	inactive.IsActive = false
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{4: inactive}})

	for _, uid := range []int64{4, 5} {
		rec := serve(g.API(permission.CapDashboard)(unreachable(t)), request("GET", "/api/me/capabilities", uid))
		if rec.Code != http.StatusForbidden {
			t.Errorf("user %d: status = %d, want %d", uid, rec.Code, http.StatusForbidden)
		}
	}
}

func TestInvalidStoredRoleDenied(t *testing.T) {
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{9: member(9, "owner")}})

	res, err := g.Check(context.Background(), 9, permission.CapDashboard)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Allowed() {
		t.Error("invalid role should be denied")
	}
	if res.Decision.Reason != permission.ReasonInvalidRole {
		t.Errorf("reason = %q, want %q", res.Decision.Reason, permission.ReasonInvalidRole)
	}
}

func TestOverridesApplied(t *testing.T) {
	granted := member(7, "member")
	granted.UserOverrides = map[string]bool{"budget": true}
	revoked := member(8, "admin")
	revoked.HouseholdOverrides = map[string]bool{"meals": false}

	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{7: granted, 8: revoked}})

	rec := serve(g.API(permission.CapBudget)(okHandler(t, nil)), request("GET", "/api/budget", 7))
	if rec.Code != http.StatusOK {
		t.Errorf("user grant: status = %d, want %d", rec.Code, http.StatusOK)
	}
	rec = serve(g.API(permission.CapMeals)(unreachable(t)), request("GET", "/api/meals", 8))
	if rec.Code != http.StatusForbidden {
		t.Errorf("household revoke: status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCheck(t *testing.T) {
	g := newTestGuard(t, &fakeLookup{err: errors.New("disk I/O error")})

	res, err := g.Check(context.Background(), 0, permission.CapDashboard)
	if err != nil || res.Outcome != OutcomeUnauthenticated {
		t.Errorf("anonymous Check = %v, %v; want unauthenticated, nil", res.Outcome, err)
	}

	res, err = g.Check(context.Background(), 1, permission.CapDashboard)
	var fail *UpstreamLookupFailure
	if !errors.As(err, &fail) {
		t.Fatalf("err = %v, want UpstreamLookupFailure", err)
	}
	if fail.UserID != 1 {
		t.Errorf("UserID = %d, want 1", fail.UserID)
	}
	if res.Outcome != OutcomeUpstreamError || res.Allowed() {
		t.Errorf("outcome = %v, want upstream_error", res.Outcome)
	}
}

func TestDecisionsRecorded(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	g := newTestGuard(t, &fakeLookup{access: map[int64]*model.Access{7: member(7, "member")}}, WithRecorder(m))

	serve(g.API(permission.CapBudget)(unreachable(t)), request("GET", "/api/budget", 7))
	serve(g.API(permission.CapMeals)(okHandler(t, nil)), request("GET", "/api/meals", 7))
	serve(g.Page(permission.CapMeals)(unreachable(t)), request("GET", "/meals", 0))

	checks := []struct {
		surface, outcome string
		want             float64
	}{
		{SurfaceAPI, string(OutcomeDenied), 1},
		{SurfaceAPI, string(OutcomeGranted), 1},
		{SurfacePage, string(OutcomeUnauthenticated), 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(m.GuardDecisions.WithLabelValues(c.surface, c.outcome)); got != c.want {
			t.Errorf("%s/%s = %v, want %v", c.surface, c.outcome, got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.AccessLookup); n != 1 {
		t.Errorf("lookup histogram series = %d, want 1", n)
	}
}

func TestAccessStoreFailureFailsClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT p.user_id").WillReturnError(errors.New("database is locked"))

	g := newTestGuard(t, store.NewAccessStore(db))
	rec := serve(g.API(permission.CapDashboard)(unreachable(t)), request("GET", "/api/me/capabilities", 5))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
