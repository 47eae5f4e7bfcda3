// Package guard enforces capabilities on page and API routes. Every decision
// is made from server-side state read fresh for the request; nothing the
// client sends about its own role is consulted.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/middleware"
	"github.com/dukerupert/dayboard/internal/model"
	"github.com/dukerupert/dayboard/internal/permission"
)

// DefaultTimeout bounds a single access lookup.
const DefaultTimeout = 3 * time.Second

const (
	SurfacePage = "page"
	SurfaceAPI  = "api"
)

type Outcome string

const (
	OutcomeGranted             Outcome = "granted"
	OutcomeDenied              Outcome = "denied"
	OutcomeUnauthenticated     Outcome = "unauthenticated"
	OutcomeUpstreamError       Outcome = "upstream_error"
	OutcomeHouseholdIncomplete Outcome = "household_incomplete"
)

// Redirect targets.
const (
	SignInPath     = "/signin"
	HomePath       = "/"
	OnboardingPath = "/onboarding"
)

// AccessLookup reads a user's role, household and overrides. It returns nil
// when the user has no profile.
type AccessLookup interface {
	Lookup(ctx context.Context, userID int64) (*model.Access, error)
}

// Recorder receives decision and lookup timings; *metrics.Metrics satisfies it.
type Recorder interface {
	Guard(surface, outcome string)
	ObserveLookup(d time.Duration)
}

// UpstreamLookupFailure means the access record could not be read in time.
// It is never reported to the client as a denial.
type UpstreamLookupFailure struct {
	UserID int64
	Err    error
}

func (e *UpstreamLookupFailure) Error() string {
	return fmt.Sprintf("access lookup for user %d: %v", e.UserID, e.Err)
}

func (e *UpstreamLookupFailure) Unwrap() error { return e.Err }

// Result is the outcome of one check. Access is set whenever the lookup
// succeeded and found a profile.
type Result struct {
	Outcome  Outcome
	Access   *model.Access
	Decision permission.Decision
}

func (r Result) Allowed() bool { return r.Outcome == OutcomeGranted }

type Option func(*Guard)

func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func WithRecorder(rec Recorder) Option {
	return func(g *Guard) { g.recorder = rec }
}

// WithErrorPage replaces the built-in 403/503 page renderer.
func WithErrorPage(fn func(w http.ResponseWriter, r *http.Request, status int)) Option {
	return func(g *Guard) { g.errorPage = fn }
}

type Guard struct {
	lookup    AccessLookup
	resolver  *permission.Resolver
	timeout   time.Duration
	logger    *slog.Logger
	recorder  Recorder
	errorPage func(w http.ResponseWriter, r *http.Request, status int)
}

func New(lookup AccessLookup, resolver *permission.Resolver, opts ...Option) *Guard {
	g := &Guard{
		lookup:    lookup,
		resolver:  resolver,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		errorPage: defaultErrorPage,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RouteOption adjusts a single guarded route.
type RouteOption func(*route)

type route struct {
	household bool
}

// RequireHousehold additionally requires the caller to belong to an existing
// household. Callers without one are sent to onboarding.
func RequireHousehold() RouteOption {
	return func(r *route) { r.household = true }
}

// Check resolves key for userID without touching HTTP. A zero userID is
// unauthenticated. The error is non-nil only for OutcomeUpstreamError.
func (g *Guard) Check(ctx context.Context, userID int64, key permission.Capability) (Result, error) {
	return g.check(ctx, userID, key, false)
}

func (g *Guard) check(ctx context.Context, userID int64, key permission.Capability, needHousehold bool) (Result, error) {
	if userID == 0 {
		return Result{Outcome: OutcomeUnauthenticated}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	a, err := g.lookup.Lookup(lookupCtx, userID)
	if g.recorder != nil {
		g.recorder.ObserveLookup(time.Since(start))
	}
	if err == nil && lookupCtx.Err() != nil {
		err = lookupCtx.Err()
	}
	if err != nil {
		return Result{Outcome: OutcomeUpstreamError}, &UpstreamLookupFailure{UserID: userID, Err: err}
	}

	if a == nil {
		g.logger.Warn("identity without profile", "user_id", userID)
		return Result{Outcome: OutcomeDenied}, nil
	}
	if a.HouseholdMissing {
		g.logger.Warn("profile references missing household", "user_id", userID, "household_id", *a.HouseholdID)
	}
	if !a.IsActive {
		return Result{Outcome: OutcomeDenied, Access: a}, nil
	}

	d := g.resolver.Decide(permission.Role(a.Role), key, OverridesFor(a))
	if d.Reason == permission.ReasonInvalidRole {
		g.logger.Warn("profile has invalid role", "user_id", userID, "role", a.Role)
	}
	res := Result{Access: a, Decision: d}
	switch {
	case !d.Allowed:
		res.Outcome = OutcomeDenied
	case needHousehold && !a.HouseholdReady():
		res.Outcome = OutcomeHouseholdIncomplete
	default:
		res.Outcome = OutcomeGranted
	}
	return res, nil
}

// OverridesFor converts the stored override rows of an access record into
// resolver input.
func OverridesFor(a *model.Access) *permission.Overrides {
	ov := &permission.Overrides{
		User:      make(map[permission.Capability]bool, len(a.UserOverrides)),
		Household: make(map[permission.Capability]bool, len(a.HouseholdOverrides)),
	}
	for k, v := range a.UserOverrides {
		ov.User[permission.Capability(k)] = v
	}
	for k, v := range a.HouseholdOverrides {
		ov.Household[permission.Capability(k)] = v
	}
	return ov
}

// Page guards an HTML route: failures become redirects or an error page.
func (g *Guard) Page(key permission.Capability, opts ...RouteOption) func(http.Handler) http.Handler {
	return g.wrap(SurfacePage, key, opts)
}

// API guards a JSON route: failures become status codes with generic bodies.
func (g *Guard) API(key permission.Capability, opts ...RouteOption) func(http.Handler) http.Handler {
	return g.wrap(SurfaceAPI, key, opts)
}

func (g *Guard) wrap(surface string, key permission.Capability, opts []RouteOption) func(http.Handler) http.Handler {
	var rt route
	for _, opt := range opts {
		opt(&rt)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserID(r.Context())
			res, err := g.check(r.Context(), userID, key, rt.household)
			if g.recorder != nil {
				g.recorder.Guard(surface, string(res.Outcome))
			}

			switch res.Outcome {
			case OutcomeGranted:
				next.ServeHTTP(w, r.WithContext(auth.WithAccess(r.Context(), res.Access)))

			case OutcomeUnauthenticated:
				g.logger.Info("unauthenticated request", "path", r.URL.Path)
				if surface == SurfaceAPI {
					writeError(w, http.StatusUnauthorized, "authentication required")
					return
				}
				middleware.Redirect(w, r, SignInPath)

			case OutcomeUpstreamError:
				g.logger.Error("access lookup failed", "error", err, "user_id", userID, "capability", key)
				var fail *UpstreamLookupFailure
				if errors.As(err, &fail) && errors.Is(fail.Err, context.Canceled) && r.Context().Err() != nil {
					// client went away; nothing to answer
					return
				}
				if surface == SurfaceAPI {
					writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
					return
				}
				g.errorPage(w, r, http.StatusServiceUnavailable)

			case OutcomeHouseholdIncomplete:
				g.logger.Info("household setup incomplete", "user_id", userID, "path", r.URL.Path)
				if surface == SurfaceAPI {
					writeError(w, http.StatusConflict, "household setup incomplete")
					return
				}
				middleware.Redirect(w, r, OnboardingPath)

			default:
				g.logger.Info("access denied", "user_id", userID, "capability", key, "reason", res.Decision.Reason)
				if surface == SurfaceAPI {
					writeError(w, http.StatusForbidden, "forbidden")
					return
				}
				if r.URL.Path == HomePath {
					g.errorPage(w, r, http.StatusForbidden)
					return
				}
				middleware.Redirect(w, r, HomePath)
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><main class="error-page"><h1>{{.Title}}</h1><p>{{.Message}}</p><p><a href="/">Back to Dayboard</a></p></main></body>
</html>
`))

func defaultErrorPage(w http.ResponseWriter, r *http.Request, status int) {
	data := struct{ Title, Message string }{"Not available", "You do not have access to this page."}
	if status >= 500 {
		data.Title, data.Message = "Temporarily unavailable", "Please try again in a moment."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	errorTmpl.Execute(w, data)
}
