package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/dayboard/internal/completion"
	"github.com/dukerupert/dayboard/internal/gate"
	"github.com/dukerupert/dayboard/internal/guard"
	"github.com/dukerupert/dayboard/internal/handler"
	"github.com/dukerupert/dayboard/internal/metrics"
	"github.com/dukerupert/dayboard/internal/middleware"
	"github.com/dukerupert/dayboard/internal/model"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/profile"
	"github.com/dukerupert/dayboard/internal/store"
	ws "github.com/dukerupert/dayboard/internal/websocket"
)

// Options carries everything New needs besides the database. Identity,
// Billing and Avatars are optional; leave them nil to disable the feature.
type Options struct {
	BaseURL          string
	AccessTimeout    time.Duration
	SuperAdminEmails []string
	SecureCookies    bool

	Catalog   *permission.Catalog
	Checklist completion.Checklist
	Metrics   *metrics.Metrics

	Identity handler.IdentityProvider
	Billing  handler.BillingProvider
	Avatars  handler.AvatarStore
}

// Route is one guarded endpoint and the capability it enforces.
type Route struct {
	Pattern    string
	Capability permission.Capability
	Surface    string
}

type Server struct {
	db             *sql.DB
	hub            *ws.Hub
	guard          *guard.Guard
	registry       *gate.Registry
	authH          *handler.AuthHandler
	pageH          *handler.PageHandler
	profileH       *handler.ProfileHandler
	householdH     *handler.HouseholdHandler
	overrideH      *handler.OverrideHandler
	catalogH       *handler.CatalogHandler
	billingH       *handler.BillingHandler
	settingsH      *handler.SettingsHandler
	sessionStore   *store.SessionStore
	inviteStore    *store.InviteStore
	rateLimiter    *middleware.RateLimiter
	metrics        *metrics.Metrics
	originPatterns []string
	routes         []Route
	logger         *slog.Logger
}

func New(db *sql.DB, opts Options, logger *slog.Logger) (*Server, error) {
	if opts.Catalog == nil {
		return nil, errors.New("server: catalog is required")
	}
	hub := ws.NewHub(logger.With("component", "websocket"))
	m := opts.Metrics

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	profileStore := store.NewProfileStore(db)
	householdStore := store.NewHouseholdStore(db)
	overrideStore := store.NewOverrideStore(db)
	settingsStore := store.NewSettingsStore(db)
	inviteStore := store.NewInviteStore(db)

	var resolverOpts []permission.ResolverOption
	if m != nil {
		resolverOpts = append(resolverOpts, permission.OnUnknownCapability(func(key permission.Capability) {
			m.UnknownCapability(string(key))
		}))
	}
	resolver := permission.NewResolver(opts.Catalog, logger.With("component", "permission"), resolverOpts...)

	registry, err := gate.NewRegistry(opts.Catalog, handler.GateSlots()...)
	if err != nil {
		return nil, fmt.Errorf("gate registry: %w", err)
	}
	templates, err := handler.ParseTemplates(registry, logger.With("component", "templates"))
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	guardOpts := []guard.Option{
		guard.WithLogger(logger.With("component", "guard")),
		guard.WithTimeout(opts.AccessTimeout),
		guard.WithErrorPage(templates.ErrorPage),
	}
	if m != nil {
		guardOpts = append(guardOpts, guard.WithRecorder(m))
	}
	g := guard.New(store.NewAccessStore(db), resolver, guardOpts...)

	profiles := profile.NewService(profileStore, opts.Checklist, logger.With("component", "profile"))
	profiles.OnChange = func(p *model.Profile) {
		hub.SendUser(p.UserID, ws.NewMessage(ws.EntityProfile, ws.ActionUpdated, p.UserID, map[string]any{
			"completion_percentage": p.CompletionPercentage,
		}))
	}
	if m != nil {
		profiles.OnScoreFailure = func(int64) { m.ScoreFailures.Inc() }
	}

	var origins []string
	if u, err := url.Parse(opts.BaseURL); err == nil && u.Host != "" {
		origins = append(origins, u.Host)
	}

	return &Server{
		db:             db,
		hub:            hub,
		guard:          g,
		registry:       registry,
		authH:          handler.NewAuthHandler(opts.Identity, userStore, sessionStore, profiles, templates, opts.SuperAdminEmails, opts.SecureCookies, logger.With("component", "auth")),
		pageH:          handler.NewPageHandler(profiles, profileStore, householdStore, settingsStore, g, registry, templates, logger.With("component", "pages")),
		profileH:       handler.NewProfileHandler(profiles, profileStore, opts.Avatars, logger.With("component", "profile")),
		householdH:     handler.NewHouseholdHandler(householdStore, profileStore, sessionStore, inviteStore, templates, hub, logger.With("component", "household")),
		overrideH:      handler.NewOverrideHandler(overrideStore, profileStore, opts.Catalog, g, hub, logger.With("component", "overrides")),
		catalogH:       handler.NewCatalogHandler(resolver),
		billingH:       handler.NewBillingHandler(opts.Billing, householdStore, userStore, opts.BaseURL, logger.With("component", "billing")),
		settingsH:      handler.NewSettingsHandler(settingsStore, hub, logger.With("component", "settings")),
		sessionStore:   sessionStore,
		inviteStore:    inviteStore,
		rateLimiter:    middleware.NewRateLimiter(),
		metrics:        m,
		originPatterns: origins,
		logger:         logger,
	}, nil
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// InviteStore returns the invite store for cleanup tasks.
func (s *Server) InviteStore() *store.InviteStore {
	return s.inviteStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Routes lists the guarded endpoints registered by the last Router call.
func (s *Server) Routes() []Route {
	return s.routes
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /signin", s.authH.SignInPage)
	outerMux.HandleFunc("GET /auth/oidc/start", s.rateLimitedHandler(s.authH.Start))
	outerMux.HandleFunc("GET /auth/oidc/callback", s.rateLimitedHandler(s.authH.Callback))
	outerMux.HandleFunc("POST /signout", s.authH.SignOut)
	outerMux.HandleFunc("POST /stripe/webhook", s.billingH.Webhook)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	if s.metrics != nil {
		outerMux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Everything else goes through a capability guard.
	protectedMux := http.NewServeMux()
	s.routes = nil
	s.registerProtectedRoutes(protectedMux)
	outerMux.Handle("/", protectedMux)

	h := middleware.Authenticate(s.sessionStore, s.logger.With("component", "auth"))(outerMux)

	var obs middleware.RequestObserver
	if s.metrics != nil {
		obs = s.metrics
	}
	return middleware.RequestLogger(s.logger.With("component", "http"), obs)(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	page := func(pattern string, key permission.Capability, h http.Handler, opts ...guard.RouteOption) {
		s.routes = append(s.routes, Route{Pattern: pattern, Capability: key, Surface: guard.SurfacePage})
		mux.Handle(pattern, s.guard.Page(key, opts...)(h))
	}
	api := func(pattern string, key permission.Capability, h http.Handler, opts ...guard.RouteOption) {
		s.routes = append(s.routes, Route{Pattern: pattern, Capability: key, Surface: guard.SurfaceAPI})
		mux.Handle(pattern, s.guard.API(key, opts...)(h))
	}
	household := guard.RequireHousehold()

	// Pages
	page("GET /{$}", permission.CapDashboard, http.HandlerFunc(s.pageH.Dashboard))
	page("GET /onboarding", permission.CapProfile, http.HandlerFunc(s.pageH.Onboarding))
	page("GET /meals", permission.CapMeals, s.pageH.Section("meals", "Meals"), household)
	page("GET /lists", permission.CapLists, s.pageH.Section("lists", "Lists"), household)
	page("GET /budget", permission.CapBudget, s.pageH.Section("budget", "Budget"), household)
	page("GET /entertainment", permission.CapEntertainment, s.pageH.Section("entertainment", "Entertainment"), household)
	page("GET /settings", permission.CapSettings, http.HandlerFunc(s.pageH.Settings), household)

	// Gate partials resolve their own capability per slot.
	mux.HandleFunc("GET /partials/gate/{slot}", s.pageH.GatePartial)
	api("GET /partials/members", permission.CapHouseholdManagement, http.HandlerFunc(s.pageH.MembersPartial), household)

	// Capabilities and catalog
	api("GET /api/me/capabilities", permission.CapDashboard, http.HandlerFunc(s.catalogH.Mine))
	api("GET /api/catalog", permission.CapPermissionsManagement, http.HandlerFunc(s.catalogH.Catalog))
	api("GET /api/debug/access", permission.CapDebugTools, http.HandlerFunc(s.catalogH.Explain))

	// Profile
	api("GET /api/profile", permission.CapProfile, http.HandlerFunc(s.profileH.Get))
	api("PUT /api/profile", permission.CapProfile, http.HandlerFunc(s.profileH.Update))
	api("POST /api/profile/avatar", permission.CapProfile, http.HandlerFunc(s.profileH.UploadAvatar))
	api("GET /api/profile/avatar", permission.CapProfile, http.HandlerFunc(s.profileH.GetAvatar))
	api("POST /api/profile/pin", permission.CapProfile, http.HandlerFunc(s.profileH.SetPIN))
	api("DELETE /api/profile/pin", permission.CapProfile, http.HandlerFunc(s.profileH.ClearPIN))
	pinLimit := middleware.RateLimit(s.rateLimiter, middleware.UserOrIP, 5, time.Minute)
	api("POST /api/profile/pin/verify", permission.CapProfile, pinLimit(http.HandlerFunc(s.profileH.VerifyPIN)))

	// Household
	api("POST /api/households", permission.CapProfile, http.HandlerFunc(s.householdH.Create))
	api("POST /api/households/join", permission.CapProfile, http.HandlerFunc(s.householdH.Join))
	api("POST /api/household/invites", permission.CapHouseholdManagement, http.HandlerFunc(s.householdH.Invite), household)
	api("GET /api/household", permission.CapHouseholdManagement, http.HandlerFunc(s.householdH.Get), household)
	api("PUT /api/household", permission.CapHouseholdManagement, http.HandlerFunc(s.householdH.Update), household)
	api("GET /api/household/members", permission.CapHouseholdManagement, http.HandlerFunc(s.householdH.Members), household)
	api("PUT /api/household/members/{user_id}/role", permission.CapHouseholdManagement, http.HandlerFunc(s.householdH.SetRole), household)
	api("POST /api/household/members/{user_id}/deactivate", permission.CapHouseholdManagement, http.HandlerFunc(s.householdH.Deactivate), household)
	api("POST /api/household/members/{user_id}/activate", permission.CapHouseholdManagement, http.HandlerFunc(s.householdH.Activate), household)
	api("GET /api/household/settings", permission.CapSettings, http.HandlerFunc(s.settingsH.Get), household)
	api("PUT /api/household/settings", permission.CapSettings, http.HandlerFunc(s.settingsH.Update), household)

	// Overrides
	api("GET /api/overrides", permission.CapPermissionsManagement, http.HandlerFunc(s.overrideH.List), household)
	api("PUT /api/overrides/{scope}/{target_id}/{capability}", permission.CapPermissionsManagement, http.HandlerFunc(s.overrideH.Set), household)
	api("DELETE /api/overrides/{scope}/{target_id}/{capability}", permission.CapPermissionsManagement, http.HandlerFunc(s.overrideH.Delete), household)

	// Billing
	api("POST /api/billing/portal", permission.CapBilling, http.HandlerFunc(s.billingH.Portal), household)

	// Live updates
	api("GET /ws", permission.CapDashboard, ws.HandleWebSocket(s.hub, s.originPatterns, s.logger.With("component", "websocket")))
}
