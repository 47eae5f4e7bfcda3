package handler

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/gate"
	"github.com/dukerupert/dayboard/internal/guard"
	"github.com/dukerupert/dayboard/internal/middleware"
	"github.com/dukerupert/dayboard/internal/model"
	"github.com/dukerupert/dayboard/internal/profile"
	"github.com/dukerupert/dayboard/internal/store"
)

type PageHandler struct {
	profiles   *profile.Service
	members    *store.ProfileStore
	households *store.HouseholdStore
	settings   *store.SettingsStore
	guard      *guard.Guard
	registry   *gate.Registry
	templates  *Templates
	logger     *slog.Logger
}

func NewPageHandler(profiles *profile.Service, members *store.ProfileStore, households *store.HouseholdStore, settings *store.SettingsStore, g *guard.Guard, registry *gate.Registry, templates *Templates, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		profiles:   profiles,
		members:    members,
		households: households,
		settings:   settings,
		guard:      g,
		registry:   registry,
		templates:  templates,
		logger:     logger,
	}
}

// pageData seeds a signed-in page. GateDep is the access fingerprint the
// page's gates were drawn under.
func pageData(r *http.Request, title string) map[string]any {
	dep := ""
	if a, ok := auth.AccessFrom(r.Context()); ok {
		dep = gate.Fingerprint(a)
	}
	return map[string]any{"Title": title + " | Dayboard", "SignedIn": true, "GateDep": dep}
}

// household loads the caller's household, or nil when setup is incomplete.
func (h *PageHandler) household(r *http.Request) (*model.Household, error) {
	hid := auth.HouseholdID(r.Context())
	if hid == 0 {
		return nil, nil
	}
	return h.households.GetByID(hid)
}

func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	p, err := h.profiles.Get(userID)
	if err != nil || p == nil {
		h.logger.Error("load dashboard profile", "error", err, "user_id", userID)
		h.templates.ErrorPage(w, r, http.StatusInternalServerError)
		return
	}

	hh, err := h.household(r)
	if err != nil {
		h.logger.Error("load dashboard household", "error", err, "user_id", userID)
		h.templates.ErrorPage(w, r, http.StatusInternalServerError)
		return
	}
	if hh == nil {
		middleware.Redirect(w, r, guard.OnboardingPath)
		return
	}

	data := pageData(r, "Home")
	data["Profile"] = p
	data["Missing"] = h.profiles.Checklist().Missing(p)
	data["Household"] = hh
	h.templates.render(w, http.StatusOK, "page-dashboard", data)
}

func (h *PageHandler) Onboarding(w http.ResponseWriter, r *http.Request) {
	if auth.HouseholdID(r.Context()) != 0 {
		middleware.Redirect(w, r, guard.HomePath)
		return
	}
	h.templates.render(w, http.StatusOK, "page-onboarding", pageData(r, "Set up your household"))
}

// Section serves one of the household feature pages. The route guard has
// already checked the capability and the household.
func (h *PageHandler) Section(name, heading string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hh, err := h.household(r)
		if err != nil || hh == nil {
			h.logger.Error("load section household", "error", err, "section", name)
			h.templates.ErrorPage(w, r, http.StatusInternalServerError)
			return
		}
		data := pageData(r, heading)
		data["Section"] = name
		data["Heading"] = heading
		data["Household"] = hh
		h.templates.render(w, http.StatusOK, "page-section", data)
	}
}

func (h *PageHandler) Settings(w http.ResponseWriter, r *http.Request) {
	hid := auth.HouseholdID(r.Context())
	settings, err := h.settings.GetAll(hid)
	if err != nil {
		h.logger.Error("load settings", "error", err, "household_id", hid)
		h.templates.ErrorPage(w, r, http.StatusInternalServerError)
		return
	}
	data := pageData(r, "Settings")
	data["Settings"] = settings
	h.templates.render(w, http.StatusOK, "page-settings", data)
}

// GatePartial resolves one gate slot for the caller and renders its settled
// view. An upstream failure answers 503 so the client keeps showing the
// loading view instead of the denied one.
func (h *PageHandler) GatePartial(w http.ResponseWriter, r *http.Request) {
	slot, ok := h.registry.Lookup(r.PathValue("slot"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	userID := auth.UserID(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	res, err := h.guard.Check(r.Context(), userID, slot.Capability)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.logger.Error("gate check failed", "error", err, "slot", slot.Name, "user_id", userID)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	// The gate was drawn for the fingerprint in the query. A result for
	// different access is discarded and the gate reloads under the current one.
	current := gate.Fingerprint(res.Access)
	dep := r.URL.Query().Get(gate.DepParam)
	if dep == "" {
		dep = current
	}
	m := gate.NewMachine()
	m.Begin(dep)
	if !m.Settle(current, res.Allowed()) {
		h.logger.Debug("gate result for stale access discarded", "slot", slot.Name, "user_id", userID)
		m.Begin(current)
	}

	var buf bytes.Buffer
	if err := h.templates.gates.Render(&buf, slot, m.State(), current, map[string]any{"Access": res.Access}); err != nil {
		h.logger.Error("render gate", "error", err, "slot", slot.Name)
		http.Error(w, "failed to render gate", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Vary", "Cookie")
	buf.WriteTo(w)
}

// MembersPartial lists the caller's household for the admin members panel.
func (h *PageHandler) MembersPartial(w http.ResponseWriter, r *http.Request) {
	hid := auth.HouseholdID(r.Context())
	members, err := h.members.ListByHousehold(hid)
	if err != nil {
		h.logger.Error("list members", "error", err, "household_id", hid)
		http.Error(w, "failed to load members", http.StatusInternalServerError)
		return
	}
	h.templates.renderPartial(w, "members-list", map[string]any{"Members": members})
}
