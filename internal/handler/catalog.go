package handler

import (
	"net/http"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/gate"
	"github.com/dukerupert/dayboard/internal/guard"
	"github.com/dukerupert/dayboard/internal/permission"
)

type CatalogHandler struct {
	resolver *permission.Resolver
}

func NewCatalogHandler(resolver *permission.Resolver) *CatalogHandler {
	return &CatalogHandler{resolver: resolver}
}

// Catalog lists every capability with the default bundle of each role, for
// the permissions admin screen.
func (h *CatalogHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	c := h.resolver.Catalog()
	bundles := make(map[permission.Role]map[permission.Capability]bool, len(permission.Roles))
	for _, role := range permission.Roles {
		bundles[role] = c.Bundle(role)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups":  c.Groups(),
		"roles":   permission.Roles,
		"bundles": bundles,
	})
}

// Mine resolves the whole catalog for the caller. Clients may use it to
// decide what to show; every route still enforces on its own.
func (h *CatalogHandler) Mine(w http.ResponseWriter, r *http.Request) {
	a, ok := auth.AccessFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	caps := h.resolver.ResolveMany(permission.Role(a.Role), h.resolver.Catalog().Keys(), guard.OverridesFor(a))
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         a.UserID,
		"role":            a.Role,
		"household_ready": a.HouseholdReady(),
		"capabilities":    caps,
	})
}

// Explain lists the caller's decision and its reason for every capability.
func (h *CatalogHandler) Explain(w http.ResponseWriter, r *http.Request) {
	a, ok := auth.AccessFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	ov := guard.OverridesFor(a)
	keys := h.resolver.Catalog().Keys()
	decisions := make([]permission.Decision, 0, len(keys))
	for _, key := range keys {
		decisions = append(decisions, h.resolver.Decide(permission.Role(a.Role), key, ov))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     a.UserID,
		"role":        a.Role,
		"fingerprint": gate.Fingerprint(a),
		"decisions":   decisions,
	})
}
