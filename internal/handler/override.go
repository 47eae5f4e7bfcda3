package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/guard"
	"github.com/dukerupert/dayboard/internal/model"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/store"
	"github.com/dukerupert/dayboard/internal/websocket"
)

type OverrideHandler struct {
	overrides *store.OverrideStore
	profiles  *store.ProfileStore
	catalog   *permission.Catalog
	guard     *guard.Guard
	notifier  Notifier
	logger    *slog.Logger
}

func NewOverrideHandler(overrides *store.OverrideStore, profiles *store.ProfileStore, catalog *permission.Catalog, g *guard.Guard, notifier Notifier, logger *slog.Logger) *OverrideHandler {
	return &OverrideHandler{
		overrides: overrides,
		profiles:  profiles,
		catalog:   catalog,
		guard:     g,
		notifier:  notifier,
		logger:    logger,
	}
}

func (h *OverrideHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.overrides.ListForHousehold(auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list overrides")
		return
	}
	if list == nil {
		list = []model.FeatureOverride{}
	}
	writeJSON(w, http.StatusOK, list)
}

type overrideTarget struct {
	scope      string
	targetID   int64
	capability permission.Capability
}

// parseTarget validates the path and the caller's authority over it. It
// writes the error response itself.
func (h *OverrideHandler) parseTarget(w http.ResponseWriter, r *http.Request) (overrideTarget, bool) {
	t := overrideTarget{
		scope:      r.PathValue("scope"),
		capability: permission.Capability(r.PathValue("capability")),
	}
	id, err := strconv.ParseInt(r.PathValue("target_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return t, false
	}
	t.targetID = id

	if !h.catalog.Has(t.capability) {
		writeError(w, http.StatusBadRequest, "unknown capability")
		return t, false
	}

	hid := auth.HouseholdID(r.Context())
	switch t.scope {
	case model.OverrideScopeHousehold:
		if t.targetID != hid {
			writeError(w, http.StatusNotFound, "household not found")
			return t, false
		}
	case model.OverrideScopeUser:
		p, err := h.profiles.GetByUserID(t.targetID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get member")
			return t, false
		}
		if p == nil || p.HouseholdID == nil || *p.HouseholdID != hid {
			writeError(w, http.StatusNotFound, "member not found")
			return t, false
		}
	default:
		writeError(w, http.StatusBadRequest, "scope must be user or household")
		return t, false
	}

	// Nobody hands out or takes away a capability they do not hold themselves.
	callerID := auth.UserID(r.Context())
	res, err := h.guard.Check(r.Context(), callerID, t.capability)
	if err != nil {
		h.logger.Error("override authority check failed", "error", err, "user_id", callerID)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return t, false
	}
	if !res.Allowed() {
		h.logger.Info("override escalation refused", "user_id", callerID, "capability", t.capability)
		writeError(w, http.StatusForbidden, "forbidden")
		return t, false
	}
	return t, true
}

func (h *OverrideHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Granted *bool `json:"granted"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Granted == nil {
		writeError(w, http.StatusBadRequest, "granted is required")
		return
	}

	t, ok := h.parseTarget(w, r)
	if !ok {
		return
	}

	callerID := auth.UserID(r.Context())
	o, err := h.overrides.Set(t.scope, t.targetID, string(t.capability), *req.Granted, callerID)
	if err != nil {
		h.logger.Error("set override", "error", err, "scope", t.scope, "target_id", t.targetID)
		writeError(w, http.StatusInternalServerError, "failed to set override")
		return
	}
	h.logger.Info("override set", "scope", t.scope, "target_id", t.targetID,
		"capability", t.capability, "granted", *req.Granted, "by", callerID)
	h.changed(r, t)
	writeJSON(w, http.StatusOK, o)
}

func (h *OverrideHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.parseTarget(w, r)
	if !ok {
		return
	}

	found, err := h.overrides.Delete(t.scope, t.targetID, string(t.capability))
	if err != nil {
		h.logger.Error("delete override", "error", err, "scope", t.scope, "target_id", t.targetID)
		writeError(w, http.StatusInternalServerError, "failed to delete override")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "override not found")
		return
	}
	h.logger.Info("override removed", "scope", t.scope, "target_id", t.targetID,
		"capability", t.capability, "by", auth.UserID(r.Context()))
	h.changed(r, t)
	w.WriteHeader(http.StatusNoContent)
}

func (h *OverrideHandler) changed(r *http.Request, t overrideTarget) {
	hid := auth.HouseholdID(r.Context())
	h.notifier.BroadcastHousehold(hid, websocket.NewMessage(websocket.EntityAccess, websocket.ActionUpdated, t.targetID, map[string]any{"scope": t.scope}))
}
