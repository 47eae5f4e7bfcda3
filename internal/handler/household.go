package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/middleware"
	"github.com/dukerupert/dayboard/internal/model"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/store"
	"github.com/dukerupert/dayboard/internal/websocket"
)

const (
	maxHouseholdName = 100
	maxAddress       = 200
)

type HouseholdHandler struct {
	households *store.HouseholdStore
	profiles   *store.ProfileStore
	sessions   *store.SessionStore
	invites    *store.InviteStore
	templates  *Templates
	notifier   Notifier
	logger     *slog.Logger
}

func NewHouseholdHandler(households *store.HouseholdStore, profiles *store.ProfileStore, sessions *store.SessionStore, invites *store.InviteStore, templates *Templates, notifier Notifier, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{
		households: households,
		profiles:   profiles,
		sessions:   sessions,
		invites:    invites,
		templates:  templates,
		notifier:   notifier,
		logger:     logger,
	}
}

type householdRequest struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (req householdRequest) validate() (store.HouseholdInput, string) {
	in := store.HouseholdInput{
		Name:      strings.TrimSpace(req.Name),
		Address:   strings.TrimSpace(req.Address),
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	switch {
	case in.Name == "":
		return in, "name is required"
	case len([]rune(in.Name)) > maxHouseholdName:
		return in, "name is too long"
	case len([]rune(in.Address)) > maxAddress:
		return in, "address is too long"
	case (in.Latitude == nil) != (in.Longitude == nil):
		return in, "latitude and longitude must be set together"
	case in.Latitude != nil && (*in.Latitude < -90 || *in.Latitude > 90):
		return in, "latitude must be between -90 and 90"
	case in.Longitude != nil && (*in.Longitude < -180 || *in.Longitude > 180):
		return in, "longitude must be between -180 and 180"
	}
	return in, ""
}

// readHouseholdRequest accepts the onboarding form as well as JSON.
func readHouseholdRequest(w http.ResponseWriter, r *http.Request) (householdRequest, bool) {
	var req householdRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return req, decodeJSON(w, r, &req) == nil
	}
	if err := r.ParseForm(); err != nil {
		return req, false
	}
	req.Name = r.FormValue("name")
	req.Address = r.FormValue("address")
	for field, dst := range map[string]**float64{"latitude": &req.Latitude, "longitude": &req.Longitude} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, false
		}
		*dst = &v
	}
	return req, true
}

// Create makes a new household owned by the caller, who becomes its admin.
func (h *HouseholdHandler) Create(w http.ResponseWriter, r *http.Request) {
	if auth.HouseholdID(r.Context()) != 0 {
		writeError(w, http.StatusConflict, "already a member of a household")
		return
	}

	req, ok := readHouseholdRequest(w, r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, msg := req.validate()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	userID := auth.UserID(r.Context())
	hh, err := h.households.CreateForOwner(userID, in)
	if err != nil {
		h.logger.Error("create household", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to create household")
		return
	}
	h.logger.Info("household created", "household_id", hh.ID, "owner_id", userID)

	h.notifier.MoveUser(userID, hh.ID)
	h.notifier.SendUser(userID, websocket.NewMessage(websocket.EntityAccess, websocket.ActionUpdated, userID, nil))

	if r.Header.Get("HX-Request") == "true" {
		middleware.Redirect(w, r, "/")
		return
	}
	writeJSON(w, http.StatusCreated, hh)
}

// readField reads one field from a JSON body or a submitted form.
func readField(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]string
		if err := decodeJSON(w, r, &body); err != nil {
			return "", false
		}
		return strings.TrimSpace(body[name]), true
	}
	if err := r.ParseForm(); err != nil {
		return "", false
	}
	return strings.TrimSpace(r.FormValue(name)), true
}

// Invite issues a single-use code that lets someone join the caller's
// household. Invites cannot carry super_admin.
func (h *HouseholdHandler) Invite(w http.ResponseWriter, r *http.Request) {
	raw, ok := readField(w, r, "role")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := permission.RoleMember
	if raw != "" {
		if role, ok = permission.ParseRole(raw); !ok {
			writeError(w, http.StatusBadRequest, "unknown role")
			return
		}
	}
	if role == permission.RoleSuperAdmin {
		writeError(w, http.StatusForbidden, "invites cannot grant super_admin")
		return
	}

	hid := auth.HouseholdID(r.Context())
	userID := auth.UserID(r.Context())
	inv, err := h.invites.Create(hid, userID, string(role), store.InviteTTL)
	if err != nil {
		h.logger.Error("create invite", "error", err, "household_id", hid)
		writeError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}
	h.logger.Info("invite created", "household_id", hid, "role", role, "by", userID)

	if r.Header.Get("HX-Request") == "true" {
		h.templates.renderPartial(w, "invite-created", inv)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// Join redeems an invite code for the caller, who must not already belong to
// a household.
func (h *HouseholdHandler) Join(w http.ResponseWriter, r *http.Request) {
	if auth.HouseholdID(r.Context()) != 0 {
		writeError(w, http.StatusConflict, "already a member of a household")
		return
	}
	token, ok := readField(w, r, "token")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	userID := auth.UserID(r.Context())
	inv, err := h.invites.Redeem(token, userID)
	switch {
	case errors.Is(err, store.ErrInviteInvalid):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrAlreadyInHousehold):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("redeem invite", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to join household")
		return
	}
	h.logger.Info("joined household", "household_id", inv.HouseholdID, "user_id", userID, "invited_by", inv.CreatedBy)

	h.notifier.MoveUser(userID, inv.HouseholdID)
	h.notifier.SendUser(userID, websocket.NewMessage(websocket.EntityAccess, websocket.ActionUpdated, userID, nil))
	h.notifier.BroadcastHousehold(inv.HouseholdID, websocket.NewMessage(websocket.EntityHousehold, websocket.ActionUpdated, inv.HouseholdID, nil))

	if r.Header.Get("HX-Request") == "true" {
		middleware.Redirect(w, r, "/")
		return
	}
	hh, err := h.households.GetByID(inv.HouseholdID)
	if err != nil || hh == nil {
		writeError(w, http.StatusInternalServerError, "failed to get household")
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

func (h *HouseholdHandler) Get(w http.ResponseWriter, r *http.Request) {
	hh, err := h.households.GetByID(auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get household")
		return
	}
	if hh == nil {
		writeError(w, http.StatusNotFound, "household not found")
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

func (h *HouseholdHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req householdRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	in, msg := req.validate()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	hid := auth.HouseholdID(r.Context())
	hh, err := h.households.Update(hid, in)
	if err != nil {
		h.logger.Error("update household", "error", err, "household_id", hid)
		writeError(w, http.StatusInternalServerError, "failed to update household")
		return
	}
	h.notifier.BroadcastHousehold(hid, websocket.NewMessage(websocket.EntityHousehold, websocket.ActionUpdated, hid, nil))
	writeJSON(w, http.StatusOK, hh)
}

func (h *HouseholdHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.profiles.ListByHousehold(auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []model.Profile{}
	}
	writeJSON(w, http.StatusOK, members)
}

// target loads the member named in the path and applies the rules shared by
// every member administration call. It writes the error response itself.
func (h *HouseholdHandler) target(w http.ResponseWriter, r *http.Request) (*model.Profile, bool) {
	targetID, err := parseUserIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return nil, false
	}
	callerID := auth.UserID(r.Context())
	if targetID == callerID {
		writeError(w, http.StatusForbidden, "you cannot change your own membership")
		return nil, false
	}

	p, err := h.profiles.GetByUserID(targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get member")
		return nil, false
	}
	hid := auth.HouseholdID(r.Context())
	if p == nil || p.HouseholdID == nil || *p.HouseholdID != hid {
		writeError(w, http.StatusNotFound, "member not found")
		return nil, false
	}
	if p.Role == string(permission.RoleSuperAdmin) && !callerIsSuperAdmin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return p, true
}

func callerIsSuperAdmin(r *http.Request) bool {
	a, ok := auth.AccessFrom(r.Context())
	return ok && a.Role == string(permission.RoleSuperAdmin)
}

// SetRole changes another member's role. Only a super_admin may grant or
// take away super_admin.
func (h *HouseholdHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	role, ok := permission.ParseRole(req.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	target, ok := h.target(w, r)
	if !ok {
		return
	}
	if role == permission.RoleSuperAdmin && !callerIsSuperAdmin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	p, err := h.profiles.SetRole(target.UserID, string(role))
	if err != nil {
		h.logger.Error("set role", "error", err, "user_id", target.UserID)
		writeError(w, http.StatusInternalServerError, "failed to set role")
		return
	}
	h.logger.Info("role changed", "user_id", target.UserID, "from", target.Role, "to", role,
		"by", auth.UserID(r.Context()))
	h.notifier.BroadcastHousehold(*target.HouseholdID, websocket.NewMessage(websocket.EntityAccess, websocket.ActionUpdated, target.UserID, nil))
	writeJSON(w, http.StatusOK, p)
}

// Deactivate soft-disables a member and ends their sessions.
func (h *HouseholdHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *HouseholdHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *HouseholdHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	target, ok := h.target(w, r)
	if !ok {
		return
	}

	p, err := h.profiles.SetActive(target.UserID, active)
	if err != nil {
		h.logger.Error("set active", "error", err, "user_id", target.UserID)
		writeError(w, http.StatusInternalServerError, "failed to update member")
		return
	}
	if !active {
		if err := h.sessions.DeleteByUserID(target.UserID); err != nil {
			h.logger.Error("end sessions", "error", err, "user_id", target.UserID)
		}
	}
	h.logger.Info("member active changed", "user_id", target.UserID, "active", active,
		"by", auth.UserID(r.Context()))
	h.notifier.BroadcastHousehold(*target.HouseholdID, websocket.NewMessage(websocket.EntityAccess, websocket.ActionUpdated, target.UserID, nil))
	writeJSON(w, http.StatusOK, p)
}
