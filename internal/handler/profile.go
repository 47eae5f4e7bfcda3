package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/avatar"
	"github.com/dukerupert/dayboard/internal/profile"
	"github.com/dukerupert/dayboard/internal/store"
)

// AvatarStore keeps profile images. *avatar.Store satisfies it.
type AvatarStore interface {
	Upload(ctx context.Context, userID int64, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, userID int64, key string) error
}

type ProfileHandler struct {
	profiles *profile.Service
	store    *store.ProfileStore
	avatars  AvatarStore
	logger   *slog.Logger
}

// NewProfileHandler serves the caller's own profile. A nil avatar store
// disables uploads.
func NewProfileHandler(profiles *profile.Service, ps *store.ProfileStore, avatars AvatarStore, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, store: ps, avatars: avatars, logger: logger}
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	p, err := h.profiles.Get(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": p,
		"missing": h.profiles.Checklist().Missing(p),
	})
}

func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch profile.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.AvatarRef != nil && *patch.AvatarRef != "" {
		writeError(w, http.StatusBadRequest, "avatar_ref can only be cleared; upload to /api/profile/avatar")
		return
	}

	userID := auth.UserID(r.Context())
	before, err := h.profiles.Get(userID)
	if err != nil || before == nil {
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}

	p, err := h.profiles.Update(userID, patch)
	if errors.Is(err, profile.ErrInvalidField) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("update profile", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	if before.AvatarRef != nil && p.AvatarRef == nil {
		h.dropAvatar(r.Context(), userID, *before.AvatarRef)
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		writeError(w, http.StatusServiceUnavailable, "avatar storage is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, avatar.MaxSize+1<<20)
	if err := r.ParseMultipartForm(avatar.MaxSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "avatar too large")
		return
	}
	file, _, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	userID := auth.UserID(r.Context())
	before, err := h.profiles.Get(userID)
	if err != nil || before == nil {
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}

	key, err := h.avatars.Upload(r.Context(), userID, file)
	switch {
	case errors.Is(err, avatar.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "avatar too large")
		return
	case errors.Is(err, avatar.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, "avatar must be a PNG, JPEG, GIF or WebP image")
		return
	case err != nil:
		h.logger.Error("upload avatar", "error", err, "user_id", userID)
		writeError(w, http.StatusBadGateway, "failed to store avatar")
		return
	}

	p, err := h.profiles.Update(userID, profile.Patch{AvatarRef: &key})
	if err != nil {
		h.logger.Error("save avatar reference", "error", err, "user_id", userID)
		h.dropAvatar(r.Context(), userID, key)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	if before.AvatarRef != nil && *before.AvatarRef != key {
		h.dropAvatar(r.Context(), userID, *before.AvatarRef)
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProfileHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	p, err := h.profiles.Get(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	if h.avatars == nil || p == nil || p.AvatarRef == nil {
		writeError(w, http.StatusNotFound, "no avatar")
		return
	}

	body, contentType, err := h.avatars.Open(r.Context(), *p.AvatarRef)
	if err != nil {
		h.logger.Error("open avatar", "error", err, "user_id", userID)
		writeError(w, http.StatusBadGateway, "failed to load avatar")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	io.Copy(w, body)
}

// dropAvatar deletes a replaced object; failures only leave an orphan.
func (h *ProfileHandler) dropAvatar(ctx context.Context, userID int64, key string) {
	if h.avatars == nil {
		return
	}
	if err := h.avatars.Delete(ctx, userID, key); err != nil {
		h.logger.Warn("delete old avatar", "error", err, "user_id", userID, "key", key)
	}
}

func (h *ProfileHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.PIN) != 4 || !isDigits(req.PIN) {
		writeError(w, http.StatusBadRequest, "PIN must be exactly 4 digits")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash PIN")
		return
	}
	s := string(hash)
	if err := h.store.SetPINHash(auth.UserID(r.Context()), &s); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set PIN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pin_set"})
}

func (h *ProfileHandler) ClearPIN(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetPINHash(auth.UserID(r.Context()), nil); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear PIN")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyPIN checks the kiosk PIN of a member of the caller's household.
func (h *ProfileHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		PIN    string `json:"pin"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == 0 {
		req.UserID = auth.UserID(r.Context())
	}

	target, err := h.store.GetByUserID(req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	hid := auth.HouseholdID(r.Context())
	if target == nil || (target.UserID != auth.UserID(r.Context()) &&
		(hid == 0 || target.HouseholdID == nil || *target.HouseholdID != hid)) {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	hash, err := h.store.GetPINHash(target.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get PIN")
		return
	}
	if hash == "" {
		writeError(w, http.StatusBadRequest, "no PIN set")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.PIN)); err != nil {
		writeError(w, http.StatusUnauthorized, "incorrect PIN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
