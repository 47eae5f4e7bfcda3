package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/middleware"
	"github.com/dukerupert/dayboard/internal/model"
	"github.com/dukerupert/dayboard/internal/profile"
	"github.com/dukerupert/dayboard/internal/sso"
	"github.com/dukerupert/dayboard/internal/store"
)

const oidcCookieName = "dayboard_oidc"

// IdentityProvider is the sign-in half of an OpenID Connect client.
// *sso.Provider satisfies it.
type IdentityProvider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*sso.Identity, error)
}

type AuthHandler struct {
	provider    IdentityProvider
	users       *store.UserStore
	sessions    *store.SessionStore
	profiles    *profile.Service
	templates   *Templates
	superAdmins []string
	secure      bool
	logger      *slog.Logger
}

// NewAuthHandler builds the sign-in flow. A nil provider leaves sign-in
// disabled.
func NewAuthHandler(provider IdentityProvider, users *store.UserStore, sessions *store.SessionStore, profiles *profile.Service, templates *Templates, superAdmins []string, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		provider:    provider,
		users:       users,
		sessions:    sessions,
		profiles:    profiles,
		templates:   templates,
		superAdmins: superAdmins,
		secure:      secure,
		logger:      logger,
	}
}

func (h *AuthHandler) SignInPage(w http.ResponseWriter, r *http.Request) {
	if auth.UserID(r.Context()) != 0 {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	data := map[string]any{
		"Title":    "Sign in | Dayboard",
		"SignedIn": false,
		"Enabled":  h.provider != nil,
		"Error":    "",
	}
	if r.URL.Query().Get("error") != "" {
		data["Error"] = "Sign-in failed. Please try again."
	}
	h.templates.render(w, http.StatusOK, "page-signin", data)
}

// Start sends the browser to the identity provider with a fresh state and
// nonce pinned in a short-lived cookie.
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		http.NotFound(w, r)
		return
	}
	state, nonce := uuid.NewString(), uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oidcCookieName,
		Value:    state + "." + nonce,
		Path:     "/auth/oidc",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state, nonce), http.StatusFound)
}

func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		http.NotFound(w, r)
		return
	}

	cookie, err := r.Cookie(oidcCookieName)
	if err != nil {
		h.fail(w, r, "missing state cookie")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oidcCookieName, Value: "", Path: "/auth/oidc", MaxAge: -1, HttpOnly: true})

	state, nonce, ok := strings.Cut(cookie.Value, ".")
	got := r.URL.Query().Get("state")
	if !ok || got == "" || subtle.ConstantTimeCompare([]byte(state), []byte(got)) != 1 {
		h.fail(w, r, "state mismatch")
		return
	}
	if e := r.URL.Query().Get("error"); e != "" {
		h.fail(w, r, "provider returned error", "provider_error", e)
		return
	}

	id, err := h.provider.Exchange(r.Context(), r.URL.Query().Get("code"), nonce)
	if err != nil {
		h.fail(w, r, "code exchange failed", "error", err)
		return
	}

	u, err := h.findOrCreateUser(id)
	if errors.Is(err, errUnverifiedEmail) {
		h.fail(w, r, err.Error(), "subject", id.Subject)
		return
	}
	if err != nil {
		h.logger.Error("sign-in user lookup failed", "error", err, "subject", id.Subject)
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}

	p, created, err := h.profiles.Ensure(u, id.EmailVerified, h.superAdmins)
	if err != nil {
		h.logger.Error("sign-in profile setup failed", "error", err, "user_id", u.ID)
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}

	sess, err := h.sessions.Create(u.ID)
	if err != nil {
		h.logger.Error("create session failed", "error", err, "user_id", u.ID)
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}
	middleware.SetSessionCookie(w, sess, h.secure)
	h.logger.Info("signed in", "user_id", u.ID, "new_profile", created)

	if p.HouseholdID == nil {
		http.Redirect(w, r, "/onboarding", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

var errUnverifiedEmail = errors.New("unverified email matches an existing account")

// findOrCreateUser matches by subject first, then links an existing account
// by verified email.
func (h *AuthHandler) findOrCreateUser(id *sso.Identity) (*model.User, error) {
	u, err := h.users.GetBySubject(id.Subject)
	if err != nil || u != nil {
		return u, err
	}

	u, err = h.users.GetByEmail(id.Email)
	if err != nil {
		return nil, err
	}
	if u != nil && !id.EmailVerified {
		return nil, errUnverifiedEmail
	}
	if u == nil {
		u, err = h.users.Create(id.Email, id.Name)
		if err != nil {
			return nil, err
		}
	}
	if err := h.users.LinkSubject(u.ID, id.Subject); err != nil {
		return nil, err
	}
	return u, nil
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, reason string, args ...any) {
	h.logger.Warn("sign-in rejected", append([]any{"reason", reason}, args...)...)
	http.Redirect(w, r, "/signin?error=1", http.StatusSeeOther)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if id, ok := auth.FromContext(r.Context()); ok {
		if err := h.sessions.Delete(id.SessionID); err != nil {
			h.logger.Error("delete session failed", "error", err, "user_id", id.UserID)
		}
	}
	middleware.ClearSessionCookie(w)
	middleware.Redirect(w, r, "/signin")
}
