package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/store"
)

const maxWebhookBytes = 64 << 10

// BillingProvider is the payment portal. *billing.Client satisfies it.
type BillingProvider interface {
	CreateCustomer(email, householdName string, householdID int64) (string, error)
	CreatePortalSession(customerID, returnURL string) (string, error)
	DeletedCustomer(payload []byte, sigHeader string) (string, error)
}

type BillingHandler struct {
	provider   BillingProvider
	households *store.HouseholdStore
	users      *store.UserStore
	baseURL    string
	logger     *slog.Logger
}

// NewBillingHandler serves the billing portal. A nil provider answers 503.
func NewBillingHandler(provider BillingProvider, households *store.HouseholdStore, users *store.UserStore, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		provider:   provider,
		households: households,
		users:      users,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// Portal opens a billing portal session for the caller's household, creating
// the Stripe customer on first use.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}

	hid := auth.HouseholdID(r.Context())
	hh, err := h.households.GetByID(hid)
	if err != nil || hh == nil {
		writeError(w, http.StatusInternalServerError, "failed to get household")
		return
	}

	customerID := ""
	if hh.StripeCustomerID != nil {
		customerID = *hh.StripeCustomerID
	}
	if customerID == "" {
		u, err := h.users.GetByID(auth.UserID(r.Context()))
		if err != nil || u == nil {
			writeError(w, http.StatusInternalServerError, "failed to get user")
			return
		}
		customerID, err = h.provider.CreateCustomer(u.Email, hh.Name, hh.ID)
		if err != nil {
			h.logger.Error("create billing customer", "error", err, "household_id", hid)
			writeError(w, http.StatusBadGateway, "billing provider unavailable")
			return
		}
		if err := h.households.SetStripeCustomerID(hid, customerID); err != nil {
			h.logger.Error("save billing customer", "error", err, "household_id", hid)
			writeError(w, http.StatusInternalServerError, "failed to save billing customer")
			return
		}
	}

	url, err := h.provider.CreatePortalSession(customerID, h.baseURL+"/settings")
	if err != nil {
		h.logger.Error("create portal session", "error", err, "household_id", hid)
		writeError(w, http.StatusBadGateway, "billing provider unavailable")
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", url)
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Webhook detaches households whose Stripe customer was deleted.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		http.NotFound(w, r)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	customerID, err := h.provider.DeletedCustomer(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("rejected billing webhook", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if customerID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	found, err := h.households.ClearStripeCustomer(customerID)
	if err != nil {
		h.logger.Error("clear billing customer", "error", err, "customer_id", customerID)
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}
	h.logger.Info("billing customer deleted", "customer_id", customerID, "matched", found)
	w.WriteHeader(http.StatusOK)
}
