// Package billing talks to Stripe for household subscriptions.
package billing

import (
	"encoding/json"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/billingportal/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/webhook"
)

// EventCustomerDeleted is the webhook event that detaches a household from
// its Stripe customer.
const EventCustomerDeleted = "customer.deleted"

type Config struct {
	SecretKey     string
	WebhookSecret string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// CreateCustomer creates a Stripe customer for a household and returns its ID.
func (c *Client) CreateCustomer(email, householdName string, householdID int64) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(householdName),
	}
	params.AddMetadata("household_id", strconv.FormatInt(householdID, 10))
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreatePortalSession creates a billing portal session and returns its URL.
func (c *Client) CreatePortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// DeletedCustomer verifies a webhook payload and, for customer.deleted
// events, returns the customer ID. Other event types return "".
func (c *Client) DeletedCustomer(payload []byte, sigHeader string) (string, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
	if err != nil {
		return "", fmt.Errorf("verify webhook: %w", err)
	}
	if event.Type != EventCustomerDeleted {
		return "", nil
	}
	var cust stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &cust); err != nil {
		return "", fmt.Errorf("decode customer: %w", err)
	}
	return cust.ID, nil
}
