// Package sso signs users in through an OpenID Connect provider.
package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrMissingCode    = errors.New("missing authorization code")
	ErrMissingIDToken = errors.New("missing id_token in token response")
	ErrNonceMismatch  = errors.New("id token nonce mismatch")
	ErrMissingEmail   = errors.New("id token carries no email")
)

type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Identity is what the provider vouches for after a successful sign-in.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

type claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	PreferredName string `json:"preferred_username"`
}

type Provider struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewProvider discovers the issuer and prepares the code flow.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	return &Provider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// AuthCodeURL is where the browser goes to sign in.
func (p *Provider) AuthCodeURL(state, nonce string) string {
	return p.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange trades the callback code for a verified identity.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	var c claims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	if c.Email == "" {
		return nil, ErrMissingEmail
	}

	name := c.Name
	if name == "" {
		name = c.PreferredName
	}
	if name == "" {
		name, _, _ = strings.Cut(c.Email, "@")
	}

	return &Identity{
		Subject:       idToken.Subject,
		Email:         strings.ToLower(c.Email),
		EmailVerified: c.EmailVerified,
		Name:          name,
	}, nil
}
