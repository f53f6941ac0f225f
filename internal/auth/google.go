package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
)

// GoogleIssuer is Google's OpenID Connect issuer.
const GoogleIssuer = "https://accounts.google.com"

// GoogleStateCookie holds the OAuth2 state during the redirect round trip.
const GoogleStateCookie = "oauthstate"

// ErrGoogleNotConfigured is returned when Google sign-in credentials are missing.
var ErrGoogleNotConfigured = errors.New("google sign-in is not configured")

// GoogleConfig holds the OAuth2 client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Complete reports whether every field is set.
func (c GoogleConfig) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// Identity is what a verified ID token tells us about the user.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Google performs the OAuth2 authorization code flow and verifies the returned ID token.
type Google struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewGoogle discovers Google's provider metadata and prepares an ID token verifier.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if !cfg.Complete() {
		return nil, ErrGoogleNotConfigured
	}
	provider, err := oidc.NewProvider(ctx, GoogleIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover google provider: %w", err)
	}
	slog.Debug("auth.NewGoogle: provider discovered", "issuer", GoogleIssuer)
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
	return newGoogle(oauthCfg, provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

func newGoogle(oauthCfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *Google {
	return &Google{oauth2Config: oauthCfg, verifier: verifier}
}

// AuthCodeURL returns the consent page URL for state.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth2Config.AuthCodeURL(state)
}

// Identify exchanges an authorization code and verifies the ID token it yields.
func (g *Google) Identify(ctx context.Context, code string) (Identity, error) {
	token, err := g.oauth2Config.Exchange(ctx, code)
	if err != nil {
		slog.Error("Google.Identify: token exchange failed", "error", err)
		return Identity{}, fmt.Errorf("token exchange failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Identity{}, errors.New("no id_token in token response")
	}
	return g.verify(ctx, rawIDToken)
}

func (g *Google) verify(ctx context.Context, rawIDToken string) (Identity, error) {
	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		slog.Warn("Google.verify: id token rejected", "error", err)
		return Identity{}, fmt.Errorf("failed to verify id token: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("failed to parse id token claims: %w", err)
	}
	if claims.Email == "" || !claims.EmailVerified {
		return Identity{}, errors.New("id token carries no verified email")
	}
	slog.Debug("Google.verify: identity verified", "subject", idToken.Subject, "email", claims.Email)
	return Identity{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
