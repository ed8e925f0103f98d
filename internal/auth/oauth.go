package auth

import (
	"fmt"
	"strconv"

	"golang.org/x/oauth2"

	"trainer/internal/provider"
)

const (
	// Strava OAuth endpoints
	StravaAuthURL  = "https://www.strava.com/oauth/authorize"
	StravaTokenURL = "https://www.strava.com/oauth/token"

	CorosAuthURL = "https://open.coros.com/oauth2/authorize"
)

// Scopes required for our app (Strava uses comma-separated scopes)
var StravaScopes = []string{
	"read,activity:read_all",
}

// Config holds the OAuth client credentials for one provider
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g., "http://localhost:8089/callback"
	AuthURL      string // optional override
	TokenURL     string // required for COROS, which issues per-partner endpoints
}

// Configured reports whether client credentials are present
func (c Config) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// NewOAuthConfig creates an oauth2.Config for the given provider
func NewOAuthConfig(p provider.Name, cfg Config) (*oauth2.Config, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
	}

	switch p {
	case provider.Strava:
		oc.Endpoint = oauth2.Endpoint{
			AuthURL:   StravaAuthURL,
			TokenURL:  StravaTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
		oc.Scopes = StravaScopes
	case provider.Coros:
		oc.Endpoint = oauth2.Endpoint{
			AuthURL:   CorosAuthURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}

	if cfg.AuthURL != "" {
		oc.Endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		oc.Endpoint.TokenURL = cfg.TokenURL
	}
	if oc.Endpoint.TokenURL == "" {
		return nil, fmt.Errorf("%s: token URL is required", p)
	}
	return oc, nil
}

// AuthResult contains the token and account info from successful auth
type AuthResult struct {
	Token     *oauth2.Token
	AccountID string
}

// ExtractAccountID extracts the provider account id from the token extras.
// Strava includes the athlete in the token response; COROS returns openId.
func ExtractAccountID(p provider.Name, token *oauth2.Token) string {
	switch p {
	case provider.Strava:
		if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
			if id, ok := athlete["id"].(float64); ok {
				return strconv.FormatInt(int64(id), 10)
			}
		}
	case provider.Coros:
		if id, ok := token.Extra("openId").(string); ok {
			return id
		}
	}
	return ""
}
