package auth

import (
	"context"
	"time"

	"github.com/fpang/ig-caption-studio/internal/instagram"
)

// SecretProvider resolves a secret on demand (environment, SSM, or a fixed
// value in tests).
type SecretProvider func(ctx context.Context) (string, error)

// Config holds everything the session manager needs to talk to Instagram.
// It replaces process-wide globals so several managers can coexist in tests.
type Config struct {
	ClientID    string
	Secret      SecretProvider
	RedirectURI string
	Scopes      []string

	// Endpoint overrides. Empty means the Instagram production endpoints.
	AuthorizeURL string
	TokenURL     string
	GraphURL     string

	// ExchangeURL points at a trusted exchange backend. When set, codes are
	// posted there without the app secret instead of to TokenURL.
	ExchangeURL string

	// LongLived upgrades the short-lived token to a 60-day token before it
	// is persisted.
	LongLived bool

	Timeout time.Duration
}

// OAuth builds the Instagram OAuth helper for this configuration.
func (c Config) OAuth() *instagram.OAuth {
	opts := instagram.OAuthOptions{
		AppID:        c.ClientID,
		AppSecret:    c.Secret,
		RedirectURI:  c.RedirectURI,
		Scopes:       c.Scopes,
		AuthorizeURL: c.AuthorizeURL,
		TokenURL:     c.TokenURL,
		GraphURL:     c.GraphURL,
		Timeout:      c.Timeout,
	}
	if c.ExchangeURL != "" {
		opts.TokenURL = c.ExchangeURL
		opts.AppSecret = nil
	}
	return instagram.NewOAuth(opts)
}
