// OAuth functions for Instagram Business Login.
//
// Instagram uses a two-step token exchange:
//  1. Authorization code → short-lived token (1 hour) via POST to api.instagram.com
//  2. Short-lived token → long-lived token (60 days) via GET to graph.instagram.com
//
// The short-lived token response also includes the Instagram user ID.
// Step 2 is optional for the studio; see auth.Config.LongLived.
// See: https://developers.facebook.com/docs/instagram-platform/instagram-api-with-instagram-login/business-login

package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	// DefaultAuthorizeURL is the Instagram authorization page.
	DefaultAuthorizeURL = "https://www.instagram.com/oauth/authorize"

	// DefaultTokenURL exchanges an authorization code for a short-lived token.
	DefaultTokenURL = "https://api.instagram.com/oauth/access_token"

	// DefaultGraphURL is the Instagram Graph API host used for data reads and
	// the long-lived token exchange.
	DefaultGraphURL = "https://graph.instagram.com"
)

// DefaultScopes are the capabilities requested during login.
var DefaultScopes = []string{
	"instagram_business_basic",
	"instagram_business_manage_messages",
	"instagram_business_manage_comments",
	"instagram_business_content_publish",
	"instagram_business_manage_insights",
}

// ExchangeCodeResult holds the response from exchanging an authorization code
// for a short-lived access token.
type ExchangeCodeResult struct {
	AccessToken string // Short-lived token (1 hour)
	UserID      string // Instagram user ID (as string)
}

// LongLivedTokenResult holds the response from exchanging a short-lived token
// for a long-lived access token.
type LongLivedTokenResult struct {
	AccessToken string // Long-lived token (60 days)
	ExpiresIn   int64  // Seconds until expiry (typically 5184000 = 60 days)
}

// shortTokenResponse is the JSON response from the Instagram token exchange endpoint.
type shortTokenResponse struct {
	AccessToken string     `json:"access_token"`
	UserID      flexibleID `json:"user_id"`
}

// flexibleID decodes an ID sent either as a JSON number (the live API) or
// as a JSON string (some proxies and the trusted exchange backend).
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(b, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

// shortTokenErrorResponse is the JSON error response from the Instagram token endpoint.
type shortTokenErrorResponse struct {
	ErrorType    string `json:"error_type"`
	Code         int    `json:"code"`
	ErrorMessage string `json:"error_message"`
}

// longTokenResponse is the JSON response from the long-lived token exchange endpoint.
type longTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// OAuth performs the authorization redirect construction and token exchanges
// for one Instagram app.
type OAuth struct {
	httpClient   *http.Client
	appID        string
	appSecret    func(ctx context.Context) (string, error)
	redirectURI  string
	scopes       []string
	authorizeURL string
	tokenURL     string
	graphURL     string
}

// OAuthOptions configures an OAuth helper. Empty endpoint fields fall back to
// the Instagram production endpoints.
type OAuthOptions struct {
	AppID       string
	AppSecret   func(ctx context.Context) (string, error)
	RedirectURI string
	Scopes      []string

	AuthorizeURL string
	TokenURL     string
	GraphURL     string
	Timeout      time.Duration
}

// NewOAuth creates an OAuth helper.
func NewOAuth(opts OAuthOptions) *OAuth {
	o := &OAuth{
		httpClient:   &http.Client{Timeout: opts.Timeout},
		appID:        opts.AppID,
		appSecret:    opts.AppSecret,
		redirectURI:  opts.RedirectURI,
		scopes:       opts.Scopes,
		authorizeURL: opts.AuthorizeURL,
		tokenURL:     opts.TokenURL,
		graphURL:     opts.GraphURL,
	}
	if o.httpClient.Timeout == 0 {
		o.httpClient.Timeout = defaultTimeout
	}
	if len(o.scopes) == 0 {
		o.scopes = DefaultScopes
	}
	if o.authorizeURL == "" {
		o.authorizeURL = DefaultAuthorizeURL
	}
	if o.tokenURL == "" {
		o.tokenURL = DefaultTokenURL
	}
	if o.graphURL == "" {
		o.graphURL = DefaultGraphURL
	}
	return o
}

// AuthorizeURL returns the browser redirect that starts Instagram login.
// Instagram expects scopes comma-joined, so they are passed as a raw
// parameter rather than through oauth2.Config.Scopes (which space-joins).
func (o *OAuth) AuthorizeURL() string {
	conf := &oauth2.Config{
		ClientID:    o.appID,
		RedirectURL: o.redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  o.authorizeURL,
			TokenURL: o.tokenURL,
		},
	}
	return conf.AuthCodeURL("",
		oauth2.SetAuthURLParam("scope", strings.Join(o.scopes, ",")),
		oauth2.SetAuthURLParam("enable_fb_login", "0"),
		oauth2.SetAuthURLParam("force_authentication", "1"),
	)
}

// ExchangeCode exchanges an Instagram authorization code for a short-lived access token.
// The authorization code comes from Meta's OAuth redirect (?code=AUTH_CODE).
//
// Endpoint: POST https://api.instagram.com/oauth/access_token
// Every failure is classified as outcome.KindAuthExchangeFailed.
//
// With no AppSecret configured the form is sent without client_secret. That
// is the request shape the trusted exchange backend accepts; it adds the
// secret server-side.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (*ExchangeCodeResult, error) {
	params := url.Values{
		"client_id":    {o.appID},
		"grant_type":   {"authorization_code"},
		"redirect_uri": {o.redirectURI},
		"code":         {code},
	}
	if o.appSecret != nil {
		secret, err := o.appSecret(ctx)
		if err != nil {
			return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Could not load the Instagram app secret", err)
		}
		params.Set("client_secret", secret)
	}

	log.Debug().Str("redirectUri", o.redirectURI).Msg("Exchanging authorization code for short-lived token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed,
			"Could not reach Instagram to complete login", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Failed to read token response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Try to parse Instagram-specific error format.
		var errResp shortTokenErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.ErrorMessage != "" {
			log.Warn().Str("errorType", errResp.ErrorType).Int("code", errResp.Code).Int("statusCode", resp.StatusCode).
				Msg("Instagram rejected authorization code")
			return nil, outcome.New(outcome.KindAuthExchangeFailed, errResp.ErrorMessage)
		}
		return nil, outcome.Newf(outcome.KindAuthExchangeFailed,
			"Failed to exchange token (status %d): %s", resp.StatusCode, truncate(string(body), 300))
	}

	var result shortTokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Instagram returned an unreadable token response", err)
	}

	if result.AccessToken == "" {
		return nil, outcome.New(outcome.KindAuthExchangeFailed, "No access token received.")
	}

	log.Info().Str("userId", string(result.UserID)).Msg("Short-lived token obtained")

	return &ExchangeCodeResult{
		AccessToken: result.AccessToken,
		UserID:      string(result.UserID),
	}, nil
}

// ExchangeLongLivedToken exchanges a short-lived Instagram token for a long-lived token.
// Long-lived tokens are valid for 60 days and can be refreshed before expiry.
//
// Endpoint: GET https://graph.instagram.com/access_token
//
//	?grant_type=ig_exchange_token
//	&client_secret={app_secret}
//	&access_token={short_lived_token}
func (o *OAuth) ExchangeLongLivedToken(ctx context.Context, shortToken string) (*LongLivedTokenResult, error) {
	if o.appSecret == nil {
		return nil, outcome.New(outcome.KindAuthExchangeFailed, "Instagram app secret is not configured")
	}
	secret, err := o.appSecret(ctx)
	if err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Could not load the Instagram app secret", err)
	}

	q := url.Values{
		"grant_type":    {"ig_exchange_token"},
		"client_secret": {secret},
		"access_token":  {shortToken},
	}
	u := o.graphURL + "/access_token?" + q.Encode()

	log.Debug().Msg("Exchanging short-lived token for long-lived token")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Failed to build long-lived token request", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Could not reach Instagram to extend the login", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Failed to read long-lived token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, outcome.Newf(outcome.KindAuthExchangeFailed,
			"Long-lived token exchange failed (status %d): %s", resp.StatusCode, truncate(string(body), 300))
	}

	var result longTokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, outcome.Wrap(outcome.KindAuthExchangeFailed, "Instagram returned an unreadable long-lived token response", err)
	}

	if result.AccessToken == "" {
		return nil, outcome.New(outcome.KindAuthExchangeFailed, "No long-lived access token received.")
	}

	days := result.ExpiresIn / 86400
	log.Info().Int64("expiresInDays", days).Msg("Long-lived token obtained")

	return &LongLivedTokenResult{
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
	}, nil
}

// StaticSecret adapts a fixed secret string to the AppSecret provider shape.
func StaticSecret(secret string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		if secret == "" {
			return "", fmt.Errorf("app secret is empty")
		}
		return secret, nil
	}
}
