// Package instagram provides a client for the Instagram Graph API read
// endpoints the studio needs (profile and recent media) plus the OAuth
// helpers for Instagram Business Login.
//
// Every response is decoded into explicit structs and validated before
// domain values are built. Failures are returned as *outcome.Error so callers
// can route on the kind: a rejected token is outcome.KindAuthExpired, an
// unreachable API is outcome.KindNetworkUnavailable, and a response missing
// required fields is outcome.KindMalformedResult.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/rs/zerolog/log"
)

const (
	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 30 * time.Second

	// DefaultMediaLimit is the page size requested from /me/media.
	DefaultMediaLimit = 25

	// oauthExceptionCode is the Graph API error code for an invalid or
	// expired access token.
	oauthExceptionCode = 190
)

// rateLimitCodes are Graph API throttling codes. They arrive with type
// OAuthException but do not mean the token is bad.
var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

// Graph API field lists.
const (
	profileFields = "id,username,account_type,media_count"
	mediaFields   = "id,caption,media_type,media_url,thumbnail_url,permalink,timestamp"
)

// MediaKind is the Graph API media_type.
type MediaKind string

const (
	MediaImage         MediaKind = "IMAGE"
	MediaVideo         MediaKind = "VIDEO"
	MediaCarouselAlbum MediaKind = "CAROUSEL_ALBUM"
)

// Valid reports whether k is one of the known media kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaCarouselAlbum:
		return true
	}
	return false
}

// UserProfile is a snapshot of the logged-in account.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	AccountType string `json:"account_type"`
	MediaCount  int    `json:"media_count"`
}

// MediaItem is one post from the user's feed.
type MediaItem struct {
	ID           string    `json:"id"`
	Caption      string    `json:"caption,omitempty"`
	MediaType    MediaKind `json:"media_type"`
	MediaURL     string    `json:"media_url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Permalink    string    `json:"permalink"`
	Timestamp    string    `json:"timestamp"`
}

// HasThumbnail reports whether the item carries a thumbnail URL.
func (m MediaItem) HasThumbnail() bool {
	return m.ThumbnailURL != ""
}

// Client reads profile and media data for one access token.
type Client struct {
	httpClient  *http.Client
	accessToken string
	baseURL     string
	mediaLimit  int
}

// NewClient creates an Instagram API client for accessToken.
func NewClient(accessToken string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		accessToken: accessToken,
		baseURL:     DefaultGraphURL,
		mediaLimit:  DefaultMediaLimit,
	}
}

// WithBaseURL points the client at a different Graph API host.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// WithTimeout sets the per-request HTTP timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.httpClient.Timeout = d
	}
	return c
}

// WithMediaLimit sets the number of media items requested.
func (c *Client) WithMediaLimit(n int) *Client {
	if n > 0 {
		c.mediaLimit = n
	}
	return c
}

// --- API response types ---

type apiErr struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

type errorEnvelope struct {
	Error *apiErr `json:"error,omitempty"`
}

type mediaResponse struct {
	Data []MediaItem `json:"data"`
}

// --- Reads ---

// Profile fetches the logged-in user's profile.
func (c *Client) Profile(ctx context.Context) (*UserProfile, error) {
	var p UserProfile
	if err := c.get(ctx, "/me", url.Values{"fields": {profileFields}}, &p); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if p.ID == "" || p.Username == "" {
		return nil, outcome.New(outcome.KindMalformedResult, "Instagram returned a profile without an id or username")
	}
	log.Debug().Str("userId", p.ID).Int("mediaCount", p.MediaCount).Msg("Profile fetched")
	return &p, nil
}

// Media fetches the user's most recent media, in the order the API returns
// them (newest first). A response without a data field is an empty feed.
func (c *Client) Media(ctx context.Context) ([]MediaItem, error) {
	params := url.Values{
		"fields": {mediaFields},
		"limit":  {strconv.Itoa(c.mediaLimit)},
	}

	var resp mediaResponse
	if err := c.get(ctx, "/me/media", params, &resp); err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}

	items := resp.Data
	if items == nil {
		items = []MediaItem{}
	}
	for i, item := range items {
		if item.ID == "" {
			return nil, outcome.Newf(outcome.KindMalformedResult, "Instagram returned media item %d without an id", i)
		}
		if !item.MediaType.Valid() {
			return nil, outcome.Newf(outcome.KindMalformedResult,
				"Instagram returned media %s with unknown type %q", item.ID, item.MediaType)
		}
	}
	log.Debug().Int("count", len(items)).Msg("Media fetched")
	return items, nil
}

// --- Internal helpers ---

// get sends an authenticated GET and decodes the JSON body into out.
// The access token is passed verbatim as the access_token query parameter.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	startTime := time.Now()

	params.Set("access_token", c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	log.Debug().Str("method", http.MethodGet).Str("path", path).Msg("Instagram API request")
	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Instagram API response")
		return outcome.Classify(err, "Could not reach Instagram")
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Instagram API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return outcome.Classify(err, "Failed to read Instagram response")
	}

	var env errorEnvelope
	_ = json.Unmarshal(body, &env)

	if httpResp.StatusCode != http.StatusOK || env.Error != nil {
		return classifyAPIError(httpResp.StatusCode, env.Error, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return outcome.Wrap(outcome.KindMalformedResult,
			fmt.Sprintf("Instagram returned an unreadable response (body: %s)", truncate(string(body), 200)), err)
	}
	return nil
}

// classifyAPIError maps a failed Graph API response onto an ErrorKind.
func classifyAPIError(status int, e *apiErr, body []byte) *outcome.Error {
	msg := truncate(string(body), 200)
	if e != nil {
		msg = e.Message
		log.Error().Str("errorMessage", e.Message).Str("errorType", e.Type).Int("errorCode", e.Code).
			Int("statusCode", status).Msg("Instagram API error")
	}

	switch {
	case e != nil && rateLimitCodes[e.Code]:
		return outcome.Newf(outcome.KindNetworkUnavailable,
			"Instagram is rate limiting requests right now. Please try again later: %s", msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		(e != nil && (e.Code == oauthExceptionCode || e.Type == "OAuthException")):
		return outcome.Newf(outcome.KindAuthExpired,
			"Could not load Instagram data. Your session may have expired: %s", msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return outcome.Newf(outcome.KindNetworkUnavailable,
			"Instagram is unavailable right now (status %d). Please try again.", status)
	default:
		return outcome.Newf(outcome.KindUnknown, "Instagram API error (status %d): %s", status, msg)
	}
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
