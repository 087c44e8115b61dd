package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/fpang/ig-caption-studio/internal/session"
	"github.com/rs/zerolog/log"
)

type handler struct {
	oauth       *instagram.OAuth
	appID       string
	redirectURI string
	store       session.Store
	longLived   bool
	metrics     *metrics.Sink
}

func newHandler(oauth *instagram.OAuth, appID, redirectURI string, store session.Store) *handler {
	return &handler{
		oauth:       oauth,
		appID:       appID,
		redirectURI: redirectURI,
		store:       store,
		metrics:     metrics.Default(),
	}
}

// WithLongLived upgrades every exchanged token to a 60-day token.
func (h *handler) WithLongLived(on bool) *handler {
	h.longLived = on
	return h
}

// WithMetrics directs exchange metrics to sink.
func (h *handler) WithMetrics(sink *metrics.Sink) *handler {
	h.metrics = sink
	return h
}

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", h.handleToken)
	mux.HandleFunc("GET /oauth/callback", h.handleCallback)
	return mux
}

type exchangeResult struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// tokenError mirrors Instagram's token endpoint error body so studio clients
// surface the message unchanged.
type tokenError struct {
	ErrorType    string `json:"error_type"`
	Code         int    `json:"code"`
	ErrorMessage string `json:"error_message"`
}

// exchange turns code into a credential, upgrading it when configured.
func (h *handler) exchange(ctx context.Context, code string) (*exchangeResult, error) {
	start := time.Now()
	result := "success"
	defer func() {
		h.metrics.New().
			Dimension("Operation", "codeExchange").
			Dimension("Result", result).
			Metric("ExchangeMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
			Count("ExchangeCount").
			Property("longLived", h.longLived).
			Flush()
	}()

	short, err := h.oauth.ExchangeCode(ctx, code)
	if err != nil {
		result = "exchange_failed"
		return nil, err
	}
	out := &exchangeResult{AccessToken: short.AccessToken, UserID: short.UserID}
	if !h.longLived {
		return out, nil
	}

	long, err := h.oauth.ExchangeLongLivedToken(ctx, short.AccessToken)
	if err != nil {
		result = "upgrade_failed"
		return nil, err
	}
	out.AccessToken = long.AccessToken
	out.ExpiresIn = long.ExpiresIn
	return out, nil
}

// handleToken is the trusted exchange endpoint. It accepts the same form a
// studio would post to Instagram, minus client_secret.
func (h *handler) handleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if err := r.ParseForm(); err != nil {
		respondTokenError(w, http.StatusBadRequest, "Malformed token request.")
		return
	}
	if id := r.PostForm.Get("client_id"); id != "" && id != h.appID {
		log.Warn().Str("clientId", id).Msg("Token request for a different app")
		respondTokenError(w, http.StatusBadRequest, "Invalid client_id.")
		return
	}
	if uri := r.PostForm.Get("redirect_uri"); uri != "" && uri != h.redirectURI {
		log.Warn().Str("redirectUri", uri).Msg("Token request with unexpected redirect URI")
		respondTokenError(w, http.StatusBadRequest, "redirect_uri does not match the registered redirect URI.")
		return
	}
	code := r.PostForm.Get("code")
	if code == "" {
		respondTokenError(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	result, err := h.exchange(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Msg("Failed to exchange authorization code")
		respondTokenError(w, http.StatusBadGateway, outcome.Classify(err, "Token exchange failed.").Message)
		return
	}

	log.Info().Str("userId", result.UserID).Bool("longLived", h.longLived).Msg("Code exchanged for studio client")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(result)
}

// handleCallback processes the Instagram OAuth redirect when Meta sends the
// browser here directly. The token is written to the shared session store
// so studios using the same backend pick it up.
func (h *handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		reason := q.Get("error_reason")
		log.Warn().Str("error", errParam).Str("reason", reason).Str("description", q.Get("error_description")).
			Msg("OAuth authorization denied by user")
		if reason == "" {
			reason = errParam
		}
		respondHTML(w, http.StatusOK, "Authorization Denied",
			fmt.Sprintf("Instagram authorization was denied: %s.", html.EscapeString(reason)))
		return
	}

	code := q.Get("code")
	if code == "" {
		log.Error().Msg("OAuth callback received without code or error parameter")
		respondHTML(w, http.StatusBadRequest, "Error", "Missing authorization code.")
		return
	}

	ctx := r.Context()
	result, err := h.exchange(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("Failed to exchange authorization code")
		respondHTML(w, http.StatusBadGateway, "Token Exchange Failed",
			"Failed to exchange the authorization code for an access token. Please try again.")
		return
	}

	if err := h.store.Set(ctx, result.AccessToken); err != nil {
		log.Error().Err(err).Msg("Failed to store access token")
		respondHTML(w, http.StatusInternalServerError, "Storage Failed",
			"Token was obtained but could not be stored. Please check Lambda logs.")
		return
	}
	log.Info().Str("userId", result.UserID).Msg("Access token stored")

	message := fmt.Sprintf("Your Instagram account (user ID: %s) has been connected successfully.", html.EscapeString(result.UserID))
	if result.ExpiresIn > 0 {
		message += fmt.Sprintf("<br><br>Long-lived token stored, expires in %d days.", result.ExpiresIn/86400)
	}
	respondHTML(w, http.StatusOK, "Instagram Connected", message+"<br><br>You can close this window.")
}

func respondTokenError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(tokenError{
		ErrorType:    "OAuthException",
		Code:         status,
		ErrorMessage: message,
	})
}

// respondHTML writes a minimal HTML page with the given title and message.
// message may contain <br> tags; user-supplied values are escaped by callers.
func respondHTML(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
  <style>
    body { font-family: system-ui, -apple-system, sans-serif; max-width: 600px; margin: 80px auto; padding: 0 20px; text-align: center; color: #1a1a1a; }
    h1 { font-size: 1.5rem; margin-bottom: 1rem; }
    p { font-size: 1rem; line-height: 1.6; color: #444; }
  </style>
</head>
<body>
  <h1>%s</h1>
  <p>%s</p>
</body>
</html>`, title, title, message)
}
