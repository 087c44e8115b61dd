// Package web serves the studio's local HTTP API: the OAuth landing page,
// session status, the dashboard and the analysis slot.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fpang/ig-caption-studio/internal/analysis"
	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/fpang/ig-caption-studio/internal/studio"
	"github.com/klauspost/compress/gzhttp"
)

// MaxWait bounds GET /api/analysis?wait=1.
const MaxWait = 90 * time.Second

// Options configures a Server.
type Options struct {
	CORSOrigin string
	Limiter    RateLimiter
	Metrics    *metrics.Sink
}

// Server is the HTTP surface of one Studio.
type Server struct {
	studio  *studio.Studio
	limiter RateLimiter
	handler http.Handler
}

// NewServer builds the handler tree for s.
func NewServer(s *studio.Studio, opts Options) *Server {
	srv := &Server{studio: s, limiter: opts.Limiter}
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", srv.handleEntry)
	mux.HandleFunc("GET /auth/login", srv.handleLogin)
	mux.HandleFunc("GET /api/session", srv.handleSession)
	mux.HandleFunc("POST /api/logout", srv.handleLogout)
	mux.HandleFunc("GET /api/dashboard", srv.handleDashboard)
	mux.HandleFunc("POST /api/analysis", srv.handleAnalyze)
	mux.HandleFunc("GET /api/analysis", srv.handleAnalysisSnapshot)
	mux.HandleFunc("DELETE /api/analysis", srv.handleAnalysisClose)
	mux.HandleFunc("POST /api/analysis/retry", srv.handleRetry)
	mux.HandleFunc("POST /api/analysis/regenerate", srv.handleRegenerate)
	mux.HandleFunc("GET /api/health", handleHealth)

	srv.handler = withLogging(withCORS(opts.CORSOrigin, withMetrics(sink, gzhttp.GzipHandler(mux))))
	return srv
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleEntry is the OAuth redirect target. A code or error in the query is
// consumed and the browser is sent back to the bare path.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("code") == "" && q.Get("error") == "" {
		respondJSON(w, http.StatusOK, s.studio.Auth.Status())
		return
	}

	entry := auth.NewQueryEntry(q)
	state := s.studio.Auth.Start(r.Context(), entry)
	requestLogger(r).Info().Str("state", string(state)).Msg("Authorization callback handled")

	target := "/"
	if replaced := entry.Replaced(); len(replaced) > 0 {
		target = replaced[len(replaced)-1]
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	entry := auth.NewQueryEntry(nil)
	s.studio.Auth.Login(entry)
	http.Redirect(w, r, entry.RedirectedTo(), http.StatusFound)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.studio.Auth.Status())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.studio.Logout(r.Context()); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			httpError(w, http.StatusConflict, "not logged in")
			return
		}
		requestLogger(r).Error().Err(err).Msg("Logout failed")
		httpError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	out := s.studio.Dashboard(r.Context())
	respondJSON(w, statusFor(out.ErrorKind), out)
}

type analyzeRequest struct {
	MediaID string `json:"mediaId"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !allowRequest(s.limiter, r, "analysis") {
		httpError(w, http.StatusTooManyRequests, "too many analysis requests, slow down")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || req.MediaID == "" {
		httpError(w, http.StatusBadRequest, "mediaId is required")
		return
	}

	snap, err := s.studio.Analyze(r.Context(), req.MediaID)
	if err != nil {
		if errors.Is(err, studio.ErrMediaNotFound) {
			httpError(w, http.StatusNotFound, err.Error())
			return
		}
		oe := outcome.Classify(err, "Could not start analysis.")
		respondJSON(w, statusFor(oe.Kind), outcome.Failure[analysis.Snapshot](oe))
		return
	}
	respondJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleAnalysisSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "" {
		respondJSON(w, http.StatusOK, s.studio.Pipeline.Snapshot())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), MaxWait)
	defer cancel()
	snap, _ := s.studio.Pipeline.Wait(ctx)
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAnalysisClose(w http.ResponseWriter, r *http.Request) {
	s.studio.Pipeline.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.restart(w, r, s.studio.Pipeline.Retry)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	s.restart(w, r, s.studio.Pipeline.Regenerate)
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request, fn func(context.Context) (analysis.Snapshot, error)) {
	if !allowRequest(s.limiter, r, "analysis") {
		httpError(w, http.StatusTooManyRequests, "too many analysis requests, slow down")
		return
	}
	snap, err := fn(r.Context())
	if errors.Is(err, analysis.ErrInvalidTransition) {
		respondJSON(w, http.StatusConflict, snap)
		return
	}
	respondJSON(w, http.StatusAccepted, snap)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a failure kind onto an HTTP status. Empty means success.
func statusFor(kind outcome.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case outcome.KindAuthExpired, outcome.KindAuthExchangeFailed:
		return http.StatusUnauthorized
	case outcome.KindNetworkUnavailable, outcome.KindFetchBlocked, outcome.KindMalformedResult:
		return http.StatusBadGateway
	case outcome.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
