package web

import (
	"net/http"
	"time"

	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader carries the per-request ID back to the caller.
const RequestIDHeader = "X-Request-ID"

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// withLogging tags each request with an ID, puts a request-scoped logger in
// the context, recovers panics and logs the outcome of API calls.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := log.With().
			Str("requestId", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("Panic recovered")
				httpError(sr, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
			evt := logger.Info()
			if sr.statusCode >= 500 {
				evt = logger.Error()
			}
			evt.Int("statusCode", sr.statusCode).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}()

		next.ServeHTTP(sr, r.WithContext(logger.WithContext(r.Context())))
	})
}

// withCORS allows the configured origin. Empty allows none beyond
// same-origin.
func withCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" && r.Header.Get("Origin") == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
			w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withMetrics emits RequestLatencyMs and RequestCount per endpoint.
func withMetrics(sink *metrics.Sink, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		sink.New().
			Dimension("Endpoint", normalizeEndpoint(r.URL.Path)).
			Metric("RequestLatencyMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Flush()
	})
}

var knownEndpoints = map[string]bool{
	"/":                        true,
	"/auth/login":              true,
	"/api/session":             true,
	"/api/logout":              true,
	"/api/dashboard":           true,
	"/api/analysis":            true,
	"/api/analysis/retry":      true,
	"/api/analysis/regenerate": true,
	"/api/health":              true,
}

// normalizeEndpoint keeps the Endpoint dimension low-cardinality.
func normalizeEndpoint(path string) string {
	if knownEndpoints[path] {
		return path
	}
	return "other"
}

// requestLogger returns the request-scoped logger set by withLogging.
func requestLogger(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}
