// Package config reads the studio's runtime configuration from environment
// variables and builds the collaborators that depend on it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/chat"
	"github.com/fpang/ig-caption-studio/internal/imageenc"
	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/profile"
	"github.com/fpang/ig-caption-studio/internal/session"
	"github.com/rs/zerolog/log"
)

// Environment variable names.
const (
	EnvAppID          = "INSTAGRAM_APP_ID"
	EnvAppSecret      = "INSTAGRAM_APP_SECRET"
	EnvAppSecretParam = "SSM_APP_SECRET_PARAM"
	EnvRedirectURI    = "OAUTH_REDIRECT_URI"
	EnvScopes         = "INSTAGRAM_SCOPES"
	EnvLongLived      = "INSTAGRAM_LONG_LIVED"
	EnvGraphURL       = "INSTAGRAM_GRAPH_URL"
	EnvExchangeURL    = "IGCS_EXCHANGE_URL"
	EnvSessionBackend = "IGCS_SESSION_BACKEND"
	EnvSessionFile    = "IGCS_SESSION_FILE"
	EnvTokenParam     = "SSM_TOKEN_PARAM"
	EnvSessionTable   = "IGCS_SESSION_TABLE"
	EnvSessionName    = "IGCS_SESSION_NAME"
	EnvFetchTimeout   = "IGCS_FETCH_TIMEOUT"
	EnvImageTimeout   = "IGCS_IMAGE_TIMEOUT"
	EnvInferTimeout   = "IGCS_INFER_TIMEOUT"
	EnvMaxImageBytes  = "IGCS_MAX_IMAGE_BYTES"
	EnvMediaLimit     = "IGCS_MEDIA_LIMIT"
	EnvGeminiKeyParam = "GEMINI_API_KEY_PARAM"
	EnvAnalyzeRPS     = "IGCS_ANALYZE_RPS"
	EnvAnalyzeBurst   = "IGCS_ANALYZE_BURST"
	EnvAddr           = "IGCS_ADDR"
	EnvCORSOrigin     = "IGCS_CORS_ORIGIN"
	EnvMetrics        = "IGCS_METRICS"
)

// Defaults.
const (
	DefaultRedirectURI    = "http://localhost:8080/"
	DefaultAppSecretParam = "/ig-caption-studio/prod/instagram-app-secret"
	DefaultAddr           = "127.0.0.1:8080"
	DefaultMediaLimit     = 25
	DefaultAnalyzeRPS     = 1.0
	DefaultAnalyzeBurst   = 3
)

// Config is the studio's runtime configuration.
type Config struct {
	AppID          string
	AppSecret      string
	AppSecretParam string
	RedirectURI    string
	Scopes         []string
	LongLived      bool
	GraphURL       string
	ExchangeURL    string

	SessionBackend string
	SessionFile    string
	TokenParam     string
	SessionTable   string
	SessionName    string

	FetchTimeout  time.Duration
	ImageTimeout  time.Duration
	InferTimeout  time.Duration
	MaxImageBytes int64
	MediaLimit    int

	Model          string
	GeminiKeyParam string

	Addr         string
	CORSOrigin   string
	AnalyzeRPS   float64
	AnalyzeBurst int
	Metrics      string
}

// Load reads configuration from environment variables, applying defaults
// suited to running the studio locally.
func Load() (Config, error) {
	cfg := Config{
		AppID:          os.Getenv(EnvAppID),
		AppSecret:      os.Getenv(EnvAppSecret),
		AppSecretParam: getString(EnvAppSecretParam, DefaultAppSecretParam),
		RedirectURI:    getString(EnvRedirectURI, DefaultRedirectURI),
		Scopes:         getList(EnvScopes, instagram.DefaultScopes),
		LongLived:      getBool(EnvLongLived, false),
		GraphURL:       getString(EnvGraphURL, instagram.DefaultGraphURL),
		ExchangeURL:    os.Getenv(EnvExchangeURL),

		SessionBackend: strings.ToLower(getString(EnvSessionBackend, session.BackendFile)),
		SessionFile:    os.Getenv(EnvSessionFile),
		TokenParam:     getString(EnvTokenParam, session.DefaultTokenParam),
		SessionTable:   os.Getenv(EnvSessionTable),
		SessionName:    getString(EnvSessionName, "default"),

		FetchTimeout:  getDuration(EnvFetchTimeout, profile.DefaultTimeout),
		ImageTimeout:  getDuration(EnvImageTimeout, imageenc.DefaultTimeout),
		InferTimeout:  getDuration(EnvInferTimeout, chat.DefaultInferTimeout),
		MaxImageBytes: getInt64(EnvMaxImageBytes, imageenc.DefaultMaxBytes),
		MediaLimit:    getInt(EnvMediaLimit, DefaultMediaLimit),

		Model:          chat.GetModelName(),
		GeminiKeyParam: os.Getenv(EnvGeminiKeyParam),

		Addr:         getString(EnvAddr, DefaultAddr),
		CORSOrigin:   os.Getenv(EnvCORSOrigin),
		AnalyzeRPS:   getFloat(EnvAnalyzeRPS, DefaultAnalyzeRPS),
		AnalyzeBurst: getInt(EnvAnalyzeBurst, DefaultAnalyzeBurst),
		Metrics:      getString(EnvMetrics, "stdout"),
	}

	if cfg.SessionFile == "" && cfg.SessionBackend == session.BackendFile {
		path, err := session.DefaultFilePath()
		if err != nil {
			return cfg, err
		}
		cfg.SessionFile = path
	}

	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot work regardless of which
// command runs.
func (c Config) Validate() error {
	if err := session.ValidateBackend(c.SessionBackend); err != nil {
		return err
	}
	if c.SessionBackend == session.BackendDynamo && c.SessionTable == "" {
		return fmt.Errorf("%s is required for the dynamo session backend", EnvSessionTable)
	}
	if c.MediaLimit <= 0 {
		return fmt.Errorf("%s must be positive, got %d", EnvMediaLimit, c.MediaLimit)
	}
	return nil
}

// Auth returns the session manager configuration using secret to resolve
// the app secret.
func (c Config) Auth(secret auth.SecretProvider) auth.Config {
	return auth.Config{
		ClientID:    c.AppID,
		Secret:      secret,
		RedirectURI: c.RedirectURI,
		Scopes:      c.Scopes,
		GraphURL:    c.GraphURL,
		ExchangeURL: c.ExchangeURL,
		LongLived:   c.LongLived,
		Timeout:     c.FetchTimeout,
	}
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("envVar", key).Str("value", value).Msg("Invalid boolean, using default")
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("envVar", key).Str("value", value).Msg("Invalid integer, using default")
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Warn().Str("envVar", key).Str("value", value).Msg("Invalid integer, using default")
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Warn().Str("envVar", key).Str("value", value).Msg("Invalid number, using default")
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("envVar", key).Str("value", value).Msg("Invalid duration, using default")
		return fallback
	}
	return d
}
