package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/ig-caption-studio/internal/analysis"
	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/chat"
	"github.com/fpang/ig-caption-studio/internal/config"
	"github.com/fpang/ig-caption-studio/internal/imageenc"
	"github.com/fpang/ig-caption-studio/internal/logging"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/profile"
	"github.com/fpang/ig-caption-studio/internal/session"
	"github.com/fpang/ig-caption-studio/internal/studio"
	"github.com/rs/zerolog/log"
)

// app is everything a command may need. Gemini is only set up by commands
// that run analysis.
type app struct {
	cfg     config.Config
	aws     *config.AWS
	sink    *metrics.Sink
	store   session.Store
	auth    *auth.Manager
	loader  *profile.Loader
	studio  *studio.Studio
	startup *logging.StartupLogger
}

// newApp loads configuration and resolves the session. stdoutOK is false for
// commands whose stdout is not a log stream (MCP, human-readable output), so
// stdout metrics are diverted to stderr.
func newApp(ctx context.Context, name string, stdoutOK bool) (*app, error) {
	start := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Model = modelFlag

	dest := cfg.Metrics
	if metricsFlag != "" {
		dest = metricsFlag
	}
	if !stdoutOK && strings.EqualFold(dest, "stdout") {
		dest = "stderr"
	}
	out, err := metrics.ParseDestination(dest)
	if err != nil {
		return nil, err
	}
	sink := metrics.NewSink(metrics.Namespace, out)
	metrics.SetDefault(sink)

	a := &app{
		cfg:     cfg,
		aws:     &config.AWS{},
		sink:    sink,
		startup: logging.NewStartupLogger(name).Version(version),
	}

	a.store, err = cfg.OpenStore(ctx, a.aws)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	switch cfg.SessionBackend {
	case session.BackendSSM:
		a.startup.SSMParam("token", cfg.TokenParam)
	case session.BackendDynamo:
		a.startup.DynamoTable("sessions", cfg.SessionTable)
	case session.BackendFile:
		a.startup.File("session", cfg.SessionFile)
	}

	authCfg := cfg.Auth(cfg.AppSecretProvider(a.aws))
	a.auth = auth.NewManager(authCfg, a.store, auth.NewInstagramExchanger(authCfg)).WithMetrics(sink)
	a.loader = profile.NewLoader(profile.Options{
		GraphURL:   cfg.GraphURL,
		MediaLimit: cfg.MediaLimit,
		Timeout:    cfg.FetchTimeout,
		Metrics:    sink,
	})

	a.startup.
		Endpoint("graph", cfg.GraphURL).
		Endpoint("redirect", cfg.RedirectURI).
		Feature("trustedExchange", cfg.ExchangeURL != "").
		Feature("longLivedTokens", cfg.LongLived).
		Config("sessionBackend", cfg.SessionBackend).
		Config("model", cfg.Model).
		Config("metrics", dest).
		InitDuration(time.Since(start))
	if cfg.ExchangeURL != "" {
		a.startup.Endpoint("exchange", cfg.ExchangeURL)
	} else if cfg.AppSecret == "" {
		a.startup.SSMParam("appSecret", cfg.AppSecretParam)
	}
	return a, nil
}

// withAnalysis builds the Gemini client, validates the key and assembles the
// studio around it.
func (a *app) withAnalysis(ctx context.Context) error {
	if a.cfg.GeminiKeyParam != "" {
		a.startup.SSMParam("geminiKey", a.cfg.GeminiKeyParam)
	}
	apiKey, err := auth.GeminiAPIKey(ctx, a.cfg.GeminiKeyProvider(a.aws))
	if err != nil {
		return err
	}
	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return err
	}
	if err := chat.ValidateAPIKey(ctx, client.Models, a.sink); err != nil {
		return fmt.Errorf("invalid Gemini API key: %w", err)
	}

	encoder := imageenc.NewEncoder(imageenc.Options{
		Timeout:  a.cfg.ImageTimeout,
		MaxBytes: a.cfg.MaxImageBytes,
		Metrics:  a.sink,
	})
	analyzer := chat.NewGeminiAnalyzer(client.Models).
		WithModel(a.cfg.Model).
		WithTimeout(a.cfg.InferTimeout).
		WithMetrics(a.sink)
	pipeline := analysis.NewPipeline(encoder, analyzer).WithMetrics(a.sink)

	a.studio = studio.New(a.auth, a.loader, pipeline)
	log.Debug().Str("model", a.cfg.Model).Msg("Analysis pipeline ready")
	return nil
}
