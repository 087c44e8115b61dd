// Package main provides a Lambda entry point for the trusted Instagram code
// exchange.
//
// This is a lightweight Lambda (128 MB, 10s timeout) that holds the app
// secret so studio installs do not have to:
//   - POST /oauth/token: exchange a code posted by a studio configured with
//     IGCS_EXCHANGE_URL and return {access_token, user_id}
//   - GET /oauth/callback?code=AUTH_CODE: exchange the code and store the
//     token in the shared session store
//   - GET /oauth/callback?error=...: user denied access
//
// The app secret is read from SSM (SSM_APP_SECRET_PARAM) on first use unless
// INSTAGRAM_APP_SECRET is set.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/fpang/ig-caption-studio/internal/config"
	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/logging"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/session"
	"github.com/rs/zerolog/log"
)

var version = "dev"

// bootstrap runs once per cold start.
func bootstrap() *handler {
	start := time.Now()
	logging.Init()

	// Lambda has no home directory worth persisting to; default to SSM.
	if os.Getenv(config.EnvSessionBackend) == "" {
		os.Setenv(config.EnvSessionBackend, session.BackendSSM)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.AppID == "" {
		log.Fatal().Str("envVar", config.EnvAppID).Msg("Instagram app ID is required")
	}

	ctx := context.Background()
	clients := &config.AWS{}
	store, err := cfg.OpenStore(ctx, clients)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}

	secret := instagram.StaticSecret(cfg.AppSecret)
	startup := logging.NewStartupLogger("oauth-lambda").Version(version)
	if cfg.AppSecret == "" {
		secret = config.SSMSecret(func(ctx context.Context) (config.ParameterGetter, error) {
			c, err := clients.SSM(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		}, cfg.AppSecretParam)
		startup.SSMParam("appSecret", cfg.AppSecretParam)
	}

	oauth := instagram.NewOAuth(instagram.OAuthOptions{
		AppID:       cfg.AppID,
		AppSecret:   secret,
		RedirectURI: cfg.RedirectURI,
		GraphURL:    cfg.GraphURL,
		Timeout:     cfg.FetchTimeout,
	})
	h := newHandler(oauth, cfg.AppID, cfg.RedirectURI, store).
		WithLongLived(cfg.LongLived).
		WithMetrics(metrics.Default())

	switch cfg.SessionBackend {
	case session.BackendSSM:
		startup.SSMParam("token", cfg.TokenParam)
	case session.BackendDynamo:
		startup.DynamoTable("sessions", cfg.SessionTable)
	}
	startup.
		Endpoint("redirect", cfg.RedirectURI).
		Feature("longLivedTokens", cfg.LongLived).
		InitDuration(time.Since(start)).
		Log()
	return h
}

func main() {
	h := bootstrap()
	adapter := httpadapter.NewV2(h.routes())
	lambda.Start(adapter.ProxyWithContext)
}
