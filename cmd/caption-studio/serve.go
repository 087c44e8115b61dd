package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpang/ig-caption-studio/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web API",
	Long: `Serve starts the local HTTP API the studio UI talks to. The address must
match the host of the configured OAuth redirect URI so Instagram can send the
authorization code back.

Examples:
  caption-studio serve
  caption-studio serve --addr 127.0.0.1:9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Address to listen on (default from IGCS_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, "caption-studio serve", true)
	if err != nil {
		return err
	}
	if err := a.withAnalysis(ctx); err != nil {
		return err
	}
	a.auth.Start(ctx, nil)

	addr := a.cfg.Addr
	if addrFlag != "" {
		addr = addrFlag
	}
	limiter := web.NewKeyedLimiter(a.cfg.AnalyzeRPS, a.cfg.AnalyzeBurst, 10*time.Minute)
	api := web.NewServer(a.studio, web.Options{
		CORSOrigin: a.cfg.CORSOrigin,
		Limiter:    limiter,
		Metrics:    a.sink,
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: web.MaxWait + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		a.studio.Pipeline.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.startup.
		Endpoint("listen", addr).
		Config("corsOrigin", a.cfg.CORSOrigin).
		Config("analyzeRps", fmt.Sprintf("%g", a.cfg.AnalyzeRPS)).
		Log()
	fmt.Fprintf(os.Stderr, "\n  Caption Studio API: http://%s\n\n", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
