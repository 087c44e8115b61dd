// Package profile assembles the dashboard for a logged-in user: the account
// profile and the recent media feed, fetched concurrently. Either both
// succeed or the load fails with the first classified error.
package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each of the two fetches.
const DefaultTimeout = 30 * time.Second

// LoadFailedMessage is shown when the dashboard cannot be assembled.
const LoadFailedMessage = "Could not load Instagram data. Your token may have expired."

// Dashboard is the aggregate of one successful load.
type Dashboard struct {
	Profile instagram.UserProfile `json:"profile"`
	Media   []instagram.MediaItem `json:"media"`
}

// Find returns the media item with the given id.
func (d Dashboard) Find(mediaID string) (instagram.MediaItem, bool) {
	for _, item := range d.Media {
		if item.ID == mediaID {
			return item, true
		}
	}
	return instagram.MediaItem{}, false
}

// Fetcher reads the two halves of the dashboard.
type Fetcher interface {
	Profile(ctx context.Context) (*instagram.UserProfile, error)
	Media(ctx context.Context) ([]instagram.MediaItem, error)
}

// ClientFactory builds a Fetcher bound to one credential.
type ClientFactory func(cred auth.Credential) Fetcher

// Options configures a Loader.
type Options struct {
	GraphURL   string
	MediaLimit int
	Timeout    time.Duration
	Metrics    *metrics.Sink
}

// Loader runs dashboard loads.
type Loader struct {
	newClient ClientFactory
	timeout   time.Duration
	metrics   *metrics.Sink
}

// NewLoader creates a Loader that talks to the Instagram Graph API.
func NewLoader(opts Options) *Loader {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.Default()
	}
	return &Loader{
		newClient: func(cred auth.Credential) Fetcher {
			c := instagram.NewClient(string(cred)).WithMediaLimit(opts.MediaLimit)
			if opts.GraphURL != "" {
				c = c.WithBaseURL(opts.GraphURL)
			}
			return c
		},
		timeout: timeout,
		metrics: sink,
	}
}

// WithClientFactory replaces how Fetchers are built.
func (l *Loader) WithClientFactory(f ClientFactory) *Loader {
	l.newClient = f
	return l
}

// Load starts both fetches before awaiting either. The first failure cancels
// its sibling and becomes the outcome; no partial dashboard is ever returned.
func (l *Loader) Load(ctx context.Context, cred auth.Credential) outcome.Outcome[Dashboard] {
	start := time.Now()
	client := l.newClient(cred)

	var (
		profile *instagram.UserProfile
		media   []instagram.MediaItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, l.timeout)
		defer cancel()
		p, err := client.Profile(fctx)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, l.timeout)
		defer cancel()
		m, err := client.Media(fctx)
		if err != nil {
			return err
		}
		media = m
		return nil
	})
	err := g.Wait()
	elapsed := time.Since(start)

	if err == nil && profile == nil {
		err = outcome.New(outcome.KindMalformedResult, "Instagram returned no profile")
	}

	result := "success"
	var out outcome.Outcome[Dashboard]
	if err != nil {
		oe := outcome.Classify(err, LoadFailedMessage)
		result = string(oe.Kind)
		log.Error().Err(err).Str("kind", string(oe.Kind)).Dur("duration", elapsed).Msg("Dashboard load failed")
		out = outcome.Failure[Dashboard](oe)
	} else {
		log.Info().Str("username", profile.Username).Int("mediaCount", len(media)).Dur("duration", elapsed).
			Msg("Dashboard loaded")
		out = outcome.Success(Dashboard{Profile: *profile, Media: media})
	}

	l.metrics.New().
		Dimension("Result", result).
		Metric("DashboardLoadMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("DashboardLoad").
		Flush()
	return out
}

// Session is the part of auth.Manager a session-aware load needs.
type Session interface {
	Credential() (auth.Credential, bool)
	Epoch() uint64
	Expire(ctx context.Context, err error) bool
}

// LoadSession loads the dashboard for the session's current credential.
// An AuthExpired failure ends the session. current is false when the
// session changed while the load was in flight; the outcome must then be
// discarded.
func (l *Loader) LoadSession(ctx context.Context, s Session) (out outcome.Outcome[Dashboard], current bool) {
	cred, ok := s.Credential()
	if !ok {
		return outcome.Failure[Dashboard](outcome.New(outcome.KindAuthExpired, "You are not logged in.")), true
	}
	epoch := s.Epoch()

	out = l.Load(ctx, cred)
	if s.Epoch() != epoch {
		log.Debug().Msg("Session changed during dashboard load, discarding result")
		return out, false
	}
	if out.IsFailure() && s.Expire(ctx, out.Err()) {
		log.Info().Msg("Session ended after credential rejection")
	}
	return out, true
}

// String summarises a dashboard for logs and the CLI.
func (d Dashboard) String() string {
	return fmt.Sprintf("@%s (%d posts, %d loaded)", d.Profile.Username, d.Profile.MediaCount, len(d.Media))
}
