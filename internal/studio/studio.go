// Package studio ties the session manager, the dashboard loader and the
// analysis pipeline together into the operations every surface (HTTP, MCP,
// CLI) exposes.
package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fpang/ig-caption-studio/internal/analysis"
	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/fpang/ig-caption-studio/internal/profile"
	"github.com/rs/zerolog/log"
)

// ErrMediaNotFound is returned when a media ID is not in the user's feed.
var ErrMediaNotFound = errors.New("media item not found")

// SessionEndedMessage is used when a load finishes after the session ended.
const SessionEndedMessage = "Your session ended while loading. Please log in again."

// Studio is one UI session: a credential, the dashboard it loaded and the
// single analysis slot.
type Studio struct {
	Auth     *auth.Manager
	Loader   *profile.Loader
	Pipeline *analysis.Pipeline

	mu        sync.Mutex
	dashboard *profile.Dashboard
	epoch     uint64
}

// New creates a Studio.
func New(a *auth.Manager, l *profile.Loader, p *analysis.Pipeline) *Studio {
	return &Studio{Auth: a, Loader: l, Pipeline: p}
}

// Dashboard loads the profile and feed for the current credential. A result
// that arrives after logout is dropped. AuthExpired ends the session and
// abandons any analysis in progress.
func (s *Studio) Dashboard(ctx context.Context) outcome.Outcome[profile.Dashboard] {
	epoch := s.Auth.Epoch()
	out, current := s.Loader.LoadSession(ctx, s.Auth)
	if !current {
		log.Debug().Msg("Discarding dashboard from a previous session")
		return outcome.Failure[profile.Dashboard](outcome.New(outcome.KindAuthExpired, SessionEndedMessage))
	}

	if out.IsFailure() {
		if out.ErrorKind == outcome.KindAuthExpired {
			s.Pipeline.Close()
			s.forget()
		}
		return out
	}

	s.mu.Lock()
	d := *out.Value
	s.dashboard = &d
	s.epoch = epoch
	s.mu.Unlock()
	return out
}

// Media returns the feed item with the given ID, loading the dashboard if
// this session has not loaded one yet.
func (s *Studio) Media(ctx context.Context, mediaID string) (instagram.MediaItem, error) {
	s.mu.Lock()
	d := s.dashboard
	fresh := d != nil && s.epoch == s.Auth.Epoch()
	s.mu.Unlock()

	if !fresh {
		out := s.Dashboard(ctx)
		if out.IsFailure() {
			return instagram.MediaItem{}, out.Err()
		}
		d = out.Value
	}

	item, ok := d.Find(mediaID)
	if !ok {
		return instagram.MediaItem{}, fmt.Errorf("%w: %s", ErrMediaNotFound, mediaID)
	}
	return item, nil
}

// Analyze selects the post and starts its analysis.
func (s *Studio) Analyze(ctx context.Context, mediaID string) (analysis.Snapshot, error) {
	item, err := s.Media(ctx, mediaID)
	if err != nil {
		return s.Pipeline.Snapshot(), err
	}
	return s.Pipeline.Select(ctx, item), nil
}

// Logout ends the session and discards everything loaded under it.
func (s *Studio) Logout(ctx context.Context) error {
	if err := s.Auth.Logout(ctx); err != nil {
		return err
	}
	s.Pipeline.Close()
	s.forget()
	return nil
}

func (s *Studio) forget() {
	s.mu.Lock()
	s.dashboard = nil
	s.mu.Unlock()
}
