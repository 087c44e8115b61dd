package studio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/ig-caption-studio/internal/analysis"
	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/chat"
	"github.com/fpang/ig-caption-studio/internal/imageenc"
	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/fpang/ig-caption-studio/internal/profile"
	"github.com/fpang/ig-caption-studio/internal/session"
)

var discard = metrics.NewSink(metrics.Namespace, nil)

type feed struct {
	loads   atomic.Int32
	profErr error
	items   []instagram.MediaItem
}

func (f *feed) Profile(context.Context) (*instagram.UserProfile, error) {
	f.loads.Add(1)
	if f.profErr != nil {
		return nil, f.profErr
	}
	return &instagram.UserProfile{ID: "u1", Username: "sunny", MediaCount: len(f.items)}, nil
}

func (f *feed) Media(context.Context) ([]instagram.MediaItem, error) {
	return f.items, nil
}

type noExchange struct{}

func (noExchange) Exchange(context.Context, string) (auth.Credential, error) {
	return "", errors.New("unexpected exchange")
}

type encoder struct{}

func (encoder) Encode(_ context.Context, url string) outcome.Outcome[imageenc.Payload] {
	return outcome.Success(imageenc.Payload{Data: "aW1n", MIMEType: "image/jpeg", SourceURL: url})
}

type analyzer struct{}

func (analyzer) Analyze(context.Context, imageenc.Payload, string) (*chat.AnalysisResult, error) {
	return &chat.AnalysisResult{Caption: "c", Hashtags: []string{"#a"}, Vibe: "v"}, nil
}

func newTestStudio(t *testing.T, f *feed) *Studio {
	t.Helper()
	ctx := context.Background()
	store := session.NewMemoryStore()
	store.Set(ctx, "tok")

	m := auth.NewManager(auth.Config{ClientID: "app"}, store, noExchange{}).WithMetrics(discard)
	if m.Start(ctx, nil) != auth.StateAuthenticated {
		t.Fatal("expected stored credential to authenticate")
	}
	loader := profile.NewLoader(profile.Options{Timeout: time.Second, Metrics: discard}).
		WithClientFactory(func(auth.Credential) profile.Fetcher { return f })
	pipeline := analysis.NewPipeline(encoder{}, analyzer{}).WithMetrics(discard)
	return New(m, loader, pipeline)
}

func posts() []instagram.MediaItem {
	return []instagram.MediaItem{
		{ID: "m1", MediaType: instagram.MediaImage, MediaURL: "m1.jpg"},
		{ID: "v1", MediaType: instagram.MediaVideo, MediaURL: "v1.mp4", ThumbnailURL: "v1.jpg"},
	}
}

func TestAnalyzeLoadsDashboardOnce(t *testing.T) {
	f := &feed{items: posts()}
	s := newTestStudio(t, f)
	ctx := context.Background()

	snap, err := s.Analyze(ctx, "v1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if snap.MediaID != "v1" || snap.SourceURL != "v1.jpg" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if _, err := s.Analyze(ctx, "m1"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.loads.Load() != 1 {
		t.Errorf("expected the dashboard to be reused, got %d loads", f.loads.Load())
	}
}

func TestAnalyzeUnknownMedia(t *testing.T) {
	s := newTestStudio(t, &feed{items: posts()})
	if _, err := s.Analyze(context.Background(), "nope"); !errors.Is(err, ErrMediaNotFound) {
		t.Errorf("expected ErrMediaNotFound, got %v", err)
	}
}

func TestDashboardAuthExpiredEndsSession(t *testing.T) {
	f := &feed{items: posts()}
	s := newTestStudio(t, f)
	ctx := context.Background()

	s.Analyze(ctx, "m1")
	f.profErr = outcome.New(outcome.KindAuthExpired, "Error validating access token")
	s.forget()

	out := s.Dashboard(ctx)
	if out.ErrorKind != outcome.KindAuthExpired {
		t.Fatalf("expected AuthExpired, got %+v", out)
	}
	if s.Auth.State() != auth.StateUnauthenticated {
		t.Errorf("expected session to end, got %s", s.Auth.State())
	}
	if snap := s.Pipeline.Snapshot(); snap.Phase != analysis.PhaseIdle {
		t.Errorf("expected analysis abandoned, got %s", snap.Phase)
	}
}

func TestLogoutDiscardsState(t *testing.T) {
	f := &feed{items: posts()}
	s := newTestStudio(t, f)
	ctx := context.Background()

	if _, err := s.Analyze(ctx, "m1"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if snap := s.Pipeline.Snapshot(); snap.Phase != analysis.PhaseIdle || snap.MediaID != "" {
		t.Errorf("expected idle pipeline after logout, got %+v", snap)
	}
	if _, err := s.Media(ctx, "m1"); outcome.KindOf(err) != outcome.KindAuthExpired {
		t.Errorf("expected AuthExpired after logout, got %v", err)
	}
}
