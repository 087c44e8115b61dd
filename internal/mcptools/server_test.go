package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
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
	"github.com/fpang/ig-caption-studio/internal/studio"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var discard = metrics.NewSink(metrics.Namespace, nil)

type feed struct{}

func (feed) Profile(context.Context) (*instagram.UserProfile, error) {
	return &instagram.UserProfile{ID: "u1", Username: "sunny", MediaCount: 2}, nil
}

func (feed) Media(context.Context) ([]instagram.MediaItem, error) {
	return []instagram.MediaItem{
		{ID: "m1", Caption: "beach", MediaType: instagram.MediaImage, MediaURL: "m1.jpg"},
		{ID: "v1", MediaType: instagram.MediaVideo, MediaURL: "v1.mp4"},
	}, nil
}

type noExchange struct{}

func (noExchange) Exchange(context.Context, string) (auth.Credential, error) {
	return "", errors.New("unexpected exchange")
}

type encoder struct{}

func (encoder) Encode(_ context.Context, url string) outcome.Outcome[imageenc.Payload] {
	return outcome.Success(imageenc.Payload{Data: "aW1n", MIMEType: "image/jpeg", SourceURL: url})
}

type analyzer struct{ err error }

func (a analyzer) Analyze(context.Context, imageenc.Payload, string) (*chat.AnalysisResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &chat.AnalysisResult{Caption: "Salt air", Hashtags: []string{"#beach"}, Vibe: "breezy"}, nil
}

func connect(t *testing.T, loggedIn bool, an chat.Analyzer) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	store := session.NewMemoryStore()
	if loggedIn {
		store.Set(ctx, "tok")
	}
	m := auth.NewManager(auth.Config{ClientID: "app"}, store, noExchange{}).WithMetrics(discard)
	m.Start(ctx, nil)
	loader := profile.NewLoader(profile.Options{Timeout: time.Second, Metrics: discard}).
		WithClientFactory(func(auth.Credential) profile.Fetcher { return feed{} })
	s := studio.New(m, loader, analysis.NewPipeline(encoder{}, an).WithMetrics(discard))

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := NewServer(s, "test", 5*time.Second).Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func call[T any](t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (T, *mcp.CallToolResult) {
	t.Helper()
	var out T
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	if res.IsError || res.StructuredContent == nil {
		return out, res
	}
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s output %s: %v", name, raw, err)
	}
	return out, res
}

func errorText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, " ")
}

func TestSessionStatus(t *testing.T) {
	status, _ := call[auth.Status](t, connect(t, true, analyzer{}), "session_status", map[string]any{})
	if !status.Authenticated || status.State != auth.StateAuthenticated {
		t.Errorf("unexpected status: %+v", status)
	}

	status, _ = call[auth.Status](t, connect(t, false, analyzer{}), "session_status", map[string]any{})
	if status.Authenticated {
		t.Errorf("expected logged out, got %+v", status)
	}
}

func TestListPosts(t *testing.T) {
	out, res := call[ListPostsOutput](t, connect(t, true, analyzer{}), "list_posts", map[string]any{})
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", errorText(res))
	}
	if out.Username != "sunny" || len(out.Posts) != 2 {
		t.Fatalf("unexpected listing: %+v", out)
	}
	if !out.Posts[0].Analyzable || out.Posts[1].Analyzable {
		t.Errorf("a video without a thumbnail must not be analyzable: %+v", out.Posts)
	}
}

func TestListPostsLoggedOut(t *testing.T) {
	_, res := call[ListPostsOutput](t, connect(t, false, analyzer{}), "list_posts", map[string]any{})
	if !res.IsError || !strings.Contains(errorText(res), "not logged in") {
		t.Errorf("expected a not-logged-in tool error, got %+v", res)
	}
}

func TestAnalyzePost(t *testing.T) {
	out, res := call[AnalyzePostOutput](t, connect(t, true, analyzer{}), "analyze_post", map[string]any{"mediaId": "m1"})
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", errorText(res))
	}
	if out.MediaID != "m1" || out.Caption != "Salt air" || out.Vibe != "breezy" || len(out.Hashtags) != 1 {
		t.Errorf("unexpected analysis: %+v", out)
	}
}

func TestAnalyzePostFailures(t *testing.T) {
	tests := []struct {
		name    string
		an      chat.Analyzer
		mediaID string
		want    string
	}{
		{"unknown media", analyzer{}, "nope", "not found"},
		{"video without thumbnail", analyzer{}, "v1", analysis.NoThumbnailMessage},
		{"inference failure", analyzer{err: outcome.New(outcome.KindMalformedResult, chat.MalformedMessage)}, "m1", chat.MalformedMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, res := call[AnalyzePostOutput](t, connect(t, true, tc.an), "analyze_post", map[string]any{"mediaId": tc.mediaID})
			if !res.IsError {
				t.Fatal("expected a tool error")
			}
			if got := errorText(res); !strings.Contains(got, tc.want) {
				t.Errorf("error %q does not mention %q", got, tc.want)
			}
		})
	}
}
