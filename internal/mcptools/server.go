// Package mcptools exposes the studio to MCP clients: session status, the
// feed listing and a blocking caption analysis.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/ig-caption-studio/internal/analysis"
	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/studio"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// DefaultAnalyzeWait bounds how long analyze_post blocks for a result.
const DefaultAnalyzeWait = 90 * time.Second

// ServerName is reported to MCP clients during initialization.
const ServerName = "ig-caption-studio"

// Post is one feed item as listed to MCP clients.
type Post struct {
	ID         string `json:"id"`
	Caption    string `json:"caption,omitempty"`
	MediaType  string `json:"mediaType"`
	Permalink  string `json:"permalink,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Analyzable bool   `json:"analyzable"`
}

// ListPostsOutput is the result of list_posts.
type ListPostsOutput struct {
	Username   string `json:"username"`
	MediaCount int    `json:"mediaCount"`
	Posts      []Post `json:"posts"`
}

// AnalyzePostInput names the post to analyze.
type AnalyzePostInput struct {
	MediaID string `json:"mediaId" jsonschema:"ID of a post returned by list_posts"`
}

// AnalyzePostOutput is the generated caption, hashtags and vibe.
type AnalyzePostOutput struct {
	MediaID  string   `json:"mediaId"`
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
	Vibe     string   `json:"vibe"`
}

type emptyInput struct{}

// NewServer registers the studio tools on a new MCP server.
func NewServer(s *studio.Studio, version string, wait time.Duration) *mcp.Server {
	if wait <= 0 {
		wait = DefaultAnalyzeWait
	}
	t := &tools{studio: s, wait: wait}

	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_status",
		Description: "Report whether an Instagram account is connected.",
	}, t.sessionStatus)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_posts",
		Description: "List the connected account's recent Instagram posts.",
	}, t.listPosts)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_post",
		Description: "Generate a caption, hashtags and a vibe for one post. Blocks until the analysis finishes.",
	}, t.analyzePost)
	return server
}

// Serve runs the tools over stdio until ctx is done or the client hangs up.
func Serve(ctx context.Context, s *studio.Studio, version string) error {
	log.Info().Str("server", ServerName).Msg("Serving MCP over stdio")
	return NewServer(s, version, 0).Run(ctx, &mcp.StdioTransport{})
}

type tools struct {
	studio *studio.Studio
	wait   time.Duration
}

func (t *tools) sessionStatus(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, auth.Status, error) {
	return nil, t.studio.Auth.Status(), nil
}

func (t *tools) listPosts(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, ListPostsOutput, error) {
	out := t.studio.Dashboard(ctx)
	if out.IsFailure() {
		return nil, ListPostsOutput{}, errors.New(out.Message)
	}

	d := out.Value
	result := ListPostsOutput{
		Username:   d.Profile.Username,
		MediaCount: d.Profile.MediaCount,
		Posts:      make([]Post, 0, len(d.Media)),
	}
	for _, item := range d.Media {
		_, err := analysis.SourceURL(item)
		result.Posts = append(result.Posts, Post{
			ID:         item.ID,
			Caption:    item.Caption,
			MediaType:  string(item.MediaType),
			Permalink:  item.Permalink,
			Timestamp:  item.Timestamp,
			Analyzable: err == nil,
		})
	}
	return nil, result, nil
}

func (t *tools) analyzePost(ctx context.Context, _ *mcp.CallToolRequest, in AnalyzePostInput) (*mcp.CallToolResult, AnalyzePostOutput, error) {
	if in.MediaID == "" {
		return nil, AnalyzePostOutput{}, errors.New("mediaId is required")
	}
	if _, err := t.studio.Analyze(ctx, in.MediaID); err != nil {
		return nil, AnalyzePostOutput{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.wait)
	defer cancel()
	snap, err := t.studio.Pipeline.Wait(waitCtx)
	if err != nil {
		return nil, AnalyzePostOutput{}, fmt.Errorf("analysis still running after %s", t.wait)
	}
	if snap.MediaID != in.MediaID {
		return nil, AnalyzePostOutput{}, errors.New("analysis was replaced by another selection")
	}
	if snap.Phase != analysis.PhaseSuccess || snap.Result.Value == nil {
		if snap.Result.Message == "" {
			return nil, AnalyzePostOutput{}, fmt.Errorf("analysis ended in phase %s", snap.Phase)
		}
		return nil, AnalyzePostOutput{}, errors.New(snap.Result.Message)
	}

	r := snap.Result.Value
	log.Ctx(ctx).Debug().Str("mediaId", in.MediaID).Msg("MCP analysis finished")
	return nil, AnalyzePostOutput{
		MediaID:  in.MediaID,
		Caption:  r.Caption,
		Hashtags: r.Hashtags,
		Vibe:     r.Vibe,
	}, nil
}
