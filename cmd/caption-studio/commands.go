package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fpang/ig-caption-studio/internal/analysis"
	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/mcptools"
	"github.com/spf13/cobra"
)

var (
	codeFlag    string
	jsonFlag    bool
	timeoutFlag time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an Instagram account is connected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "caption-studio status", false)
		if err != nil {
			return err
		}
		a.auth.Start(ctx, nil)
		printStatus(cmd, a.auth.Status())
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Connect an Instagram account",
	Long: `Without --code, login prints the Instagram authorization URL. Open it, approve
access, and pass the code from the redirect back with --code.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "caption-studio login", false)
		if err != nil {
			return err
		}

		if codeFlag == "" {
			if a.auth.Start(ctx, nil) == auth.StateAuthenticated {
				fmt.Fprintln(cmd.OutOrStdout(), "Already logged in. Run `caption-studio logout` first to switch accounts.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorize Caption Studio:\n\n  %s\n\n", a.auth.AuthorizeURL())
			return nil
		}

		state := a.auth.Start(ctx, auth.NewQueryEntry(url.Values{"code": {codeFlag}}))
		printStatus(cmd, a.auth.Status())
		if state != auth.StateAuthenticated {
			return errors.New("login failed")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored Instagram credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "caption-studio logout", false)
		if err != nil {
			return err
		}
		a.auth.Start(ctx, nil)
		if err := a.auth.Logout(ctx); err != nil {
			if errors.Is(err, auth.ErrNotAuthenticated) {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
				return nil
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List your recent posts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "caption-studio posts", false)
		if err != nil {
			return err
		}
		a.auth.Start(ctx, nil)

		out, _ := a.loader.LoadSession(ctx, a.auth)
		if out.IsFailure() {
			return errors.New(out.Message)
		}
		if jsonFlag {
			return writeJSON(cmd, out.Value)
		}

		d := out.Value
		fmt.Fprintln(cmd.OutOrStdout(), d.String())
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tPOSTED\tCAPTION")
		for _, item := range d.Media {
			kind := string(item.MediaType)
			if _, err := analysis.SourceURL(item); err != nil {
				kind += " (no thumbnail)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID, kind, item.Timestamp, oneLine(item.Caption, 60))
		}
		return tw.Flush()
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <media-id>",
	Short: "Generate a caption, hashtags and vibe for one post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "caption-studio analyze", false)
		if err != nil {
			return err
		}
		if a.auth.Start(ctx, nil) != auth.StateAuthenticated {
			return errors.New("not logged in; run `caption-studio login` first")
		}
		if err := a.withAnalysis(ctx); err != nil {
			return err
		}

		if _, err := a.studio.Analyze(ctx, args[0]); err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeoutFlag)
		defer cancel()
		snap, err := a.studio.Pipeline.Wait(waitCtx)
		if err != nil {
			return fmt.Errorf("analysis did not finish: %w", err)
		}
		if jsonFlag {
			return writeJSON(cmd, snap)
		}
		if snap.Phase != analysis.PhaseSuccess {
			return errors.New(snap.Result.Message)
		}

		r := snap.Result.Value
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Caption:  %s\n", r.Caption)
		fmt.Fprintf(w, "Hashtags: %s\n", strings.Join(r.Hashtags, " "))
		fmt.Fprintf(w, "Vibe:     %s\n", r.Vibe)
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the studio as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "caption-studio mcp", false)
		if err != nil {
			return err
		}
		a.auth.Start(ctx, nil)
		if err := a.withAnalysis(ctx); err != nil {
			return err
		}
		a.startup.Log()
		return mcptools.Serve(ctx, a.studio, version)
	},
}

func init() {
	loginCmd.Flags().StringVar(&codeFlag, "code", "", "Authorization code from the Instagram redirect")
	postsCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print JSON instead of a table")
	analyzeCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the analysis snapshot as JSON")
	analyzeCmd.Flags().DurationVar(&timeoutFlag, "timeout", 2*time.Minute, "How long to wait for the analysis")
}

func printStatus(cmd *cobra.Command, s auth.Status) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Session: %s\n", s.State)
	if s.Message != "" {
		fmt.Fprintf(w, "%s\n", s.Message)
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}
