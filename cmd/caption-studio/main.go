package main

import (
	"os"

	"github.com/fpang/ig-caption-studio/internal/chat"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI flags
var (
	modelFlag   string
	metricsFlag string
)

var rootCmd = &cobra.Command{
	Use:   "caption-studio",
	Short: "AI captions, hashtags and vibes for your Instagram posts",
	Long: `Caption Studio connects to your Instagram account, lists your recent posts
and asks Gemini to write a caption, suggest hashtags and describe the vibe of
the post you pick.

Run "caption-studio serve" for the local web UI, or use the subcommands
directly from a terminal.

Examples:
  caption-studio serve
  caption-studio login
  caption-studio login --code AQBx...
  caption-studio posts
  caption-studio analyze 17895695668004550
  caption-studio mcp`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", chat.GetModelName(), "Gemini model to use (e.g., gemini-2.5-flash, gemini-2.5-pro)")
	rootCmd.PersistentFlags().StringVar(&metricsFlag, "metrics", "", "Metrics destination: stdout, stderr, or off (default from IGCS_METRICS)")

	rootCmd.AddCommand(serveCmd, statusCmd, loginCmd, logoutCmd, postsCmd, analyzeCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
