// Package main provides the CLI entry point for slackagent, a Slack bot that
// answers mentions with a Gemini model and a set of callable tools.
//
// # Basic Usage
//
// Start the bot:
//
//	slackagent serve --config slackagent.yaml
//
// Print the configuration schema:
//
//	slackagent config schema
//
// # Environment Variables
//
//   - SLACKAGENT_CONFIG: Path to configuration file
//   - SLACK_BOT_TOKEN: Slack bot OAuth token
//   - SLACK_APP_TOKEN: Slack app-level token for Socket Mode
//   - GOOGLE_API_TOKEN or GOOGLE_API_KEY: Gemini API key
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "slackagent",
		Short: "slackagent - Slack mentions answered by a tool-using Gemini agent",
		Long: `slackagent listens for @-mentions over Socket Mode, rebuilds the thread as a
model conversation (attachments and earlier tool traces included), runs the
model with its tools until it answers, and replies in the thread.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers an explicit flag, then SLACKAGENT_CONFIG. An
// empty result means environment-only configuration.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return strings.TrimSpace(os.Getenv("SLACKAGENT_CONFIG"))
}
