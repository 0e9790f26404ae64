// Package main provides the CLI entry point for the agent-world
// orchestration runtime.
//
// # Basic Usage
//
// Start an interactive console chat:
//
//	agent-world chat --world planning
//
// Print the effective configuration:
//
//	agent-world config --config agent-world.yaml
//
// # Environment Variables
//
//   - AGENT_WORLD_CONFIG: Path to configuration file
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agent-world",
		Short: "agent-world - multi-agent conversation runtime",
		Long: `agent-world runs conversational worlds where LLM-backed agents
respond to @-mentions, execute tools, and defer decisions to a human.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

func configPathFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", os.Getenv("AGENT_WORLD_CONFIG"), "Path to configuration file")
}
