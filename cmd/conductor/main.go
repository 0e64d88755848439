// Package main provides the CLI entry point for the conductor agent runtime.
//
// Conductor drives an LLM agent loop against MCP tool servers: the main agent
// works a task turn by turn, calling tools and delegating scoped work to
// sub-agents, and the run is distilled into a final answer at the end.
//
// # Basic Usage
//
// Run a single task:
//
//	conductor run "When was the Eiffel Tower completed?"
//
// Start the HTTP server:
//
//	conductor serve --config conductor.yaml
//
// Inspect tool servers and past runs:
//
//	conductor mcp servers
//	conductor runs list
//
// # Environment Variables
//
//   - CONDUCTOR_CONFIG: Path to the configuration file (default: conductor.yaml)
//   - Any variable referenced from the config file via ${VAR} expansion,
//     typically ANTHROPIC_API_KEY, OPENAI_API_KEY, and the keys of configured
//     tool servers
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// defaultConfigName is the config file looked up in the working directory
// when neither --config nor CONDUCTOR_CONFIG is set.
const defaultConfigName = "conductor.yaml"

// main is the entry point for the conductor CLI.
func main() {
	// Structured logging on stderr; stdout stays reserved for command output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "Conductor - agent orchestration runtime",
		Long: `Conductor runs LLM agents against MCP tool servers.

The main agent works a task turn by turn, calling tools and delegating
scoped work to sub-agents, until it produces a \boxed{} answer or runs out
of budget. A summary pass then extracts the final answer.

Supported LLM providers: Anthropic (Claude), OpenAI-compatible endpoints
Tool server transports: stdio, SSE, streamable HTTP`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildServeCmd(),
		buildMcpCmd(),
		buildRunsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the CONDUCTOR_CONFIG override when the flag was
// left at its default.
func resolveConfigPath(path string) string {
	if env := strings.TrimSpace(os.Getenv("CONDUCTOR_CONFIG")); env != "" {
		if strings.TrimSpace(path) == "" || path == defaultConfigName {
			return env
		}
	}
	if strings.TrimSpace(path) == "" {
		return defaultConfigName
	}
	return path
}
