package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the HTTP server.
// This is the primary command for running conductor as a service.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conductor HTTP server",
		Long: `Start the long-running HTTP server.

The server will:
1. Load configuration from the specified file (or conductor.yaml)
2. Build the task pipeline: LLM clients, tool managers, cache, run store
3. Expose the task API: POST /api/tasks plus SSE and websocket event feeds
4. Serve /healthz and Prometheus metrics on /metrics
5. Watch the config file and swap in reloaded pipeline components

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  conductor serve

  # Start with custom config
  conductor serve --config /etc/conductor/production.yaml

  # Start with debug logging
  conductor serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
