// commands.go contains the run and version command definitions. The serve,
// mcp, runs, and config command groups live in their own commands_*.go files
// next to their handlers.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

// buildRunCmd creates the "run" command that executes one task end to end.
// This is the primary command for one-shot use.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		taskID     string
		logDir     string
		events     bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run a single task to completion",
		Long: `Run one task through the agent pipeline and print the final answer.

The task is the joined command arguments. Logs go to stderr so stdout
carries only the final answer summary, or the raw workflow event stream
when --events is set.`,
		Example: `  # Ask a question
  conductor run "When was the Eiffel Tower completed?"

  # Pin the task id and keep artifacts in a custom directory
  conductor run --task-id demo-1 --log-dir ./artifacts "2^10 = ?"

  # Stream workflow events as JSON lines instead of the answer banner
  conductor run --events "What is the tallest building in Seattle?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRun(cmd, configPath, taskID, logDir, events, debug, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID (generated when empty)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for task log artifacts (overrides config)")
	cmd.Flags().BoolVar(&events, "events", false, "Write workflow events to stdout as JSON lines")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conductor %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
