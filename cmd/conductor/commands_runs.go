package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Runs Commands
// =============================================================================

// buildRunsCmd creates the "runs" command group over the run store.
func buildRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
		Long: `Inspect the run store.

Every finished task leaves a record with its status, boxed answer, timings,
token totals, and the path of its log artifact.`,
	}
	cmd.AddCommand(
		buildRunsListCmd(),
		buildRunsShowCmd(),
		buildRunsPruneCmd(),
	)
	return cmd
}

func buildRunsListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRunsList(cmd, configPath, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 = all)")
	return cmd
}

func buildRunsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRunsShow(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildRunsPruneCmd() *cobra.Command {
	var (
		configPath string
		olderThan  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old run records",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRunsPrune(cmd, configPath, olderThan)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour,
		"Delete runs that finished earlier than this")
	return cmd
}
