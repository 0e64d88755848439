package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// MCP Commands
// =============================================================================

// buildMcpCmd creates the "mcp" command group for tool server inspection.
func buildMcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect configured MCP tool servers",
		Long: `Inspect configured MCP tool servers.

Use "conductor mcp servers" to check connectivity and tool counts, and
"conductor mcp tools" to dump the tool schemas the agents would see.`,
	}
	cmd.AddCommand(
		buildMcpServersCmd(),
		buildMcpToolsCmd(),
	)
	return cmd
}

func buildMcpServersCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List configured MCP servers and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runMcpServers(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildMcpToolsCmd() *cobra.Command {
	var (
		configPath string
		serverName string
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Dump MCP tool schemas as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runMcpTools(cmd, configPath, serverName)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVar(&serverName, "server", "", "Restrict the dump to one server")
	return cmd
}
