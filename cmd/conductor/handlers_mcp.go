package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/models"
)

// =============================================================================
// MCP Command Handlers
// =============================================================================

// inspectionProfile grants access to every configured server. Managers only
// build clients for servers on the profile's allowlist, so inspection needs
// one that names them all.
func inspectionProfile(cfg *config.Config) config.AgentProfile {
	names := make([]string, 0, len(cfg.Servers))
	for _, entry := range cfg.Servers {
		names = append(names, entry.Name)
	}
	return config.AgentProfile{Name: "inspector", Tools: names}
}

func serverKind(entry config.ServerEntry) string {
	if entry.Kind == "" {
		return "stdio"
	}
	return entry.Kind
}

// runMcpServers lists configured servers with their connection status.
func runMcpServers(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(cfg.Servers) == 0 {
		fmt.Fprintln(out, "No tool servers configured.")
		return nil
	}

	mgr := tools.NewManager(cfg.Servers, inspectionProfile(cfg), nil, buildLogger(cfg, false), nil)
	defer func() { _ = mgr.Close() }()

	defs := mgr.GetAllToolDefinitions(cmd.Context())
	byServer := make(map[string]models.ServerTools, len(defs))
	for _, st := range defs {
		byServer[st.ServerName] = st
	}

	fmt.Fprintln(out, "Configured tool servers:")
	for _, entry := range cfg.Servers {
		st := byServer[entry.Name]
		if st.Err != "" {
			fmt.Fprintf(out, "  %s (%s) - connection failed: %s\n", entry.Name, serverKind(entry), st.Err)
			continue
		}
		fmt.Fprintf(out, "  %s (%s) - connected, %d tools\n", entry.Name, serverKind(entry), len(st.Tools))
	}
	return nil
}

// runMcpTools dumps the tool schemas the agents would see, as indented JSON.
func runMcpTools(cmd *cobra.Command, configPath, serverName string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serverName != "" {
		known := false
		for _, entry := range cfg.Servers {
			if entry.Name == serverName {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("server %q is not configured", serverName)
		}
	}

	out := cmd.OutOrStdout()
	if len(cfg.Servers) == 0 {
		fmt.Fprintln(out, "No tool servers configured.")
		return nil
	}

	mgr := tools.NewManager(cfg.Servers, inspectionProfile(cfg), nil, buildLogger(cfg, false), nil)
	defer func() { _ = mgr.Close() }()

	type toolDump struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"input_schema,omitempty"`
	}
	type serverDump struct {
		Server string     `json:"server"`
		Error  string     `json:"error,omitempty"`
		Tools  []toolDump `json:"tools,omitempty"`
	}

	var dump []serverDump
	for _, st := range mgr.GetAllToolDefinitions(cmd.Context()) {
		if serverName != "" && st.ServerName != serverName {
			continue
		}
		entry := serverDump{Server: st.ServerName, Error: st.Err}
		for _, tool := range st.Tools {
			entry.Tools = append(entry.Tools, toolDump{
				Name:        tool.ToolName,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
		dump = append(dump, entry)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
