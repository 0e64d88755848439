package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/conductor/internal/config"
)

// =============================================================================
// Config Command Handlers
// =============================================================================

const redacted = "[redacted]"

// runConfigValidate loads the config and summarizes what it describes.
// Load already applies defaults and validates; a bad config surfaces as the
// returned error.
func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration OK: %s\n", configPath)
	fmt.Fprintf(out, "  provider:   %s (%s)\n", cfg.LLM.Provider, cfg.LLM.ModelName)
	fmt.Fprintf(out, "  servers:    %d\n", len(cfg.Servers))
	fmt.Fprintf(out, "  sub-agents: %d\n", len(cfg.Agent.SubAgents))
	fmt.Fprintf(out, "  serve addr: %s\n", cfg.Serve.Addr())
	return nil
}

// runConfigShow prints the effective configuration as YAML.
func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	redactSecrets(cfg)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// redactSecrets blanks every field that can carry a credential. The config
// was loaded solely for printing, so mutating it in place is fine.
func redactSecrets(cfg *config.Config) {
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = redacted
	}
	if cfg.Cache.Redis.Password != "" {
		cfg.Cache.Redis.Password = redacted
	}
	for i := range cfg.Servers {
		entry := &cfg.Servers[i]
		for k := range entry.Headers {
			entry.Headers[k] = redacted
		}
		if entry.Params == nil {
			continue
		}
		for k := range entry.Params.Env {
			entry.Params.Env[k] = redacted
		}
	}
}

// runConfigSchema prints the JSON Schema for the configuration structure.
func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}
