package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/conductor/internal/mcp"
)

// ServerEntry declares one tool server. Kind selects the transport: "stdio"
// servers carry Params, "sse" and "streamable_http" servers carry a URL.
type ServerEntry struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	Params *StdioParams `yaml:"params"`

	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds one tools/call round trip; 0 uses the client default.
	Timeout time.Duration `yaml:"timeout"`
}

// StdioParams describes how to launch a stdio tool server.
type StdioParams struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	WorkDir string            `yaml:"work_dir"`
}

// ToServerConfig translates the entry into the client's config type.
func (e ServerEntry) ToServerConfig() mcp.ServerConfig {
	cfg := mcp.ServerConfig{
		Name:    e.Name,
		URL:     e.URL,
		Headers: e.Headers,
		Timeout: e.Timeout,
	}
	switch e.Kind {
	case "sse":
		cfg.Transport = mcp.TransportSSE
	case "streamable_http":
		cfg.Transport = mcp.TransportStreamableHTTP
	default:
		cfg.Transport = mcp.TransportStdio
	}
	if e.Params != nil {
		cfg.Command = e.Params.Command
		cfg.Args = e.Params.Args
		cfg.Env = e.Params.Env
		cfg.WorkDir = e.Params.WorkDir
	}
	return cfg
}

func (e *ServerEntry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch e.Kind {
	case "stdio", "":
		if e.Params == nil || e.Params.Command == "" {
			return fmt.Errorf("server %q: stdio servers require params.command", e.Name)
		}
		if e.URL != "" {
			return fmt.Errorf("server %q: stdio servers do not take a url", e.Name)
		}
	case "sse", "streamable_http":
		if e.URL == "" {
			return fmt.Errorf("server %q: %s servers require a url", e.Name, e.Kind)
		}
		if e.Params != nil {
			return fmt.Errorf("server %q: %s servers do not take params", e.Name, e.Kind)
		}
	default:
		return fmt.Errorf("server %q: kind must be one of stdio, sse, streamable_http (got %q)", e.Name, e.Kind)
	}

	// Transport-level checks (paths, URL schemes, shell metacharacters).
	cfg := e.ToServerConfig()
	return cfg.Validate()
}
