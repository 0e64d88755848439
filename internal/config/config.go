// Package config defines the conductor configuration surface and its loader.
//
// Configuration files are YAML (or JSON/JSON5 by extension). The loader
// resolves $include directives with cycle detection, expands environment
// variables, rejects unknown fields, applies defaults, and validates the
// result. Config errors are the one fatal error kind in the runtime: nothing
// downstream starts with a config that failed Validate.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the conductor runtime.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Servers       []ServerEntry       `yaml:"servers"`
	Output        OutputConfig        `yaml:"output"`
	Cache         CacheConfig         `yaml:"cache"`
	Store         StoreConfig         `yaml:"store"`
	Serve         ServeConfig         `yaml:"serve"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// OutputConfig controls where task log artifacts are written.
type OutputConfig struct {
	// Dir is the directory for task_<id>_<timestamp>.json artifacts.
	Dir string `yaml:"dir"`
}

// ServeConfig configures the long-running HTTP server (`conductor serve`).
type ServeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address for serve mode.
func (s ServeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads, merges, decodes, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 8192
	}
	if cfg.LLM.KeepToolResult == nil {
		keep := -1
		cfg.LLM.KeepToolResult = &keep
	}

	if cfg.Agent.MainAgent.MaxTurns == 0 {
		cfg.Agent.MainAgent.MaxTurns = 20
	}
	if cfg.Agent.MainAgent.MaxToolCalls == 0 {
		cfg.Agent.MainAgent.MaxToolCalls = 40
	}
	for i := range cfg.Agent.SubAgents {
		if cfg.Agent.SubAgents[i].MaxTurns == 0 {
			cfg.Agent.SubAgents[i].MaxTurns = 20
		}
		if cfg.Agent.SubAgents[i].MaxToolCalls == 0 {
			cfg.Agent.SubAgents[i].MaxToolCalls = 40
		}
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "logs"
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "conductor"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1024
	}
	if cfg.Cache.Redis.Addr == "" {
		cfg.Cache.Redis.Addr = "localhost:6379"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "conductor.db"
	}

	if cfg.Serve.Host == "" {
		cfg.Serve.Host = "127.0.0.1"
	}
	if cfg.Serve.Port == 0 {
		cfg.Serve.Port = 8080
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "conductor"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// Validate reports the first fatal configuration error.
func (c *Config) Validate() error {
	if err := c.LLM.validate(); err != nil {
		return err
	}

	serverNames := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		entry := &c.Servers[i]
		if err := entry.validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
		if serverNames[entry.Name] {
			return fmt.Errorf("servers[%d]: duplicate server name %q", i, entry.Name)
		}
		serverNames[entry.Name] = true
	}

	if err := c.Agent.validate(serverNames); err != nil {
		return err
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "memory", "redis":
		default:
			return fmt.Errorf("cache.backend must be one of memory, redis (got %q)", c.Cache.Backend)
		}
	}

	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port must be in [0, 65535] (got %d)", c.Serve.Port)
	}

	return nil
}
