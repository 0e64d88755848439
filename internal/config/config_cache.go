package config

import "time"

// CacheConfig controls the tool-result cache in front of tool dispatch.
// Cache failures never fail a tool call; a broken backend degrades to
// pass-through.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	// TTL is how long cached results stay valid.
	TTL time.Duration `yaml:"ttl"`

	// Prefix namespaces cache keys.
	Prefix string `yaml:"prefix"`

	// MaxEntries bounds the memory backend.
	MaxEntries int `yaml:"max_entries"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig locates the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StoreConfig controls the sqlite run store. Every finished task appends a
// row unless the store is disabled.
type StoreConfig struct {
	Path string `yaml:"path"`

	// Enabled defaults to true when unset.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether finished runs should be recorded.
func (s StoreConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}
