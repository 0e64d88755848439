// Package cache fronts tool dispatch with an optional result cache, so a
// repeated tool call inside one task (or across tasks sharing a backend) is
// answered without touching the tool server. Backends degrade silently: a
// broken backend behaves like a permanent miss and never fails a tool call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/conductor/internal/config"
)

// DefaultTTL applies when the config does not set one.
const DefaultTTL = time.Hour

// Cache stores tool result text keyed by Key. Implementations never surface
// backend errors to the caller: Get reports a miss and Set drops the write.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Close() error
}

// New builds the configured backend. A disabled config returns (nil, nil);
// callers treat a nil Cache as pass-through.
func New(cfg config.CacheConfig, logger *slog.Logger) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	switch cfg.Backend {
	case "redis":
		return newRedisCache(cfg, ttl, logger)
	case "", "memory":
		return newMemoryCache(cfg.MaxEntries, ttl), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Key derives the cache key for one tool call: a truncated sha256 over the
// server name, tool name, and the canonical JSON form of the arguments.
// Map keys marshal sorted, so two calls with the same arguments in a
// different order produce the same key.
func Key(serverName, toolName string, arguments map[string]any) string {
	canonical, err := json.Marshal(arguments)
	if err != nil {
		canonical = []byte(fmt.Sprint(arguments))
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", serverName, toolName, canonical)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
