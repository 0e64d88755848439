package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/conductor/internal/config"
)

// pingTimeout bounds the reachability probe at construction.
const pingTimeout = 3 * time.Second

// defaultPrefix namespaces keys when the config does not set one.
const defaultPrefix = "conductor"

// redisCache stores results under "<prefix>:<key>". Backend errors after
// construction are logged at debug and treated as misses.
type redisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func newRedisCache(cfg config.CacheConfig, ttl time.Duration, logger *slog.Logger) (*redisCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &redisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, c.prefix+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Debug("cache get failed", "key", key, "error", err)
		return "", false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, c.prefix+":"+key, value, c.ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
