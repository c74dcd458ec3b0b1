// Package contextcache caches per-user conversation context in Redis.
//
// The pipeline builds system instructions once per session from user context
// plus a summary of prior conversations. Computing that summary hits the
// store, so it is cached cache-aside with a short TTL and invalidated when a
// session ends.
package contextcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Minute

// Cache wraps a Redis client for conversation-context strings. All methods
// degrade to a miss on Redis failure; the cache is never load-bearing.
type Cache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a cache around an existing Redis client.
func New(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

// Connect dials Redis and verifies connectivity.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key returns the cache key for a user's conversation context.
func Key(userRef string) string {
	return "context:" + userRef
}

// Get returns the cached context for the user, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, userRef string) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, Key(userRef)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("context cache read failed", "user_ref", userRef, "error", err)
		}
		return "", false
	}
	return val, true
}

// Set stores the computed context with the configured TTL.
func (c *Cache) Set(ctx context.Context, userRef, value string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, Key(userRef), value, c.ttl).Err(); err != nil {
		c.logger.Warn("context cache write failed", "user_ref", userRef, "error", err)
	}
}

// Invalidate drops the user's cached context. Called when a session ends so
// the next session rebuilds with the fresh conversation included.
func (c *Cache) Invalidate(ctx context.Context, userRef string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, Key(userRef)).Err(); err != nil {
		c.logger.Warn("context cache invalidation failed", "user_ref", userRef, "error", err)
	}
}
