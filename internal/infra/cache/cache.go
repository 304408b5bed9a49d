// Package cache holds award results for idempotent replays.
// An in-process LRU sits in front of an optional Redis instance shared by
// every server; both layers expire entries after the same TTL.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/streakforge/streakforge/internal/infra/metrics"
)

// Options configures a Layered cache.
type Options struct {
	RedisURL  string        // empty disables the shared layer
	LocalSize int           // LRU entries, default 4096
	TTL       time.Duration // default 24h
	Prefix    string        // Redis key prefix, default "streakforge:"
}

type entry struct {
	val     []byte
	expires time.Time
}

// Layered is a two-level result cache. Failures in either layer are logged
// and counted, never returned: a miss only costs a database round-trip.
type Layered struct {
	local  *lru.Cache[string, entry]
	remote *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New builds the cache and, when a Redis URL is set, verifies the connection.
func New(ctx context.Context, opts Options, log zerolog.Logger) (*Layered, error) {
	if opts.LocalSize <= 0 {
		opts.LocalSize = 4096
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Prefix == "" {
		opts.Prefix = "streakforge:"
	}

	local, err := lru.New[string, entry](opts.LocalSize)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c := &Layered{
		local:  local,
		ttl:    opts.TTL,
		prefix: opts.Prefix,
		log:    log,
		now:    time.Now,
	}

	if opts.RedisURL != "" {
		ropts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		c.remote = redis.NewClient(ropts)
		if err := c.remote.Ping(ctx).Err(); err != nil {
			c.remote.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}
	return c, nil
}

// Get returns a cached value, consulting Redis on a local miss.
func (c *Layered) Get(ctx context.Context, key string) ([]byte, bool) {
	if e, ok := c.local.Get(key); ok {
		if c.clock().Before(e.expires) {
			metrics.CacheLookups.WithLabelValues("local", "hit").Inc()
			return e.val, true
		}
		c.local.Remove(key)
	}
	metrics.CacheLookups.WithLabelValues("local", "miss").Inc()

	if c.remote == nil {
		return nil, false
	}
	val, err := c.remote.Get(ctx, c.prefix+key).Bytes()
	switch {
	case err == redis.Nil:
		metrics.CacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	case err != nil:
		metrics.CacheLookups.WithLabelValues("redis", "error").Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("redis get")
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("redis", "hit").Inc()
	c.local.Add(key, entry{val: val, expires: c.clock().Add(c.ttl)})
	return val, true
}

// Set stores val in both layers.
func (c *Layered) Set(ctx context.Context, key string, val []byte) {
	c.local.Add(key, entry{val: val, expires: c.clock().Add(c.ttl)})
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, c.prefix+key, val, c.ttl).Err(); err != nil {
		metrics.SideEffectFailures.WithLabelValues("cache").Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("redis set")
	}
}

// Delete drops key from both layers.
func (c *Layered) Delete(ctx context.Context, key string) {
	c.local.Remove(key)
	if c.remote == nil {
		return
	}
	if err := c.remote.Del(ctx, c.prefix+key).Err(); err != nil {
		metrics.SideEffectFailures.WithLabelValues("cache").Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("redis delete")
	}
}

// Len returns the number of local entries, expired ones included.
func (c *Layered) Len() int { return c.local.Len() }

// Remote reports whether a Redis layer is configured.
func (c *Layered) Remote() bool { return c.remote != nil }

// Ping checks the Redis layer. Without one it always succeeds.
func (c *Layered) Ping(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Layered) Close() error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Close()
}

func (c *Layered) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Layered) setClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
