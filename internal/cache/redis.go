// Package cache provides an optional, never-blocking read-through cache for
// open-interest poll responses, adapted from the teacher's pkg/cache/redis.go
// Redis wrapper.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// OICache wraps a Redis client with a short TTL tuned for the OI poll
// cycle. It is optional: construction failures and runtime errors are
// logged and treated as cache misses, never as faults (spec.md §7, "the
// OI poller never blocks the data path").
type OICache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to addr. The connection is not verified here; the first
// failed command simply falls back to a miss.
func New(addr string, ttl time.Duration) *OICache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	return &OICache{client: client, ttl: ttl}
}

// Get returns the cached OI for key, or ok=false on any miss or error.
func (c *OICache) Get(ctx context.Context, key string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// Set stores oi under key with the cache's configured TTL. Errors are
// logged, not returned: the OI poller must proceed uncached on failure.
func (c *OICache) Set(ctx context.Context, key string, oi float64) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(oi)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Printf("[cache] set %s failed: %v", key, err)
	}
}

// Close releases the underlying connection pool.
func (c *OICache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
