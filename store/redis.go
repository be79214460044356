package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lalo-ai/lalocore/core"
)

// IdempotenceCache implements core.Memory over Redis: a cross-process
// string cache whose keys are the caller's keys under keyPrefix. It does
// not derive or hash keys itself, and the tools Executor does not consult
// it.
// Adapted from the teacher's RedisTaskStore (SetNX/Get/Del/TTL idiom,
// ComponentAwareLogger wiring) generalized from task records onto
// arbitrary string values.
type IdempotenceCache struct {
	client    *redis.Client
	keyPrefix string
	logger    core.Logger
}

// NewIdempotenceCache wraps an already-connected Redis client.
func NewIdempotenceCache(client *redis.Client, keyPrefix string, logger core.Logger) *IdempotenceCache {
	if keyPrefix == "" {
		keyPrefix = "lalo:tools:idempotence"
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("engine/store")
	}
	return &IdempotenceCache{client: client, keyPrefix: keyPrefix, logger: logger}
}

func (c *IdempotenceCache) key(k string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, k)
}

// Get returns the cached value, or core.ErrNotFound if absent.
func (c *IdempotenceCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", core.NewEngineError("store.IdempotenceCache.Get", core.ErrNotFound, "no cached result")
		}
		c.logger.ErrorWithContext(ctx, "idempotence cache get failed", map[string]interface{}{"key": key, "error": err.Error()})
		return "", core.NewEngineError("store.IdempotenceCache.Get", core.ErrDependencyUnavailable, err.Error())
	}
	return val, nil
}

// Set caches value under key for ttl (0 means no expiry).
func (c *IdempotenceCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.logger.ErrorWithContext(ctx, "idempotence cache set failed", map[string]interface{}{"key": key, "error": err.Error()})
		return core.NewEngineError("store.IdempotenceCache.Set", core.ErrDependencyUnavailable, err.Error())
	}
	return nil
}

// Delete removes a cached entry.
func (c *IdempotenceCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return core.NewEngineError("store.IdempotenceCache.Delete", core.ErrDependencyUnavailable, err.Error())
	}
	return nil
}

// Exists reports whether key is cached.
func (c *IdempotenceCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, core.NewEngineError("store.IdempotenceCache.Exists", core.ErrDependencyUnavailable, err.Error())
	}
	return n > 0, nil
}

// Backpressure enforces the per-principal bounded in-flight request count
// spec §8 names: "Each principal has a bounded in-flight request count;
// over-limit requests fail fast with RateLimited." Implemented as a Redis
// counter with TTL so a crashed caller's slot self-heals rather than
// permanently consuming capacity.
type Backpressure struct {
	client    *redis.Client
	keyPrefix string
	limit     int64
	ttl       time.Duration
	logger    core.Logger
}

// NewBackpressure wraps an already-connected Redis client. limit bounds
// concurrent in-flight requests per principal; ttl bounds how long a slot
// survives if Release is never called (crash recovery).
func NewBackpressure(client *redis.Client, limit int, ttl time.Duration, logger core.Logger) *Backpressure {
	if limit <= 0 {
		limit = 10
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("engine/store")
	}
	return &Backpressure{client: client, keyPrefix: "lalo:backpressure", limit: int64(limit), ttl: ttl, logger: logger}
}

func (b *Backpressure) key(userID string) string {
	return fmt.Sprintf("%s:%s", b.keyPrefix, userID)
}

// Acquire increments the principal's in-flight counter, setting its TTL
// when the increment creates the counter (later increments leave the TTL
// as it is), and returns core.ErrRateLimited if the limit would be exceeded.
func (b *Backpressure) Acquire(ctx context.Context, userID string) error {
	key := b.key(userID)
	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return core.NewEngineError("store.Backpressure.Acquire", core.ErrDependencyUnavailable, err.Error())
	}
	if count == 1 {
		b.client.Expire(ctx, key, b.ttl)
	}
	if count > b.limit {
		b.client.Decr(ctx, key)
		b.logger.WarnWithContext(ctx, "backpressure limit exceeded", map[string]interface{}{"user_id": userID, "limit": b.limit})
		return core.NewEngineError("store.Backpressure.Acquire", core.ErrRateLimited, fmt.Sprintf("in-flight limit %d exceeded for %s", b.limit, userID))
	}
	return nil
}

// Release decrements the principal's in-flight counter.
func (b *Backpressure) Release(ctx context.Context, userID string) {
	if err := b.client.Decr(ctx, b.key(userID)).Err(); err != nil {
		b.logger.WarnWithContext(ctx, "backpressure release failed", map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
}
