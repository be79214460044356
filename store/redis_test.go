package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/store"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestIdempotenceCacheRoundTrip(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	cache := store.NewIdempotenceCache(client, "test:idempotence", &core.NoOpLogger{})
	ctx := context.Background()

	_, err := cache.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, cache.Set(ctx, "key1", "cached-result", time.Minute))

	ok, err := cache.Exists(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, ok)

	val, err := cache.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "cached-result", val)

	require.NoError(t, cache.Delete(ctx, "key1"))
	ok, err = cache.Exists(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackpressureEnforcesLimit(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	bp := store.NewBackpressure(client, 2, time.Minute, &core.NoOpLogger{})
	ctx := context.Background()

	require.NoError(t, bp.Acquire(ctx, "user-1"))
	require.NoError(t, bp.Acquire(ctx, "user-1"))

	err := bp.Acquire(ctx, "user-1")
	assert.ErrorIs(t, err, core.ErrRateLimited)

	bp.Release(ctx, "user-1")
	assert.NoError(t, bp.Acquire(ctx, "user-1"))
}

func TestBackpressureIsPerPrincipal(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	bp := store.NewBackpressure(client, 1, time.Minute, &core.NoOpLogger{})
	ctx := context.Background()

	require.NoError(t, bp.Acquire(ctx, "user-a"))
	assert.NoError(t, bp.Acquire(ctx, "user-b"))
}
