package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBucket(client, capacity, refill, time.Hour)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestTokenBucket_Capacity(t *testing.T) {
	ctx := context.Background()
	b, _ := newBucket(t, 2, 1)

	d, err := b.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.InDelta(t, 1, d.Remaining, 1e-9)

	d, err = b.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = b.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	d, err = b.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "buckets are per subject")
}

func TestTokenBucket_Refill(t *testing.T) {
	ctx := context.Background()
	b, clock := newBucket(t, 1, 0.5)

	d, err := b.Allow(ctx, "alice")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = b.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2*time.Second, d.RetryAfter)

	*clock = clock.Add(time.Second)
	d, err = b.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 0.5, d.Remaining, 1e-9)

	*clock = clock.Add(time.Second)
	d, err = b.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
