package schema

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "schema_a", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "schema_b", []byte("b"), 0))

	v, ok, err := c.Get(ctx, "schema_a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), v)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "schema_a")
	assert.False(t, ok, "expired")
	_, ok, _ = c.Get(ctx, "schema_b")
	assert.True(t, ok, "zero ttl never expires")

	require.NoError(t, c.Delete(ctx, "schema_b"))
	_, ok, _ = c.Get(ctx, "schema_b")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	c := NewRedisCacheFromClient(client, WithPrefix("test:"))
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "schema_users")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "schema_users", []byte(`{"name":"users"}`), time.Minute))
	assert.True(t, mr.Exists("test:schema_users"))

	v, ok, err := c.Get(ctx, "schema_users")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"name":"users"}`, string(v))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "schema_users")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "schema_users", []byte("x"), 0))
	require.NoError(t, c.Delete(ctx, "schema_users"))
	assert.False(t, mr.Exists("test:schema_users"))
}
