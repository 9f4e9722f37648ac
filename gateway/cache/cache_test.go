package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(2, time.Minute)

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	value := []byte("one")
	require.NoError(t, c.Set(ctx, "a", value))
	value[0] = 'X'
	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", string(got), "stored value must not alias the caller's slice")

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok, _ = c.Get(ctx, "a")
	require.False(t, ok)
}

func TestMemoryEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(2, time.Minute)
	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, "b", []byte("2")))
	require.NoError(t, c.Set(ctx, "c", []byte("3")))

	_, ok, _ := c.Get(ctx, "a")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	require.True(t, ok)
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(8, 20*time.Millisecond)
	require.NoError(t, c.Set(ctx, "a", []byte("1")))

	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNewFallsBackWhenRedisUnreachable(t *testing.T) {
	c, err := New(context.Background(), Config{Backend: BackendRedis, RedisAddr: "127.0.0.1:1", Capacity: 4, TTL: time.Second}, nil)
	require.NoError(t, err)
	require.Equal(t, BackendMemory, c.Backend())
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "memcached"}, nil)
	require.Error(t, err)

	_, err = New(context.Background(), Config{Backend: BackendRedis}, nil)
	require.Error(t, err)
}
