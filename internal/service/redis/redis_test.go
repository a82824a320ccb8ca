package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { svc.Close() })
	return svc, mr
}

func TestRedisService_Drain(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RPush(ctx, "q", "a", "b"))
	require.NoError(t, svc.RPush(ctx, "q", "c"))

	vals, err := svc.Drain(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, vals)
	assert.False(t, mr.Exists("q"))

	vals, err = svc.Drain(ctx, "q")
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestRedisService_SetGet(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	assert.True(t, IsNil(err))

	require.NoError(t, svc.Set(ctx, "k", "v", time.Minute))
	v, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	mr.FastForward(2 * time.Minute)
	_, err = svc.Get(ctx, "k")
	assert.True(t, IsNil(err))
}

func TestRedisService_Incr(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n1, err := svc.Incr(ctx, "seq")
	require.NoError(t, err)
	n2, err := svc.Incr(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n1)
	assert.Equal(t, int64(2), n2)
}
