package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := New(Options{Redis: rdb})
	require.NoError(t, err)
	return c
}

func TestSetGet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestZSetOperations(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, c.ZAdd(ctx, "z", 2, "b"))
	n, err := c.ZCard(ctx, "z")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, c.ZRemRangeByScore(ctx, "z", "-inf", "1"))
	n, err = c.ZCard(ctx, "z")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestEvalRunsScript(t *testing.T) {
	c := newTestClient(t)
	res, err := c.Eval(context.Background(), "return ARGV[1]", nil, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", res)
}
