package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"n3n.dev/core/agent/ratelimit"
	"n3n.dev/core/internal/kv"
)

func newLimiter(t *testing.T, cfg ratelimit.Config) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client, err := kv.New(kv.Options{Redis: rdb})
	require.NoError(t, err)
	l, err := ratelimit.New(client, cfg)
	require.NoError(t, err)
	return l
}

func TestAllowRequestWithinBurstLimit(t *testing.T) {
	l := newLimiter(t, ratelimit.Config{
		RequestsPerWindow: 2,
		RequestWindow:     time.Minute,
		BurstMultiplier:   1,
		TokensPerWindow:   1000,
		TokenWindow:       time.Minute,
	})
	ctx := context.Background()
	require.NoError(t, l.AllowRequest(ctx, "user-1"))
	require.NoError(t, l.AllowRequest(ctx, "user-1"))
	err := l.AllowRequest(ctx, "user-1")
	require.Error(t, err)
}

func TestChargeTokensRejectsOverBudget(t *testing.T) {
	l := newLimiter(t, ratelimit.Config{
		RequestsPerWindow: 100,
		RequestWindow:     time.Minute,
		TokensPerWindow:   100,
		TokenWindow:       time.Minute,
	})
	ctx := context.Background()
	require.NoError(t, l.ChargeTokens(ctx, "user-1", 60))
	err := l.ChargeTokens(ctx, "user-1", 60)
	require.Error(t, err)
}

func TestAdjustTokensOnlyChargesPositiveDifference(t *testing.T) {
	l := newLimiter(t, ratelimit.Config{
		RequestsPerWindow: 100,
		RequestWindow:     time.Minute,
		TokensPerWindow:   100,
		TokenWindow:       time.Minute,
	})
	ctx := context.Background()
	require.NoError(t, l.ChargeTokens(ctx, "user-1", 50))
	// Actual usage came in under the estimate: no refund, so the remaining
	// budget stays at 50, not 70.
	require.NoError(t, l.AdjustTokens(ctx, "user-1", 50, 30))
	require.NoError(t, l.ChargeTokens(ctx, "user-1", 50))
	require.Error(t, l.ChargeTokens(ctx, "user-1", 1))
}

func TestFailOpenOnUnavailableStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client, err := kv.New(kv.Options{Redis: rdb})
	require.NoError(t, err)
	l, err := ratelimit.New(client, ratelimit.Config{
		RequestsPerWindow: 1,
		RequestWindow:     time.Minute,
		TokensPerWindow:   1,
		TokenWindow:       time.Minute,
		FailOpen:          true,
	})
	require.NoError(t, err)
	mr.Close()
	require.NoError(t, l.AllowRequest(context.Background(), "user-1"))
}
