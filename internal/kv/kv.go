// Package kv is a thin wrapper around github.com/redis/go-redis/v9, grounded
// on the teacher's features/stream/pulse/clients/pulse wrapping pattern
// (Options{Redis *redis.Client}, validate non-nil, narrow interface exposing
// only the operations callers need). It backs agent/session and
// agent/ratelimit with one shared connection and one atomic-script-exec
// primitive instead of each package talking to go-redis directly.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client exposes the subset of Redis operations session isolation and rate
// limiting need. Implementations wrap a *redis.Client or a *redis.Ring; tests
// substitute a miniredis-backed *redis.Client.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Eval runs a Lua script atomically against the given keys/args, mirroring
	// Redis's EVALSHA-based atomic-script contract used by the sliding-window
	// and fixed-window rate limiters.
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	// ZAdd/ZRemRangeByScore/ZCard back the sliding-window request limiter's
	// sorted-set bookkeeping when it needs operations outside a single script.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByScore(ctx context.Context, key, min, max string) error
	ZCard(ctx context.Context, key string) (int64, error)
}

// client wraps a *redis.Client (also satisfied by *redis.Client constructed
// against a miniredis instance in tests).
type client struct {
	rdb *redis.Client
}

// Options configures a Client.
type Options struct {
	// Redis is the Redis connection backing this client. Required.
	Redis *redis.Client
}

// New constructs a Client backed by the provided Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{rdb: opts.Redis}, nil
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (c *client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *client) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return c.rdb.Eval(ctx, script, keys, args...).Result()
}

func (c *client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *client) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	return c.rdb.ZRemRangeByScore(ctx, key, min, max).Err()
}

func (c *client) ZCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, key).Result()
}

// ErrNotFound indicates a key is absent from the store.
var ErrNotFound = errors.New("kv: key not found")
