// Package ratelimit implements distributed request and token limits for the
// AI flow builder, grounded on the teacher's
// features/model/middleware.AdaptiveRateLimiter in spirit (a limiter sitting
// at the provider-call boundary, adjusting admission based on observed load)
// but reshaped from a process-local token bucket into atomic Redis scripts so
// multiple engine replicas share one limit: a sliding-window sorted set for
// request counts, and a fixed-window counter for token budgets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	flowerrors "n3n.dev/core/flow/errors"
	"n3n.dev/core/internal/kv"
)

// DefaultBurstMultiplier scales RequestsPerWindow to allow short bursts above
// the steady-state rate before the sliding window starts rejecting.
const DefaultBurstMultiplier = 1.5

// Config bounds one subject's (typically a user or session) request and
// token consumption.
type Config struct {
	// RequestsPerWindow is the steady-state number of requests allowed per
	// RequestWindow.
	RequestsPerWindow int
	// RequestWindow is the sliding window duration for request counting.
	RequestWindow time.Duration
	// BurstMultiplier scales RequestsPerWindow for the effective limit
	// enforced by the sliding window. Defaults to DefaultBurstMultiplier.
	BurstMultiplier float64
	// TokensPerWindow is the token budget allowed per TokenWindow.
	TokensPerWindow int64
	// TokenWindow is the fixed window duration the token budget resets on.
	TokenWindow time.Duration
	// FailOpen allows requests through when the backing KV store is
	// unavailable, instead of the default fail-closed behaviour.
	FailOpen bool
}

// Limiter enforces Config against a kv.Client-backed store.
type Limiter struct {
	kv  kv.Client
	cfg Config
}

// New builds a Limiter. Returns an error if RequestsPerWindow/RequestWindow
// or TokensPerWindow/TokenWindow are not both set.
func New(client kv.Client, cfg Config) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: kv client is required")
	}
	if cfg.RequestsPerWindow <= 0 || cfg.RequestWindow <= 0 {
		return nil, errors.New("ratelimit: requests-per-window and request window are required")
	}
	if cfg.TokensPerWindow <= 0 || cfg.TokenWindow <= 0 {
		return nil, errors.New("ratelimit: tokens-per-window and token window are required")
	}
	if cfg.BurstMultiplier <= 0 {
		cfg.BurstMultiplier = DefaultBurstMultiplier
	}
	return &Limiter{kv: client, cfg: cfg}, nil
}

const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`

// AllowRequest admits or rejects a request for subject against the sliding
// request window. Returns flowerrors.KindRateLimited when the window is
// full.
func (l *Limiter) AllowRequest(ctx context.Context, subject string) error {
	key := "n3n:ratelimit:req:" + subject
	windowMS := l.cfg.RequestWindow.Milliseconds()
	limit := int(float64(l.cfg.RequestsPerWindow) * l.cfg.BurstMultiplier)
	nowMS := time.Now().UnixMilli()
	res, err := l.kv.Eval(ctx, slidingWindowScript, []string{key}, nowMS, windowMS, limit, uuid.NewString())
	if err != nil {
		return l.onKVError(err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return flowerrors.RateLimited("request_rate_limited", fmt.Sprintf("request limit exceeded for %s", subject))
	}
	return nil
}

const chargeTokensScript = `
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local charge = tonumber(ARGV[3])
local cur = tonumber(redis.call('GET', key) or '0')
if cur + charge > limit then
  return 0
end
redis.call('INCRBY', key, charge)
redis.call('EXPIRE', key, window, 'NX')
return 1
`

// ChargeTokens pre-charges an estimated token cost against subject's
// fixed-window token budget. Returns flowerrors.KindRateLimited when the
// budget would be exceeded; the charge is not applied in that case.
func (l *Limiter) ChargeTokens(ctx context.Context, subject string, estimate int64) error {
	key := "n3n:ratelimit:tok:" + subject
	res, err := l.kv.Eval(ctx, chargeTokensScript, []string{key}, int64(l.cfg.TokenWindow.Seconds()), l.cfg.TokensPerWindow, estimate)
	if err != nil {
		return l.onKVError(err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return flowerrors.RateLimited("token_rate_limited", fmt.Sprintf("token budget exceeded for %s", subject))
	}
	return nil
}

const adjustTokensScript = `
local key = KEYS[1]
local diff = tonumber(ARGV[1])
if diff > 0 then
  redis.call('INCRBY', key, diff)
end
return 1
`

// AdjustTokens reconciles a pre-charged estimate against the actual token
// count observed after a call completes. Only positive differences
// (actual > estimate) are charged; an overestimate is never refunded, since
// that would let a burst of cheap calls borrow against budget a later
// expensive call could not repay within the window.
func (l *Limiter) AdjustTokens(ctx context.Context, subject string, estimate, actual int64) error {
	diff := actual - estimate
	if diff <= 0 {
		return nil
	}
	key := "n3n:ratelimit:tok:" + subject
	_, err := l.kv.Eval(ctx, adjustTokensScript, []string{key}, diff)
	if err != nil {
		return l.onKVError(err)
	}
	return nil
}

func (l *Limiter) onKVError(err error) error {
	if l.cfg.FailOpen {
		return nil
	}
	return flowerrors.Transient("ratelimit_store_unavailable", "rate limit store unavailable, failing closed", err)
}
