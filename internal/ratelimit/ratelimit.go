// Package ratelimit gates outbound crawl and SMTP-probe work so that
// several layers of limits hold simultaneously: global, per-MX-host,
// per-domain, and per-tenant 24-hour budget. It generalizes
// the teacher's ESP-keyed, Lua-script atomic-increment rate limiter to
// arbitrary scope keys.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter gates work using Redis-backed token buckets and semaphores so
// the accounting survives process restarts.
type Limiter struct {
	redis *redis.Client

	tokenBucketScript *redis.Script
	semAcquireScript  *redis.Script
	semReleaseScript  *redis.Script
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient *redis.Client) *Limiter {
	return &Limiter{
		redis:             redisClient,
		tokenBucketScript: redis.NewScript(tokenBucketLuaScript),
		semAcquireScript:  redis.NewScript(semAcquireLuaScript),
		semReleaseScript:  redis.NewScript(semReleaseLuaScript),
	}
}

// tokenBucketLuaScript atomically checks-then-increments a single
// fixed-window counter, mirroring the teacher's multiLimitLuaScript but
// generalized to one scope key per call so callers can chain independent
// scopes (global, per-MX, per-domain) in any order.
const tokenBucketLuaScript = `
local key = KEYS[1]
local increment = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")
if current + increment > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, increment)
if newVal == increment then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`

// ConsumeRPS attempts to consume `cost` tokens from the 1-second window
// bucket for scopeKey. Buckets use 1-second granularity with jitter
// applied by the caller's retry schedule, not the bucket itself.
func (l *Limiter) ConsumeRPS(ctx context.Context, scopeKey string, limit, cost int) (allowed bool, err error) {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:rps:%s:%d", scopeKey, now.Unix())

	res, err := l.tokenBucketScript.Run(ctx, l.redis, []string{key}, cost, limit, 2).Slice()
	if err != nil {
		return false, fmt.Errorf("ratelimit: rps check failed: %w", err)
	}
	return res[0].(int64) == 1, nil
}

// ConsumeWindow attempts to consume `cost` units from a counter bucketed
// at the given window granularity (e.g. per-hour crawl budget, per-day
// tenant budget). windowKey should already encode the bucket boundary
// (e.g. the hour or the date) so rollover is automatic.
func (l *Limiter) ConsumeWindow(ctx context.Context, scopeKey, windowKey string, limit, cost int, ttl time.Duration) (allowed bool, current int64, err error) {
	key := fmt.Sprintf("ratelimit:window:%s:%s", scopeKey, windowKey)

	res, err := l.tokenBucketScript.Run(ctx, l.redis, []string{key}, cost, limit, int(ttl.Seconds())).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: window check failed: %w", err)
	}
	return res[0].(int64) == 1, res[1].(int64), nil
}

// RetrySchedule is the default backoff schedule for a denied acquire.
var RetrySchedule = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
	90 * time.Second,
	180 * time.Second,
}

// BackoffFor returns the retry delay for the given zero-based attempt
// number, applying ±10-20% jitter and capping at 24h once the schedule is
// exhausted.
func BackoffFor(attempt int) time.Duration {
	var base time.Duration
	if attempt < len(RetrySchedule) {
		base = RetrySchedule[attempt]
	} else {
		base = 24 * time.Hour
	}
	jitterPct := 0.10 + rand.Float64()*0.10
	sign := 1.0
	if rand.Intn(2) == 0 {
		sign = -1.0
	}
	jittered := float64(base) * (1 + sign*jitterPct)
	if jittered < 0 {
		jittered = float64(base)
	}
	d := time.Duration(jittered)
	if d > 24*time.Hour {
		d = 24 * time.Hour
	}
	return d
}

// Close releases the underlying Redis client.
func (l *Limiter) Close() error {
	return l.redis.Close()
}
