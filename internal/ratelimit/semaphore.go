package ratelimit

import (
	"context"
	"fmt"
)

// semAcquireLuaScript atomically checks a concurrency counter against its
// capacity and increments only if there's room, analogous in spirit to
// the teacher's check-then-INCRBY rate-limit scripts but for a gauge
// rather than a fixed-window counter.
const semAcquireLuaScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current >= capacity then
    return {0, current}
end
local newVal = redis.call("INCR", key)
redis.call("EXPIRE", key, ttl)
return {1, newVal}
`

const semReleaseLuaScript = `
local key = KEYS[1]
local newVal = redis.call("DECR", key)
if newVal < 0 then
    redis.call("SET", key, 0)
    newVal = 0
end
return newVal
`

// Scope names a single rate/concurrency gate.
type Scope struct {
	Key      string
	Capacity int
}

// Lease represents a held set of semaphore slots across one or more
// scopes, acquired in order. Release must be called exactly once.
type Lease struct {
	limiter *Limiter
	held    []string
}

// ttlSecondsForSemaphore bounds how long a semaphore slot survives without
// an explicit release, so a crashed worker cannot wedge a scope forever —
// a crash-safety net, not the primary release path.
const ttlSecondsForSemaphore = 120

// Acquire attempts to acquire a concurrency slot in each scope in order.
// On the first denial it rolls back everything already acquired and
// returns ok=false.
func (l *Limiter) Acquire(ctx context.Context, scopes []Scope) (*Lease, bool, error) {
	lease := &Lease{limiter: l}

	for _, s := range scopes {
		key := fmt.Sprintf("ratelimit:sem:%s", s.Key)
		res, err := l.semAcquireScript.Run(ctx, l.redis, []string{key}, s.Capacity, ttlSecondsForSemaphore).Slice()
		if err != nil {
			lease.rollback(ctx)
			return nil, false, fmt.Errorf("ratelimit: semaphore acquire failed: %w", err)
		}
		if res[0].(int64) == 0 {
			lease.rollback(ctx)
			return nil, false, nil
		}
		lease.held = append(lease.held, key)
	}

	return lease, true, nil
}

func (lease *Lease) rollback(ctx context.Context) {
	for _, key := range lease.held {
		lease.limiter.semReleaseScript.Run(ctx, lease.limiter.redis, []string{key})
	}
	lease.held = nil
}

// Release gives back every slot this lease holds. Safe to call once;
// calling it again is a no-op since held is cleared.
func (lease *Lease) Release(ctx context.Context) {
	lease.rollback(ctx)
}
