package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter shares fixed-window counters between processes. When Redis is
// unreachable it degrades to the in-memory Fallback instead of failing open.
// Fields must not change after the first Check.
type RedisLimiter struct {
	Client   *redis.Client
	Window   time.Duration
	Prefix   string
	Timeout  time.Duration
	Fallback *Limiter
	// Clock stamps ResetAt. Defaults to the fallback's clock, then the wall clock.
	Clock clock.Clock

	once  sync.Once
	local *Limiter
	clock clock.Clock
}

// NewRedis constructs a RedisLimiter whose fallback mirrors the window.
func NewRedis(client *redis.Client, name string, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = defaultInterval
	}
	return &RedisLimiter{
		Client:   client,
		Window:   window,
		Prefix:   "ratelimit:" + name + ":",
		Timeout:  2 * time.Second,
		Fallback: New(Config{Name: name, Interval: window}),
	}
}

// Check increments the shared counter for identifier.
func (l *RedisLimiter) Check(identifier string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	l.once.Do(l.init)
	if l.Client == nil {
		return l.local.Check(identifier, limit)
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, l.Client, []string{l.Prefix + identifier}, l.Window.Milliseconds()).Result()
	if err != nil {
		return l.local.Check(identifier, limit)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.local.Check(identifier, limit)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.Window.Milliseconds()
	}
	resetIn := time.Duration(ttlMs) * time.Millisecond
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= limit,
		Count:     int(count),
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
		ResetAt:   l.clock.Now().Add(resetIn),
	}
}

func (l *RedisLimiter) init() {
	if l.Window <= 0 {
		l.Window = defaultInterval
	}
	l.clock = l.Clock
	if l.clock == nil && l.Fallback != nil {
		l.clock = l.Fallback.clock
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	l.local = l.Fallback
	if l.local == nil {
		l.local = New(Config{Interval: l.Window, Clock: l.clock})
	}
}

var _ Checker = (*RedisLimiter)(nil)
