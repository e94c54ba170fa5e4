// Package ratelimit provides fixed-window request limiting backed by Redis,
// with an in-process token bucket for deployments without Redis.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Decision is the outcome of consuming one unit from a limit.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter consumes one request for subject within scope.
type Limiter interface {
	Consume(ctx context.Context, scope, subject string) (Decision, error)
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter implements distributed rate limiting using Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter allows limit requests per window for each scope and subject.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "subsnooze"
	}
	return &RedisLimiter{
		client: client,
		prefix: trimmedPrefix + ":rate_limit",
		limit:  limit,
		window: window,
	}
}

func (r *RedisLimiter) Consume(ctx context.Context, scope, subject string) (Decision, error) {
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 {
		return Decision{Allowed: true}, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return Decision{Allowed: true}, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}

	return decide(int(currentCount), r.limit, ttlMs, windowMs), nil
}

func decide(count, limit int, ttlMs, windowMs int64) Decision {
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	d := Decision{Allowed: count <= limit, Count: count}
	if !d.Allowed {
		d.RetryAfter = time.Duration(retryAfter) * time.Second
	}
	return d
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is a per-process token bucket keyed by scope and subject.
type LocalLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*localEntry
	entryTTL    time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewLocalLimiter allows perMinute requests per minute with an equal burst.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	l := &LocalLimiter{
		burst:       perMinute,
		entries:     make(map[string]*localEntry),
		entryTTL:    15 * time.Minute,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return l
}

func (l *LocalLimiter) Consume(_ context.Context, scope, subject string) (Decision, error) {
	if l == nil || l.burst <= 0 {
		return Decision{Allowed: true}, nil
	}
	key := strings.TrimSpace(scope) + ":" + strings.TrimSpace(subject)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= 5*time.Minute {
		for k, entry := range l.entries {
			if now.Sub(entry.lastSeen) > l.entryTTL {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay.Round(time.Second) + time.Second}, nil
	}
	return Decision{Allowed: true}, nil
}
