package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrJobRunning is returned when another run of the same job holds the lock.
var ErrJobRunning = errors.New("job already running")

// JobLocker serializes runs of the same job across triggers and replicas.
// Acquire returns a release func, or ErrJobRunning when the lock is held.
type JobLocker interface {
	Acquire(ctx context.Context, job string) (release func(), err error)
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobLocker holds job locks as expiring Redis keys so a crashed run
// cannot block the job for longer than ttl.
type RedisJobLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisJobLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisJobLocker {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "subsnooze"
	}
	return &RedisJobLocker{client: client, prefix: trimmedPrefix + ":job_lock", ttl: ttl}
}

func (l *RedisJobLocker) Acquire(ctx context.Context, job string) (func(), error) {
	key := fmt.Sprintf("%s:%s", l.prefix, job)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire job lock: %w", err)
	}
	if !ok {
		return nil, ErrJobRunning
	}

	return func() {
		// The run's ctx may already be cancelled; release on a short detached one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseLockScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}

// LocalJobLocker is a per-process JobLocker for single-replica deployments.
type LocalJobLocker struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewLocalJobLocker() *LocalJobLocker {
	return &LocalJobLocker{running: make(map[string]bool)}
}

func (l *LocalJobLocker) Acquire(_ context.Context, job string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running[job] {
		return nil, ErrJobRunning
	}
	l.running[job] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.running, job)
			l.mu.Unlock()
		})
	}, nil
}
