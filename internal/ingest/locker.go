package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker serializes processing per document. At most one holder per key;
// locks expire after their TTL so a crashed worker cannot wedge a document
// forever.
type Locker interface {
	// Acquire takes the lock, returning a release token and whether the
	// lock was obtained.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// Release frees the lock if the token still owns it. Releasing an
	// expired or stolen lock is a no-op.
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the key only when the caller still owns it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker implements Locker on a shared Redis instance, so workers on
// different hosts contend correctly.
type RedisLocker struct {
	client *redis.Client
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}

// MemoryLocker is an in-process Locker for tests and single-node setups.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
}

type memoryLock struct {
	token   string
	expires time.Time
}

var _ Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.locks[key]; ok && time.Now().Before(held.expires) {
		return "", false, nil
	}
	token := uuid.New().String()
	l.locks[key] = memoryLock{token: token, expires: time.Now().Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	return nil
}
