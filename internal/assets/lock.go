package assets

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ShareLocker guards one in-flight broadcast per asset. Locks are transient
// and must auto-expire so a crashed broadcast cannot block an asset forever.
type ShareLocker interface {
	// TryAcquire reports whether the caller now holds the lock.
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

// RedisLocker implements ShareLocker with SET NX PX; the TTL is the in-flight
// timeout.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a Redis-backed share locker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (bool, error) {
	return l.client.SetNX(ctx, key, "1", l.ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) {
	l.client.Del(ctx, key)
}

// MemoryLocker is the in-process ShareLocker used when Redis is not
// configured (and in tests). Expired holds are reacquirable.
type MemoryLocker struct {
	mu   sync.Mutex
	ttl  time.Duration
	held map[string]time.Time
}

// NewMemoryLocker creates an in-memory share locker.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	return &MemoryLocker{ttl: ttl, held: make(map[string]time.Time)}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.held[key]; ok && time.Now().Before(until) {
		return false, nil
	}
	l.held[key] = time.Now().Add(l.ttl)
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
