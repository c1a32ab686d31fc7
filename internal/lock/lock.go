// Package lock serializes evaluation writes for the same scope across
// processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock held by another evaluator")

// Locker acquires a named lock for at most ttl. The returned release function
// gives the lock up if it is still owned by this holder.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker using Redis SETNX with a TTL.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker connects to Redis and verifies the connection.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number
func NewRedisLocker(ctx context.Context, addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisLocker{client: client, prefix: "rankeval:lock:"}, nil
}

// Acquire takes the lock or returns ErrHeld.
func (r *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := r.prefix + name
	token := uuid.NewString()

	// SETNX with TTL: first caller wins until release or expiry
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SETNX failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, name)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("redis release failed: %w", err)
		}
		return nil
	}, nil
}

// Close closes the Redis client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

// MemoryLocker implements Locker within one process.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	clock func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLease), clock: time.Now}
}

// Acquire takes the lock or returns ErrHeld. Expired leases are reclaimed.
func (m *MemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if lease, ok := m.held[name]; ok && (lease.expires.IsZero() || now.Before(lease.expires)) {
		return nil, fmt.Errorf("%w: %s", ErrHeld, name)
	}

	lease := memoryLease{token: uuid.NewString()}
	if ttl > 0 {
		lease.expires = now.Add(ttl)
	}
	m.held[name] = lease

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.held[name]; ok && cur.token == lease.token {
			delete(m.held, name)
		}
		return nil
	}, nil
}
