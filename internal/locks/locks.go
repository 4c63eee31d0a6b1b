// Package locks provides Redis advisory locks for long-running operator
// actions so two workers never run the same sweep concurrently.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// DefaultTTL bounds how long a crashed holder can block others.
const DefaultTTL = 30 * time.Minute

var (
	// ErrLockHeld indicates another holder owns the lock.
	ErrLockHeld = errors.New("locks: lock already held")
	// ErrNotHolder indicates a release or refresh by someone who does not
	// hold the lock.
	ErrNotHolder = errors.New("locks: caller does not hold the lock")
)

// releaseScript deletes the lock only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// refreshScript extends the TTL only when the caller still holds the lock.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Lock is an acquired advisory lock.
type Lock struct {
	Resource  string
	Holder    string
	ExpiresAt time.Time
}

// Manager acquires and releases advisory locks.
type Manager struct {
	redis  *redis.Client
	logger *logging.Logger
	ttl    time.Duration
}

func NewManager(redisClient *redis.Client, logger *logging.Logger) *Manager {
	if redisClient == nil {
		panic("locks: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{redis: redisClient, logger: logger, ttl: DefaultTTL}
}

// WithTTL overrides the lock lifetime.
func (m *Manager) WithTTL(ttl time.Duration) *Manager {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

func lockKey(resource string) string {
	return "lock:" + resource
}

// Acquire takes the lock for holder. When the lock is already held the error
// wraps ErrLockHeld and names the current holder.
func (m *Manager) Acquire(ctx context.Context, resource, holder string) (*Lock, error) {
	if resource == "" || holder == "" {
		return nil, fmt.Errorf("locks: resource and holder are required")
	}
	ok, err := m.redis.SetNX(ctx, lockKey(resource), holder, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locks: acquire %s: %w", resource, err)
	}
	if !ok {
		current, err := m.redis.Get(ctx, lockKey(resource)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("locks: inspect %s: %w", resource, err)
		}
		return nil, fmt.Errorf("%w: %s held by %s", ErrLockHeld, resource, current)
	}
	m.logger.Info("lock acquired", "resource", resource, "holder", holder, "ttl", m.ttl)
	return &Lock{
		Resource:  resource,
		Holder:    holder,
		ExpiresAt: time.Now().Add(m.ttl),
	}, nil
}

// Release frees the lock, but only for its holder. Releasing a lock that
// already expired is not an error.
func (m *Manager) Release(ctx context.Context, resource, holder string) error {
	deleted, err := releaseScript.Run(ctx, m.redis, []string{lockKey(resource)}, holder).Int()
	if err != nil {
		return fmt.Errorf("locks: release %s: %w", resource, err)
	}
	if deleted == 0 {
		current, getErr := m.redis.Get(ctx, lockKey(resource)).Result()
		if errors.Is(getErr, redis.Nil) {
			// Expired on its own; the resource is free either way.
			return nil
		}
		return fmt.Errorf("%w: %s held by %s", ErrNotHolder, resource, current)
	}
	m.logger.Info("lock released", "resource", resource, "holder", holder)
	return nil
}

// Refresh extends the lock's TTL for its holder.
func (m *Manager) Refresh(ctx context.Context, resource, holder string) error {
	extended, err := refreshScript.Run(ctx, m.redis, []string{lockKey(resource)}, holder, m.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("locks: refresh %s: %w", resource, err)
	}
	if extended == 0 {
		return fmt.Errorf("%w: %s", ErrNotHolder, resource)
	}
	return nil
}

// Holder reports who currently holds the lock, if anyone.
func (m *Manager) Holder(ctx context.Context, resource string) (string, error) {
	holder, err := m.redis.Get(ctx, lockKey(resource)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("locks: inspect %s: %w", resource, err)
	}
	return holder, nil
}
