package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	defaultLockTTL   = 15 * time.Second
	lockRetryBackoff = 25 * time.Millisecond
	lockRetryMax     = 400 * time.Millisecond
)

// LockManager implements domain.LockManager with SET NX and a token-checked
// Lua unlock. Its Lock method satisfies the engine's blocking Locker, which
// lets several service replicas share one pool store.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	ttl      time.Duration
}

// NewLockManager creates a LockManager. A zero ttl uses 15s; ttl must exceed
// the longest engine mutation.
func NewLockManager(c *Client, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &LockManager{c: c, unlockSc: redis.NewScript(unlockLua), ttl: ttl}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.key("lock:" + key)
}

// Acquire tries once to take key. It returns domain.ErrLockHeld when another
// holder has it. The returned unlock is safe to call more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.lockKey(key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Lock blocks until key is acquired or ctx ends, backing off between tries.
func (lm *LockManager) Lock(ctx context.Context, key string) (func(), error) {
	backoff := lockRetryBackoff
	for {
		unlock, err := lm.Acquire(ctx, key, lm.ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: wait for lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		if backoff *= 2; backoff > lockRetryMax {
			backoff = lockRetryMax
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
