package domain

import (
	"context"
	"time"
)

// PoolCache provides fast access to pool projections.
type PoolCache interface {
	// Set stores pool unless an equal or newer Version is already recorded
	// for it, so a slow reader cannot replace a fresher projection.
	Set(ctx context.Context, pool Pool) error
	// Get returns ErrNotFound on a miss.
	Get(ctx context.Context, id uint64) (Pool, error)
	// Invalidate drops the cached projection.
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry read back from the event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub fan-out and a durable, ordered event stream.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
