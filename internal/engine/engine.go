// Package engine implements the prediction-pool escrow and settlement core:
// pool registry, stake ledger, settlement math and the access/lifecycle
// guard. It is a serialized state machine over an injected PoolStore; every
// mutation runs under a per-pool lock, checks all preconditions before
// writing, and commits state before any funds leave escrow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// settingsLockKey serializes writes to the engine-wide settings row.
const settingsLockKey = "settings"

// Locker serializes mutations on a key. Implementations must honour ctx
// while waiting and return an unlock function that is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Deps bundles the collaborators of an Engine.
type Deps struct {
	Pools    domain.PoolStore
	Settings domain.SettingsStore
	Treasury domain.Treasury
	Events   domain.EventSink
	Locker   Locker
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Engine is the settlement core. It is safe for concurrent use.
type Engine struct {
	pools    domain.PoolStore
	settings domain.SettingsStore
	treasury domain.Treasury
	events   domain.EventSink
	locker   Locker
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Engine. Pools, Settings and Treasury are required; the
// remaining dependencies fall back to an in-process locker, a discarding
// event sink, the wall clock and the default logger.
func New(deps Deps) (*Engine, error) {
	if deps.Pools == nil || deps.Settings == nil || deps.Treasury == nil {
		return nil, errors.New("engine: pools, settings and treasury are required")
	}
	e := &Engine{
		pools:    deps.Pools,
		settings: deps.Settings,
		treasury: deps.Treasury,
		events:   deps.Events,
		locker:   deps.Locker,
		now:      deps.Clock,
		logger:   deps.Logger,
	}
	if e.events == nil {
		e.events = discardSink{}
	}
	if e.locker == nil {
		e.locker = NewLocalLocker()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("component", "engine"))
	return e, nil
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// StateOf derives the lifecycle phase of p at the current engine time.
func (e *Engine) StateOf(p domain.Pool) domain.PoolState {
	return p.StateAt(e.now())
}

func poolLockKey(id uint64) string {
	return "pool:" + strconv.FormatUint(id, 10)
}

// withPoolLock runs fn while holding the lock for pool id.
func (e *Engine) withPoolLock(ctx context.Context, id uint64, fn func() error) error {
	unlock, err := e.locker.Lock(ctx, poolLockKey(id))
	if err != nil {
		return fmt.Errorf("engine: lock pool %d: %w", id, err)
	}
	defer unlock()
	return fn()
}

// loadPool reads a pool and validates its stored invariants.
func (e *Engine) loadPool(ctx context.Context, id uint64) (domain.Pool, error) {
	p, err := e.pools.GetPool(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Pool{}, fmt.Errorf("engine: pool %d: %w", id, domain.ErrNotFound)
		}
		return domain.Pool{}, fmt.Errorf("engine: get pool %d: %w", id, err)
	}
	if err := checkPool(p); err != nil {
		e.logger.ErrorContext(ctx, "engine: stored pool failed invariant check",
			slog.Uint64("pool_id", id),
			slog.String("error", err.Error()),
		)
		return domain.Pool{}, err
	}
	return p, nil
}

// publish stamps and forwards evt. Delivery failures are logged only; the
// state change they describe is already committed.
func (e *Engine) publish(ctx context.Context, evt domain.Event) {
	evt.ID = uuid.NewString()
	if evt.At.IsZero() {
		evt.At = e.now().UTC()
	}
	if err := e.events.Publish(ctx, evt); err != nil {
		e.logger.WarnContext(ctx, "engine: publish event failed",
			slog.String("event", string(evt.Type)),
			slog.Uint64("pool_id", evt.PoolID),
			slog.String("error", err.Error()),
		)
	}
}

type discardSink struct{}

func (discardSink) Publish(context.Context, domain.Event) error { return nil }
