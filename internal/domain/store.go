package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists pools and their entries. Every write method is atomic:
// either all of its effects are visible or none are. Writes that take a
// prevVersion fail with ErrConflict when the stored pool has moved on.
type PoolStore interface {
	// CreatePool stores p under the next sequential id (starting at 1) and
	// returns that id.
	CreatePool(ctx context.Context, p Pool) (uint64, error)
	GetPool(ctx context.Context, id uint64) (Pool, error)
	ListPools(ctx context.Context, opts ListOpts) ([]Pool, error)
	// ListSettled returns resolved or canceled pools settled before cutoff.
	ListSettled(ctx context.Context, before time.Time) ([]Pool, error)
	// NextPoolID returns the id the next CreatePool call will assign.
	NextPoolID(ctx context.Context) (uint64, error)

	GetEntry(ctx context.Context, poolID uint64, user common.Address) (Entry, error)
	ListEntries(ctx context.Context, poolID uint64) ([]Entry, error)

	// RecordJoin inserts e and replaces the pool's counters with p's.
	// A second entry for the same (pool, user) fails with ErrAlreadyJoined.
	RecordJoin(ctx context.Context, p Pool, prevVersion uint64, e Entry) error
	// RecordClaim marks e claimed and replaces the pool's payout counters
	// with p's. An entry that is already claimed fails with ErrAlreadyClaimed.
	RecordClaim(ctx context.Context, p Pool, prevVersion uint64, e Entry) error
	// UpdatePool replaces the pool's settlement state with p's.
	UpdatePool(ctx context.Context, p Pool, prevVersion uint64) error
}

// SettingsStore persists the engine-wide settings row.
type SettingsStore interface {
	// GetSettings returns ErrNotFound before the first SaveSettings.
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
