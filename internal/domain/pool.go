package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeBps is the upper bound for platform fees (100%).
const MaxFeeBps = 10_000

// NativeAsset is the asset marker for pools staked in the chain's native
// currency.
var NativeAsset = common.Address{}

// PoolState is the lifecycle phase of a pool. Locked is derived from the
// clock and never stored.
type PoolState string

const (
	PoolStateOpen     PoolState = "open"
	PoolStateLocked   PoolState = "locked"
	PoolStateResolved PoolState = "resolved"
	PoolStateCanceled PoolState = "canceled"
)

// Pool is one prediction market.
type Pool struct {
	ID              uint64         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Asset           common.Address `json:"asset"`
	EntryFee        Amount         `json:"entry_fee"`
	StartTime       time.Time      `json:"start_time"`
	LockTime        time.Time      `json:"lock_time"`
	Options         []string       `json:"options"`
	PlatformFeeBps  uint16         `json:"platform_fee_bps"`
	MaxParticipants uint64         `json:"max_participants"`

	TotalPot     Amount `json:"total_pot"`
	TotalEntries uint64 `json:"total_entries"`
	// Totals holds one counter per option, in option order.
	Totals []OptionTotal `json:"totals"`

	Resolved      bool   `json:"resolved"`
	Canceled      bool   `json:"canceled"`
	WinningOption uint32 `json:"winning_option"`
	WinnersCount  uint64 `json:"winners_count"`
	PlatformFee   Amount `json:"platform_fee"`
	NetPot        Amount `json:"net_pot"`
	Dust          Amount `json:"dust"`

	PaidOut      Amount `json:"paid_out"`
	ClaimedCount uint64 `json:"claimed_count"`
	Swept        bool   `json:"swept"`
	DustSwept    bool   `json:"dust_swept"`

	CreatedBy common.Address `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	SettledAt *time.Time     `json:"settled_at,omitempty"`
	Version   uint64         `json:"version"`
}

// OptionTotal is the running join counter for a single option.
type OptionTotal struct {
	Entries uint64 `json:"entries"`
	Staked  Amount `json:"staked"`
}

// IsNative reports whether the pool is staked in the native currency.
func (p Pool) IsNative() bool { return p.Asset == NativeAsset }

// Settled reports whether the pool reached a terminal state.
func (p Pool) Settled() bool { return p.Resolved || p.Canceled }

// LockedAt reports whether the lock time has passed at now.
func (p Pool) LockedAt(now time.Time) bool { return !now.Before(p.LockTime) }

// StateAt derives the lifecycle phase at now.
func (p Pool) StateAt(now time.Time) PoolState {
	switch {
	case p.Resolved:
		return PoolStateResolved
	case p.Canceled:
		return PoolStateCanceled
	case p.LockedAt(now):
		return PoolStateLocked
	default:
		return PoolStateOpen
	}
}

// Clone returns a deep copy so callers can mutate it freely.
func (p Pool) Clone() Pool {
	out := p
	out.Options = append([]string(nil), p.Options...)
	out.Totals = append([]OptionTotal(nil), p.Totals...)
	if p.SettledAt != nil {
		t := *p.SettledAt
		out.SettledAt = &t
	}
	return out
}

// CreatePoolParams carries the creation arguments of a pool.
type CreatePoolParams struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Asset           common.Address `json:"asset"`
	EntryFee        Amount         `json:"entry_fee"`
	StartTime       time.Time      `json:"start_time"`
	LockTime        time.Time      `json:"lock_time"`
	MaxParticipants uint64         `json:"max_participants"`
	Options         []string       `json:"options"`
}

// Settings is the engine-wide administrative state.
type Settings struct {
	Owner         common.Address `json:"owner"`
	FeeRecipient  common.Address `json:"fee_recipient"`
	DefaultFeeBps uint16         `json:"default_fee_bps"`
	Paused        bool           `json:"paused"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
