package domain

import "errors"

// Business-rule failures. Each is returned before any state is written.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOptions   = errors.New("invalid options: min 2 options")
	ErrInvalidOption    = errors.New("invalid option")
	ErrInvalidLockTime  = errors.New("invalid lock time: lock in past")
	ErrInvalidEntryFee  = errors.New("invalid entry fee")
	ErrInvalidFee       = errors.New("invalid platform fee")
	ErrPoolLocked       = errors.New("pool locked")
	ErrNotLocked        = errors.New("pool not locked")
	ErrAlreadyResolved  = errors.New("pool already settled")
	ErrAlreadyJoined    = errors.New("already joined")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrWrongStakeAmount = errors.New("wrong stake amount")
	ErrPoolFull         = errors.New("pool full")
	ErrPaused           = errors.New("paused")
	ErrNotPaused        = errors.New("not paused")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrNotJoined        = errors.New("not joined")
	ErrNotSettled       = errors.New("pool not settled")
	ErrNothingToSweep   = errors.New("nothing to sweep")
)

// Infrastructure failures.
var (
	ErrConflict          = errors.New("concurrent modification")
	ErrLockHeld          = errors.New("lock already held")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrRateLimited       = errors.New("rate limited")
)

// ErrInvariant marks ledger corruption: stored state that no sequence of
// valid operations could have produced. It is never recovered from.
var ErrInvariant = errors.New("ledger invariant violated")
