package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Treasury moves funds between participants and the engine's escrow.
type Treasury interface {
	// Pull debits amount of asset from the account into escrow. Token
	// pulls also consume the account's allowance.
	Pull(ctx context.Context, asset, from common.Address, amount Amount) error
	// Push pays amount of asset out of escrow to the account.
	Push(ctx context.Context, asset, to common.Address, amount Amount) error
	// Owe records a payout that was committed but could not be pushed. The
	// amount stays in escrow until Repay releases it.
	Owe(ctx context.Context, o OwedPayout) (OwedPayout, error)
	// Owed lists unpaid payouts, oldest first.
	Owed(ctx context.Context) ([]OwedPayout, error)
	// Repay pushes owed payout id and forgets it in one step.
	Repay(ctx context.Context, id string) (OwedPayout, error)
}

// OwedPayout is a committed payout still held in escrow.
type OwedPayout struct {
	ID        string         `json:"id"`
	PoolID    uint64         `json:"pool_id"`
	Asset     common.Address `json:"asset"`
	To        common.Address `json:"to"`
	Amount    Amount         `json:"amount"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
}

// CustodyStore persists account balances, token allowances, per-asset
// escrow and owed payouts. Every method that moves funds is atomic and
// fails with ErrInsufficientFunds without side effects when a debit would
// go below zero.
type CustodyStore interface {
	// Credit adds amount to account's balance.
	Credit(ctx context.Context, asset, account common.Address, amount Amount) error
	// SetAllowance replaces the allowance account grants the escrow.
	SetAllowance(ctx context.Context, asset, account common.Address, amount Amount) error
	Balance(ctx context.Context, asset, account common.Address) (Amount, error)
	Allowance(ctx context.Context, asset, account common.Address) (Amount, error)
	Escrow(ctx context.Context, asset common.Address) (Amount, error)

	// MoveToEscrow debits account into escrow, also spending its allowance
	// when spendAllowance is set.
	MoveToEscrow(ctx context.Context, asset, from common.Address, amount Amount, spendAllowance bool) error
	// MoveFromEscrow credits account out of escrow.
	MoveFromEscrow(ctx context.Context, asset, to common.Address, amount Amount) error

	// AddOwed stores o under o.ID.
	AddOwed(ctx context.Context, o OwedPayout) error
	// ListOwed returns every owed payout, oldest first.
	ListOwed(ctx context.Context) ([]OwedPayout, error)
	// SettleOwed moves owed payout id from escrow to its recipient and
	// deletes it. An unknown id fails with ErrNotFound.
	SettleOwed(ctx context.Context, id string) (OwedPayout, error)
}

// TransferKind labels a recorded funds movement.
type TransferKind string

const (
	TransferPull TransferKind = "pull"
	TransferPush TransferKind = "push"
)

// Transfer is one recorded funds movement.
type Transfer struct {
	ID      string         `json:"id"`
	Kind    TransferKind   `json:"kind"`
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  Amount         `json:"amount"`
	At      time.Time      `json:"at"`
}

// TransferLog persists an append-only record of treasury movements.
type TransferLog interface {
	// Record appends t. Re-recording an id is a no-op.
	Record(ctx context.Context, t Transfer) error
	// ListByAccount returns the transfers touching account, newest first.
	ListByAccount(ctx context.Context, account common.Address, opts ListOpts) ([]Transfer, error)
}
