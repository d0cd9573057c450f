package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Entry is one participant's stake in one pool. It is written once at join
// and mutated once at claim.
type Entry struct {
	PoolID    uint64         `json:"pool_id"`
	User      common.Address `json:"user"`
	Pick      uint32         `json:"pick"`
	Amount    Amount         `json:"amount"`
	Claimed   bool           `json:"claimed"`
	Payout    Amount         `json:"payout"`
	JoinedAt  time.Time      `json:"joined_at"`
	ClaimedAt *time.Time     `json:"claimed_at,omitempty"`
}

// PlayerInfo is the public projection of an entry. The zero value means the
// user has not joined.
type PlayerInfo struct {
	HasJoined bool   `json:"has_joined"`
	Pick      uint32 `json:"pick"`
	Claimed   bool   `json:"claimed"`
	Amount    Amount `json:"amount"`
}
