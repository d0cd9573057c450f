package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names an engine event. The first four are the integration
// points relied on by external indexers.
type EventType string

const (
	EventPoolCreated     EventType = "PoolCreated"
	EventJoined          EventType = "Joined"
	EventResolved        EventType = "Resolved"
	EventClaimed         EventType = "Claimed"
	EventCanceled        EventType = "Canceled"
	EventSwept           EventType = "Swept"
	EventFeeCollected    EventType = "FeeCollected"
	EventPaused          EventType = "Paused"
	EventUnpaused        EventType = "Unpaused"
	EventSettingsChanged EventType = "SettingsChanged"
)

// Event is emitted after a mutation has been committed. Fields not relevant
// to the event type are left zero.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	PoolID    uint64         `json:"pool_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	User      common.Address `json:"user,omitempty"`
	Option    uint32         `json:"option"`
	Amount    Amount         `json:"amount"`
	Recipient common.Address `json:"recipient,omitempty"`
	At        time.Time      `json:"at"`
}

// EventSink receives committed engine events.
type EventSink interface {
	Publish(ctx context.Context, evt Event) error
}
