// Package events fans committed engine events out to the event bus, the
// audit log and operator notifications.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/notify"
)

const (
	// Channel is the pub/sub channel live consumers subscribe to.
	Channel = "pools:events"
	// Stream is the durable, ordered log read by indexers.
	Stream = "pools:events:log"

	notifyTimeout = 15 * time.Second
)

// Dispatcher implements domain.EventSink. Any of bus, audit and notifier
// may be nil.
type Dispatcher struct {
	bus      domain.EventBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(bus domain.EventBus, audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Publish writes evt to the channel, the stream and the audit log, and
// queues a notification. Bus and audit failures are returned joined; the
// notification is delivered in the background and only logged.
func (d *Dispatcher) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}

	var errs []error
	if d.bus != nil {
		if err := d.bus.Publish(ctx, Channel, payload); err != nil {
			errs = append(errs, fmt.Errorf("events: publish: %w", err))
		}
		if err := d.bus.StreamAppend(ctx, Stream, payload); err != nil {
			errs = append(errs, fmt.Errorf("events: stream append: %w", err))
		}
	}
	if d.audit != nil {
		if err := d.audit.Log(ctx, string(evt.Type), auditDetail(evt)); err != nil {
			errs = append(errs, fmt.Errorf("events: audit: %w", err))
		}
	}
	if d.notifier != nil && d.notifier.Wants(evt.Type) {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := d.notifier.NotifyEvent(nctx, evt); err != nil {
				d.logger.WarnContext(nctx, "events: notify failed",
					slog.String("event_id", evt.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	return errors.Join(errs...)
}

// Wait blocks until queued notifications have been delivered.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func auditDetail(evt domain.Event) map[string]any {
	detail := map[string]any{
		"event_id": evt.ID,
		"at":       evt.At.UTC().Format(time.RFC3339Nano),
	}
	if evt.PoolID != 0 {
		detail["pool_id"] = evt.PoolID
	}
	if evt.Name != "" {
		detail["name"] = evt.Name
	}
	if evt.User != (common.Address{}) {
		detail["user"] = evt.User.Hex()
	}
	if evt.Recipient != (common.Address{}) {
		detail["recipient"] = evt.Recipient.Hex()
	}
	switch evt.Type {
	case domain.EventJoined, domain.EventClaimed, domain.EventResolved:
		detail["option"] = evt.Option
	}
	if !evt.Amount.IsZero() {
		detail["amount"] = evt.Amount.String()
	}
	return detail
}
