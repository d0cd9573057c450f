// Package notify delivers operator alerts about pool lifecycle events to
// chat webhooks. Events are filtered by type so operators only hear about
// the transitions they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// Message is a rendered alert.
type Message struct {
	Title  string
	Fields []Field
}

// Field is one labelled line of a Message.
type Field struct {
	Name  string
	Value string
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// DefaultEvents are the event types forwarded when none are configured.
var DefaultEvents = []string{
	string(domain.EventResolved),
	string(domain.EventCanceled),
	string(domain.EventSwept),
	string(domain.EventPaused),
	string(domain.EventUnpaused),
}

// Notifier fans an event out to every sender if its type is allowed.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list uses DefaultEvents;
// "*" allows every event type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e == "*" {
			allowed = nil
			break
		}
		allowed[domain.EventType(e)] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Wants reports whether events of type t are forwarded.
func (n *Notifier) Wants(t domain.EventType) bool {
	return n.allowed == nil || n.allowed[t]
}

// NotifyEvent renders evt and delivers it to every sender. A failing sender
// does not stop delivery to the others; all failures are returned joined.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	if len(n.senders) == 0 || !n.Wants(evt.Type) {
		return nil
	}
	msg := FormatEvent(evt)

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(evt.Type)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// FormatEvent renders evt for humans.
func FormatEvent(evt domain.Event) Message {
	pool := fmt.Sprintf("#%d", evt.PoolID)
	switch evt.Type {
	case domain.EventResolved:
		return Message{Title: "Pool " + pool + " resolved", Fields: []Field{
			{"Winning option", fmt.Sprint(evt.Option)},
			{"Net pot", evt.Amount.String()},
		}}
	case domain.EventCanceled:
		return Message{Title: "Pool " + pool + " canceled", Fields: []Field{
			{"Refundable", evt.Amount.String()},
		}}
	case domain.EventSwept:
		return Message{Title: "Pool " + pool + " swept", Fields: []Field{
			{"Amount", evt.Amount.String()},
			{"Recipient", evt.Recipient.Hex()},
		}}
	case domain.EventFeeCollected:
		return Message{Title: "Platform fee from pool " + pool, Fields: []Field{
			{"Amount", evt.Amount.String()},
			{"Recipient", evt.Recipient.Hex()},
		}}
	case domain.EventPoolCreated:
		return Message{Title: "Pool " + pool + " created", Fields: []Field{
			{"Name", evt.Name},
			{"Entry fee", evt.Amount.String()},
		}}
	case domain.EventJoined, domain.EventClaimed:
		return Message{Title: string(evt.Type) + " pool " + pool, Fields: []Field{
			{"User", evt.User.Hex()},
			{"Option", fmt.Sprint(evt.Option)},
			{"Amount", evt.Amount.String()},
		}}
	case domain.EventPaused:
		return Message{Title: "Joins paused", Fields: []Field{{"By", evt.User.Hex()}}}
	case domain.EventUnpaused:
		return Message{Title: "Joins resumed", Fields: []Field{{"By", evt.User.Hex()}}}
	default:
		return Message{Title: string(evt.Type), Fields: []Field{{"By", evt.User.Hex()}}}
	}
}

// plainText renders msg as "Name: Value" lines.
func plainText(msg Message) string {
	var b strings.Builder
	for i, f := range msg.Fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}
