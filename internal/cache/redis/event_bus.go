package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// streamMaxLen caps the event stream via XADD MAXLEN ~.
const streamMaxLen int64 = 100000

// EventBus implements domain.EventBus with Pub/Sub for live fan-out and a
// Stream for the durable log that indexers replay.
type EventBus struct {
	c *Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{c: c}
}

// Publish sends payload to a Pub/Sub channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.c.rdb.Publish(ctx, b.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. Glob
// patterns use PSUBSCRIBE. The returned channel closes when ctx ends.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := b.c.key(channel)
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = b.c.rdb.PSubscribe(ctx, name)
	} else {
		pubsub = b.c.rdb.Subscribe(ctx, name)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends payload to stream, trimming it to roughly
// streamMaxLen entries.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.c.key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start). No entries yields an empty slice, not an error.
func (b *EventBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	results, err := b.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.c.key(stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

var _ domain.EventBus = (*EventBus)(nil)
