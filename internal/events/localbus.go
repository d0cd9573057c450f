package events

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// LocalBus is an in-process domain.EventBus for single-node deployments
// without Redis. Streams are capped at maxLen entries.
type LocalBus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
}

// NewLocalBus creates a LocalBus. A non-positive maxLen defaults to 10000.
func NewLocalBus(maxLen int) *LocalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &LocalBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every current subscriber of channel. Slow
// subscribers whose buffer is full miss the message.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel until ctx
// is done.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend appends payload to stream with a monotonically increasing id.
func (b *LocalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > b.maxLen {
		msgs = append([]domain.StreamMessage(nil), msgs[len(msgs)-b.maxLen:]...)
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages after lastID ("" or "0" reads
// from the start).
func (b *LocalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after := streamSeq(lastID)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, _ := strconv.ParseUint(id, 10, 64)
	return n
}
