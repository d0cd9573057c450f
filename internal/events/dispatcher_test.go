package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/notify"
	"github.com/alanyoungcy/cricketpools/internal/store/memory"
)

type captureSender struct{ titles chan string }

func (c captureSender) Send(_ context.Context, msg notify.Message) error {
	c.titles <- msg.Title
	return nil
}

func (captureSender) Name() string { return "capture" }

func TestDispatcherFansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewLocalBus(0)
	live, err := bus.Subscribe(ctx, Channel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	store := memory.New()
	sender := captureSender{titles: make(chan string, 4)}
	d := NewDispatcher(bus, store, notify.NewNotifier([]notify.Sender{sender}, nil, nil), nil)

	user := common.HexToAddress("0x00000000000000000000000000000000000000d4")
	joined := domain.Event{ID: "e1", Type: domain.EventJoined, PoolID: 2, User: user, Option: 1, Amount: domain.NewAmount(100), At: time.Now()}
	resolved := domain.Event{ID: "e2", Type: domain.EventResolved, PoolID: 2, Option: 1, Amount: domain.NewAmount(97), At: time.Now()}
	for _, evt := range []domain.Event{joined, resolved} {
		if err := d.Publish(ctx, evt); err != nil {
			t.Fatalf("Publish %s: %v", evt.Type, err)
		}
	}
	d.Wait()

	select {
	case payload := <-live:
		var got domain.Event
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != "e1" || got.User != user || !got.Amount.Eq(joined.Amount) {
			t.Errorf("live event = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no live event")
	}

	msgs, err := bus.StreamRead(ctx, Stream, "0", 10)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("StreamRead = %d msgs, %v; want 2", len(msgs), err)
	}
	rest, _ := bus.StreamRead(ctx, Stream, msgs[0].ID, 10)
	if len(rest) != 1 || rest[0].ID != msgs[1].ID {
		t.Errorf("read after first = %+v", rest)
	}

	audit, err := store.List(ctx, domain.ListOpts{})
	if err != nil || len(audit) != 2 {
		t.Fatalf("audit = %d rows, %v; want 2", len(audit), err)
	}
	if audit[0].Event != string(domain.EventResolved) || audit[1].Detail["user"] != user.Hex() {
		t.Errorf("audit rows = %+v", audit)
	}

	if len(sender.titles) != 1 || <-sender.titles != "Pool #2 resolved" {
		t.Error("only the Resolved event should be notified")
	}
}

type failingBus struct{ *LocalBus }

func (failingBus) StreamAppend(context.Context, string, []byte) error {
	return errors.New("stream down")
}

func TestDispatcherReportsBusFailure(t *testing.T) {
	d := NewDispatcher(failingBus{NewLocalBus(0)}, nil, nil, nil)
	if err := d.Publish(context.Background(), domain.Event{Type: domain.EventPaused}); err == nil {
		t.Fatal("expected stream failure")
	}
}

func TestLocalBusCapsStream(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus(2)
	for i := 0; i < 3; i++ {
		_ = bus.StreamAppend(ctx, "s", []byte{byte(i)})
	}
	msgs, _ := bus.StreamRead(ctx, "s", "", 0)
	if len(msgs) != 2 || msgs[0].Payload[0] != 1 || msgs[1].ID != "3-0" {
		t.Errorf("msgs = %+v", msgs)
	}
}
