package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cricketpools/internal/events"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var v map[string]any
	if err := conn.ReadJSON(&v); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return v
}

func TestHubRoutesByTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewLocalBus(0)
	hub := NewHub(bus, Config{Mode: "server", Channel: events.Channel}, nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if hello := readJSON(t, conn); hello["type"] != "hello" {
		t.Fatalf("greeting = %v", hello)
	}
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	})

	publish := func(payload string) {
		if err := bus.Publish(ctx, events.Channel, []byte(payload)); err != nil {
			t.Fatal(err)
		}
	}
	publish(`{"type":"Joined","pool_id":1}`)
	if got := readJSON(t, conn); got["pool_id"] != float64(1) {
		t.Fatalf("event = %v", got)
	}

	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Topics: []string{TopicAll}}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Topics: []string{"pool:2"}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return c.wants([]string{"pool:2"}) && !c.wants([]string{TopicAll})
		}
		return false
	})

	publish(`{"type":"Joined","pool_id":1}`)
	publish(`{"type":"Resolved","pool_id":2}`)
	got := readJSON(t, conn)
	if got["pool_id"] != float64(2) || got["type"] != "Resolved" {
		t.Errorf("filtered event = %v", got)
	}
}

func TestTopicsOf(t *testing.T) {
	got := topicsOf([]byte(`{"type":"Claimed","pool_id":9}`))
	want := []string{TopicAll, "type:Claimed", "pool:9"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("topics = %v, want %v", got, want)
	}
	if got := topicsOf([]byte("not json")); len(got) != 1 {
		t.Errorf("topics of garbage = %v", got)
	}
}
