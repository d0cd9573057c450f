// Package ws streams committed pool events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// TopicAll receives every event. Clients may narrow to "pool:<id>" or
// "type:<EventType>" topics.
const TopicAll = "all"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg is a client control frame:
// {"action":"subscribe","topics":["pool:7"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Config carries metadata reported in the greeting frame.
type Config struct {
	Mode           string
	Channel        string
	AllowedOrigins []string
	StartedAt      time.Time
}

// Hub relays payloads from one event bus channel to subscribed clients.
type Hub struct {
	bus    domain.EventBus
	cfg    Config
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

// routed is an event payload with the topics it belongs to.
type routed struct {
	topics []string
	data   []byte
}

// NewHub creates a Hub that relays messages from bus to websocket clients.
func NewHub(bus domain.EventBus, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws")),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run subscribes to the bus and serves clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	msgs, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case data, ok := <-msgs:
			if !ok {
				msgs = nil
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", h.cfg.Channel))
				continue
			}
			h.fanOut(routed{topics: topicsOf(data), data: data})

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws: client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws: client disconnected", slog.Int("clients", n))
		}
	}
}

func (h *Hub) fanOut(msg routed) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(msg.topics) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("ws: dropping event for slow client")
		}
	}
}

// topicsOf derives the topics of an event payload.
func topicsOf(data []byte) []string {
	var head struct {
		Type   domain.EventType `json:"type"`
		PoolID uint64           `json:"pool_id"`
	}
	topics := []string{TopicAll}
	if json.Unmarshal(data, &head) != nil {
		return topics
	}
	if head.Type != "" {
		topics = append(topics, "type:"+string(head.Type))
	}
	if head.PoolID != 0 {
		topics = append(topics, "pool:"+strconv.FormatUint(head.PoolID, 10))
	}
	return topics
}

// HandleWS upgrades the request and registers the client, subscribed to
// TopicAll until it asks otherwise.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = h.checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{TopicAll: true},
	}
	c.greet()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (c *client) greet() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"mode":           c.hub.cfg.Mode,
			"uptime_seconds": max(int64(time.Since(c.hub.cfg.StartedAt).Seconds()), 0),
			"topics":         []string{TopicAll},
		},
	})
	if err == nil {
		c.send <- msg
	}
}

func (c *client) wants(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range topics {
		if c.subs[t] {
			return true
		}
	}
	return false
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range msg.Topics {
		switch msg.Action {
		case "subscribe":
			c.subs[t] = true
		case "unsubscribe":
			delete(c.subs, t)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
