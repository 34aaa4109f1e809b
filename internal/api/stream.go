package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradingd/internal/eventbus"
)

// Hub manages WebSocket clients and broadcasts events to them. The
// register/unregister/broadcast loop and ping/pong pumps are venue- and
// domain-agnostic.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	logger     *slog.Logger
}

// CommandHandler dispatches a parsed ClientCommand on behalf of a Client,
// returning the envelope to send back (an ack or an error).
type CommandHandler func(cmd ClientCommand) EventEnvelope

// Client represents a connected WebSocket client. Beyond a read-only event
// feed, a Client may also subscribe to EventBus topics and issue
// strategy.* control commands, so it tracks its own bus subscriptions and
// holds a reference to the command dispatcher.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	bus      *eventbus.Bus
	dispatch CommandHandler

	mu   sync.Mutex
	subs map[string]*eventbus.Subscription
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "ws_hub"),
	}
}

// Run starts the hub's main loop (should be called in a goroutine).
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("client connected", "count", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			client.closeSubs()
			h.logger.Info("client disconnected", "count", len(h.clients))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends an envelope to every connected client.
func (h *Hub) Broadcast(evt EventEnvelope) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal broadcast envelope", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump pumps commands from the websocket connection to the client's
// bus subscriptions and command dispatcher.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error", "error", err)
			}
			break
		}
		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.sendEnvelope(EventEnvelope{Type: "error", Timestamp: time.Now(), Data: ErrorResponse{Code: "validation", Message: "malformed command: " + err.Error()}})
		return
	}

	switch cmd.Action {
	case "subscribe":
		c.subscribe(cmd.Pattern)
		c.sendEnvelope(EventEnvelope{Type: "ack", Timestamp: time.Now(), Data: map[string]string{"subscribed": cmd.Pattern}})
	case "unsubscribe":
		c.unsubscribe(cmd.Pattern)
		c.sendEnvelope(EventEnvelope{Type: "ack", Timestamp: time.Now(), Data: map[string]string{"unsubscribed": cmd.Pattern}})
	default:
		if c.dispatch == nil {
			c.sendEnvelope(EventEnvelope{Type: "error", Timestamp: time.Now(), Data: ErrorResponse{Code: "validation", Message: "unknown action " + cmd.Action}})
			return
		}
		c.sendEnvelope(c.dispatch(cmd))
	}
}

func (c *Client) subscribe(pattern string) {
	if pattern == "" {
		return
	}
	c.mu.Lock()
	if _, exists := c.subs[pattern]; exists {
		c.mu.Unlock()
		return
	}
	sub := c.bus.Subscribe(pattern, eventbus.SubscribeOpts{Policy: eventbus.DropOldest})
	c.subs[pattern] = sub
	c.mu.Unlock()

	go func() {
		for evt := range sub.C() {
			c.sendEnvelope(EventEnvelope{Type: "event", Topic: evt.Topic, Timestamp: evt.Timestamp, Data: evt.Payload})
		}
	}()
}

func (c *Client) unsubscribe(pattern string) {
	c.mu.Lock()
	sub, ok := c.subs[pattern]
	if ok {
		delete(c.subs, pattern)
	}
	c.mu.Unlock()
	if ok {
		c.bus.Unsubscribe(sub)
	}
}

func (c *Client) closeSubs() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*eventbus.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		c.bus.Unsubscribe(sub)
	}
}

func (c *Client) sendEnvelope(evt EventEnvelope) {
	data, err := json.Marshal(evt)
	if err != nil {
		c.hub.logger.Error("marshal client envelope", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// NewClient registers conn with hub and starts its pumps. bus backs any
// topic subscriptions the client issues; dispatch handles strategy.*
// control commands (nil disables them, leaving only subscribe/unsubscribe).
func NewClient(hub *Hub, conn *websocket.Conn, bus *eventbus.Bus, dispatch CommandHandler) *Client {
	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		bus:      bus,
		dispatch: dispatch,
		subs:     make(map[string]*eventbus.Subscription),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}
