// Package ws bridges the event bus to WebSocket clients.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/papertrade/papertrade/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client represents a single WebSocket connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu    sync.RWMutex
	kinds map[string]struct{} // empty means all kinds
}

// Hub fans bus events out to connected WebSocket clients.
type Hub struct {
	logger *zap.Logger
	bus    *events.Bus

	register   chan *Client
	unregister chan *Client

	upgrader websocket.Upgrader

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewHub creates a Hub consuming from the given bus.
func NewHub(logger *zap.Logger, bus *events.Bus) *Hub {
	h := &Hub{
		logger:     logger,
		bus:        bus,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go h.run()
	return h
}

// run handles registration, unregistration and event fan-out.
func (h *Hub) run() {
	sub := h.bus.Subscribe()
	defer sub.Cancel()

	clients := make(map[*Client]struct{})
	for {
		select {
		case <-h.stopChan:
			for c := range clients {
				close(c.send)
			}
			return
		case client := <-h.register:
			clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client.send)
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}
			for c := range clients {
				if !c.wants(ev.Kind) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// drop slow client's event
				}
			}
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// ServeWS upgrades an HTTP request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		conn:  conn,
		send:  make(chan []byte, 256),
		hub:   h,
		kinds: make(map[string]struct{}),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) wants(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.kinds) == 0 {
		return true
	}
	_, ok := c.kinds[kind]
	return ok
}

// readPump handles control frames and subscription requests of the form
// {"subscribe":["order_updated"]} / {"unsubscribe":[...]}.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopChan:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var req map[string][]string
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		c.mu.Lock()
		for _, kind := range req["subscribe"] {
			c.kinds[kind] = struct{}{}
		}
		for _, kind := range req["unsubscribe"] {
			delete(c.kinds, kind)
		}
		c.mu.Unlock()
	}
}

// writePump sends events and heartbeats to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() { ticker.Stop(); c.conn.Close() }()
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
