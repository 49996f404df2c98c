// Package notify relays sync events to UI clients over WebSocket.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/pickupsync/internal/events"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBuffer   = 32
)

// Hub broadcasts every bus event to connected clients. Events received from
// a client are published on the bus and reach every other client.
type Hub struct {
	bus      *events.Bus
	logger   *events.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*hubClient
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub on bus.
func NewHub(bus *events.Bus, logger *events.Logger) *Hub {
	return &Hub{
		bus:    bus,
		logger: logger.WithField("component", "notify_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local UI only; the listener binds to loopback by default.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*hubClient),
	}
}

// Handler returns a mux serving the hub at /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	return mux
}

// Run forwards bus events to clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ch, cancel := h.bus.Subscribe(64)
	defer cancel()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		if id == ev.Origin {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.WithField("client_id", id).Warn("Dropping slow client")
			delete(h.clients, id)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the connection and serves one client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.WithField("client_id", c.id).Debug("Client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.logger.WithField("client_id", c.id).Debug("Client disconnected")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev events.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}
		if ev.Type == "" {
			continue
		}

		ev.Origin = c.id
		if ev.Source == "" {
			ev.Source = "remote"
		}
		h.bus.Publish(ev)
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
