package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/pickupsync/internal/events"
)

// Client is a WebSocket connection to a Hub. The background worker uses it to
// publish results; UI processes use it to receive events.
type Client struct {
	url    string
	source string
	logger *events.Logger

	// Connection state
	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	events chan events.Event
	done   chan struct{}

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewClient creates a hub client. source is stamped on published events
// that do not carry one.
func NewClient(hubURL, source string, logger *events.Logger) *Client {
	if strings.HasPrefix(hubURL, "http") {
		hubURL = "ws" + hubURL[4:]
	}

	return &Client{
		url:          hubURL,
		source:       source,
		logger:       logger.WithField("component", "notify_client"),
		events:       make(chan events.Event, 100),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Connect dials the hub.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}
	if c.closed {
		return fmt.Errorf("client closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	c.conn = conn

	go c.readLoop()
	go c.pingLoop()

	c.logger.WithField("url", c.url).Debug("Connected to hub")
	return nil
}

// Publish sends ev to the hub.
func (c *Client) Publish(ev events.Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	if ev.Source == "" {
		ev.Source = c.source
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Events returns events broadcast by the hub. The channel closes when the
// connection ends.
func (c *Client) Events() <-chan events.Event {
	return c.events
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

func (c *Client) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	defer func() {
		c.Close()
		close(c.events)
	}()

	if conn == nil {
		return
	}

	deadline := c.pongTimeout + c.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("Hub read error")
			}
			return
		}
		// Hub pings and activity extend the deadline.
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		select {
		case c.events <- ev:
		case <-c.done:
			return
		default:
			c.logger.WithField("type", ev.Type).Debug("Dropping event, reader is slow")
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Debug("Ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
