package websocket

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/northlive/telemetry-hub/internal/core/domain"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// Config holds the keep-alive timing of a viewer connection.
type Config struct {
	// PongWait is the time allowed to read the next pong from the peer.
	PongWait time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
}

// DefaultConfig returns the standard ping/pong timing.
func DefaultConfig() Config {
	return Config{
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
	}
}

// Client is a middleman between the websocket connection and a hub
// subscription.
type Client struct {
	// The websocket connection.
	conn *websocket.Conn

	// The subscription feeding outbound events.
	sub ports.Subscription

	cfg    Config
	logger *slog.Logger
}

// NewClient creates a new viewer client
func NewClient(conn *websocket.Conn, sub ports.Subscription, cfg Config, logger *slog.Logger) *Client {
	if cfg.PongWait <= 0 || cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg = DefaultConfig()
	}
	return &Client{
		conn:   conn,
		sub:    sub,
		cfg:    cfg,
		logger: logger.With("subscriber_id", sub.ID()),
	}
}

// ReadPump drains the connection so control frames are processed. Viewers
// are receive-only; data frames from the peer are ignored.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.sub.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

// WritePump pumps events from the subscription to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.sub.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.sub.Events():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the subscription. Send close message.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.writeJSON(event); err != nil {
				c.logger.Warn("failed to write event, dropping subscriber", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// writeJSON writes one event as a text frame
func (c *Client) writeJSON(event domain.Event) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(event); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}
