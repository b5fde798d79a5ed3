package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 * 1024
)

// client is one websocket participant. roomID is owned by the hub loop.
type client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	logger *logging.Logger

	sendChan  chan []byte
	closeOnce sync.Once

	roomID string
}

func newClient(conn *websocket.Conn, hub *Hub, logger *logging.Logger) *client {
	return &client{
		id:       xid.New().String(),
		conn:     conn,
		hub:      hub,
		logger:   logger,
		sendChan: make(chan []byte, 256),
	}
}

// send marshals an event envelope to the client. Slow clients drop.
func (c *client) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal payload", "event", event, "error", err)
		return
	}
	c.sendRaw(domain.Envelope{Event: event, Data: data})
}

func (c *client) sendRaw(env domain.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to marshal envelope", "event", env.Event, "error", err)
		return
	}

	select {
	case c.sendChan <- data:
	default:
		c.logger.Warn("client send queue full, dropping", "client_id", c.id, "event", env.Event)
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.sendChan)
	})
}

// readPump reads envelopes off the connection and hands them to the hub.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close", "client_id", c.id, "error", err)
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("invalid envelope", "client_id", c.id, "error", err)
			continue
		}

		select {
		case c.hub.inbound <- inboundMessage{from: c, env: env}:
		default:
			c.logger.Warn("hub inbound queue full, dropping", "client_id", c.id, "event", env.Event)
		}
	}
}

// writePump drains the send queue onto the connection and keeps it alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendChan:
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
