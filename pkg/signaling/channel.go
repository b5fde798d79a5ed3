package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
	"github.com/medlink-labs/consultkit/pkg/errors"
	"github.com/rs/xid"
)

// ConnectionState represents the state of the signaling channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the state name
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateChange is one transition of the channel's connection state.
type StateChange struct {
	State  ConnectionState
	Reason string
}

// ChannelOptions represents signaling channel options
type ChannelOptions struct {
	Logger         *logging.Logger
	ReconnectWait  time.Duration
	MaxReconnect   int
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultChannelOptions returns default channel options
func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{
		ReconnectWait:  time.Second,
		MaxReconnect:   5,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4 * 1024 * 1024,
	}
}

type subscription struct {
	id string
	ch chan json.RawMessage
}

// Channel is a persistent duplex connection to the consultation service. It
// carries typed named events in both directions, authenticates at connect
// time, and reconnects with a fixed delay after unrequested drops.
type Channel struct {
	options ChannelOptions
	logger  *logging.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	state     ConnectionState
	endpoint  string
	token     string
	requested bool
	connCtx   context.Context
	connStop  context.CancelFunc

	sendChan chan []byte
	states   chan StateChange

	subs   map[string][]*subscription
	subsMu sync.RWMutex

	reconnecting   bool
	reconnectMutex sync.Mutex
}

// NewChannel creates a new signaling channel
func NewChannel(options ChannelOptions) *Channel {
	if options.Logger == nil {
		options.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	return &Channel{
		options:  options,
		logger:   options.Logger,
		state:    StateDisconnected,
		sendChan: make(chan []byte, 256),
		states:   make(chan StateChange, 16),
		subs:     make(map[string][]*subscription),
	}
}

// Connect establishes the channel. The bearer token travels in the dial
// handshake, not as a per-message field. Calling Connect while already
// connected or connecting is a no-op.
func (c *Channel) Connect(ctx context.Context, endpoint, token string) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.endpoint = endpoint
	c.token = token
	c.requested = false
	c.mu.Unlock()

	return c.connectOnce(ctx)
}

// connectOnce performs a single connection attempt
func (c *Channel) connectOnce(ctx context.Context) error {
	c.setState(StateConnecting, "")

	c.mu.RLock()
	endpoint, token := c.endpoint, c.token
	c.mu.RUnlock()

	c.logger.Info("connecting to signaling server", "url", endpoint)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		c.setState(StateDisconnected, err.Error())
		return errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to signaling server")
	}

	connCtx, stop := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.connCtx = connCtx
	c.connStop = stop
	c.mu.Unlock()

	go c.readPump(connCtx, conn)
	go c.writePump(connCtx, conn)

	c.setState(StateConnected, "")
	c.logger.Info("connected to signaling server", "url", endpoint)

	return nil
}

// Disconnect tears down the channel and releases all event subscriptions.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.requested = true
	if c.connStop != nil {
		c.connStop()
		c.connStop = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.subsMu.Lock()
	for _, subs := range c.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	c.subs = make(map[string][]*subscription)
	c.subsMu.Unlock()

	c.setState(StateDisconnected, "")
	return nil
}

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// States returns the connection-state stream. Send failures and transport
// drops surface here, never as synchronous errors.
func (c *Channel) States() <-chan StateChange {
	return c.states
}

// Send sends a named event. It is fire-and-forget: while the channel is not
// connected the message is dropped at the channel boundary.
func (c *Channel) Send(event string, payload any) {
	if c.State() != StateConnected {
		c.logger.Debug("dropping event while disconnected", "event", event)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal payload", "event", event, "error", err)
		return
	}

	msg, err := json.Marshal(domain.Envelope{Event: event, Data: data})
	if err != nil {
		c.logger.Error("failed to marshal envelope", "event", event, "error", err)
		return
	}

	select {
	case c.sendChan <- msg:
	default:
		c.logger.Warn("send buffer full, dropping event", "event", event)
	}
}

// Subscribe returns a stream of payloads for the given event name and a
// cancel function. Cancelling one subscription does not affect other
// subscribers of the same name.
func (c *Channel) Subscribe(event string) (<-chan json.RawMessage, func()) {
	sub := &subscription{
		id: xid.New().String(),
		ch: make(chan json.RawMessage, 64),
	}

	c.subsMu.Lock()
	c.subs[event] = append(c.subs[event], sub)
	c.subsMu.Unlock()

	cancel := func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		subs := c.subs[event]
		for i, s := range subs {
			if s.id == sub.id {
				c.subs[event] = append(subs[:i], subs[i+1:]...)
				close(s.ch)
				return
			}
		}
	}

	return sub.ch, cancel
}

// dispatch delivers an inbound payload to every subscriber of the event name.
// Delivery preserves arrival order per event name; a subscriber that cannot
// keep up loses the message rather than stalling the read pump.
func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.subsMu.RLock()
	subs := make([]*subscription, len(c.subs[event]))
	copy(subs, c.subs[event])
	c.subsMu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- data:
		default:
			c.logger.Warn("subscriber buffer full, dropping event", "event", event)
		}
	}
}

// readPump pumps messages from the websocket connection
func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) {
	defer c.logger.Debug("read pump stopped")

	conn.SetReadLimit(c.options.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				c.mu.RLock()
				requested := c.requested
				c.mu.RUnlock()

				if requested {
					return
				}

				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Error("websocket read error", "error", err)
				}

				go c.reconnect()
				return
			}

			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}

			var envelope domain.Envelope
			if err := json.Unmarshal(message, &envelope); err != nil {
				c.logger.Error("failed to unmarshal envelope", "error", err)
				continue
			}

			c.dispatch(envelope.Event, envelope.Data)
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Channel) writePump(ctx context.Context, conn *websocket.Conn) {
	defer c.logger.Debug("write pump stopped")

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case message := <-c.sendChan:
			conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}

			// Drain any queued messages
			n := len(c.sendChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.sendChan:
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						c.logger.Error("websocket write error", "error", err)
						return
					}
				default:
				}
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("websocket ping error", "error", err)
				return
			}
		}
	}
}

// reconnect retries the connection with a fixed delay, capped at a bounded
// number of attempts. Exhaustion surfaces as StateError.
func (c *Channel) reconnect() {
	c.reconnectMutex.Lock()
	if c.reconnecting {
		c.reconnectMutex.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMutex.Unlock()

	defer func() {
		c.reconnectMutex.Lock()
		c.reconnecting = false
		c.reconnectMutex.Unlock()
	}()

	c.mu.Lock()
	if c.connStop != nil {
		c.connStop()
		c.connStop = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting, "connection lost")

	for attempt := 1; attempt <= c.options.MaxReconnect; attempt++ {
		time.Sleep(c.options.ReconnectWait)

		c.mu.RLock()
		requested := c.requested
		c.mu.RUnlock()
		if requested {
			return
		}

		c.logger.Info("reconnecting to signaling server", "attempt", attempt)

		if err := c.connectOnce(context.Background()); err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.logger.Info("reconnected to signaling server", "attempt", attempt)
		return
	}

	c.setState(StateError, "reconnect attempts exhausted")
}

// setState updates the connection state and publishes the transition.
func (c *Channel) setState(state ConnectionState, reason string) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	select {
	case c.states <- StateChange{State: state, Reason: reason}:
	default:
	}
}
