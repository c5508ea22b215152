// Package client implements the demonstration websocket client: handshake,
// request correlation over channels, keepalive, and reconnect with backoff.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dcstrange/websocket-push-system/internal/protocol"
)

// EventKind tags the variants a request's channel can carry.
type EventKind string

const (
	EventAccepted EventKind = "accepted"
	EventData     EventKind = "data"
	EventError    EventKind = "error"
)

// Event is one delivery for an in-flight request. A request's channel closes
// after its terminal event (final data batch or error).
type Event struct {
	Kind      EventKind
	RequestID string
	TaskID    string
	Message   string
	Batch     protocol.Batch
}

// Config holds the connection parameters.
type Config struct {
	URL              string // ws://host:port/ws
	Token            string
	PingInterval     time.Duration
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

var (
	ErrClosed          = errors.New("client closed")
	ErrNotConnected    = errors.New("not connected")
	ErrRequestInFlight = errors.New("request id already in flight")
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrAuthRejected    = errors.New("authentication rejected")
)

const eventBuffer = 32

// Client maintains one authenticated connection and correlates server pushes
// back to requests by request id.
type Client struct {
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.Mutex
	pending   map[string]chan Event
	connected bool
	closed    bool

	clientID string
	userID   string

	done chan struct{}
}

func New(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan Event),
		done:    make(chan struct{}),
	}
}

// Run connects and keeps the connection alive until ctx is cancelled or
// Close is called. Each disconnect fails the pending requests and
// reconnects with exponential backoff; the first successful handshake resets
// the attempt counter.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.isClosed() {
			return ErrClosed
		}

		served, err := c.connectAndServe(ctx)
		if c.isClosed() || ctx.Err() != nil {
			return nil
		}
		if served {
			attempt = 0
		}

		attempt++
		delay := backoffDelay(attempt, c.cfg.ReconnectBase, c.cfg.ReconnectMax)
		c.logger.Warn("connection lost, reconnecting",
			"attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		}
	}
}

// connectAndServe performs one full connection lifetime: dial, handshake,
// serve frames until the socket drops. served reports whether the handshake
// completed, so the caller can reset its backoff.
func (c *Client) connectAndServe(ctx context.Context) (served bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := c.handshake(conn); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.logger.Info("connected", "client_id", c.clientID, "user_id", c.userID)

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.failAllPending("connection lost")
	}()

	pingStop := make(chan struct{})
	defer close(pingStop)
	go c.pingLoop(pingStop)

	return true, c.readLoop(conn)
}

// handshake reads the welcome, presents the token, and waits for the
// auth verdict.
func (c *Client) handshake(conn *websocket.Conn) error {
	frame, err := c.readFrame(conn, c.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: reading welcome: %v", ErrHandshakeFailed, err)
	}
	welcome, ok := frame.(protocol.Welcome)
	if !ok {
		return fmt.Errorf("%w: expected welcome, got %s", ErrHandshakeFailed, frame.FrameType())
	}
	c.clientID = welcome.ClientID

	if err := c.writeFrameTo(conn, protocol.NewAuth(c.cfg.Token)); err != nil {
		return fmt.Errorf("%w: sending auth: %v", ErrHandshakeFailed, err)
	}

	frame, err = c.readFrame(conn, c.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: reading auth verdict: %v", ErrHandshakeFailed, err)
	}
	switch f := frame.(type) {
	case protocol.AuthSuccess:
		c.userID = f.UserID
		return nil
	case protocol.AuthFailure:
		return fmt.Errorf("%w: %s", ErrAuthRejected, f.Message)
	default:
		return fmt.Errorf("%w: expected auth verdict, got %s", ErrHandshakeFailed, frame.FrameType())
	}
}

// Request submits a data request and returns the channel its events arrive
// on. The channel closes after the terminal event.
func (c *Client) Request(requestID, dataType string, params map[string]any) (<-chan Event, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if _, exists := c.pending[requestID]; exists {
		c.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	ch := make(chan Event, eventBuffer)
	c.pending[requestID] = ch
	c.mu.Unlock()

	if err := c.writeFrame(protocol.NewRequestData(requestID, dataType, params)); err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Cancel abandons a pending request locally and closes its event channel.
// Later server frames for the id are dropped; the backend task keeps running.
func (c *Client) Cancel(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.pending[requestID]; ok {
		delete(c.pending, requestID)
		close(ch)
	}
}

// Close stops the client permanently. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)

	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	c.writeMu.Unlock()

	c.failAllPending("client closed")
}

// UserID returns the identity confirmed by the last successful handshake.
func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("discarding malformed frame from server", "error", err)
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame routes one server frame. Frames for unknown request ids are
// dropped; the request was cancelled locally or belongs to another
// connection of the same user.
func (c *Client) handleFrame(frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.RequestAccepted:
		c.deliver(f.RequestID, Event{
			Kind:      EventAccepted,
			RequestID: f.RequestID,
			TaskID:    f.TaskID,
			Message:   f.Message,
		}, false)

	case protocol.Data:
		c.deliver(f.Payload.RequestID, Event{
			Kind:      EventData,
			RequestID: f.Payload.RequestID,
			Batch:     f.Payload.Data,
		}, f.Payload.Data.IsFinal)

	case protocol.Error:
		c.deliver(f.RequestID, Event{
			Kind:      EventError,
			RequestID: f.RequestID,
			Message:   f.Message,
		}, true)

	case protocol.Ping:
		_ = c.writeFrame(protocol.NewPong(time.Now().UnixMilli(), f.Timestamp))

	case protocol.Pong:
		// Keepalive response, nothing to route.

	case protocol.Welcome, protocol.AuthSuccess, protocol.AuthFailure:
		c.logger.Debug("ignoring handshake frame outside handshake", "type", frame.FrameType())

	default:
		c.logger.Warn("unhandled frame type", "type", frame.FrameType())
	}
}

// deliver feeds an event to the request's channel. terminal removes the
// entry and closes the channel afterwards.
// deliver sends an event to the pending channel for requestID. Sends and
// closes happen under mu, so a concurrent Close or disconnect can never
// close a channel between the lookup and the send. Sends stay non-blocking,
// which keeps the lock hold time bounded.
func (c *Client) deliver(requestID string, ev Event, terminal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[requestID]
	if !ok {
		c.logger.Debug("dropping event for unknown request", "request_id", requestID, "kind", ev.Kind)
		return
	}

	select {
	case ch <- ev:
	default:
		c.logger.Warn("event channel full, dropping", "request_id", requestID, "kind", ev.Kind)
	}
	if terminal {
		delete(c.pending, requestID)
		close(ch)
	}
}

// failAllPending terminates every in-flight request with an error event.
// Runs entirely under mu for the same send-vs-close discipline as deliver.
func (c *Client) failAllPending(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for requestID, ch := range c.pending {
		select {
		case ch <- Event{Kind: EventError, RequestID: requestID, Message: reason}:
		default:
		}
		close(ch)
	}
	c.pending = make(map[string]chan Event)
}

func (c *Client) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.writeFrame(protocol.NewPing(time.Now().UnixMilli())); err != nil {
				return
			}
		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Client) writeFrame(f protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(f))
}

func (c *Client) writeFrameTo(conn *websocket.Conn, f protocol.Frame) error {
	return conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(f))
}

func (c *Client) readFrame(conn *websocket.Conn, timeout time.Duration) (protocol.Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
