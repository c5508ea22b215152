package hub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/dcstrange/websocket-push-system/internal/metrics"
	"github.com/dcstrange/websocket-push-system/internal/registry"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// Config carries the liveness parameters. Timeout must exceed the interval
// (validated in config.Load); 2x tolerates heartbeat jitter without false
// positives.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type attachCmd struct {
	baseHubCmd
	conn         *websocket.Conn
	replyChannel chan *Connection
}

type authenticateCmd struct {
	baseHubCmd
	connID       uuid.UUID
	userID       string
	errorChannel chan error
}

type detachCmd struct {
	baseHubCmd
	connID uuid.UUID
}

type sendToUserCmd struct {
	baseHubCmd
	userID       string
	data         []byte
	replyChannel chan int
}

type sendToConnCmd struct {
	baseHubCmd
	connID       uuid.UUID
	data         []byte
	replyChannel chan bool
}

type clientCountCmd struct {
	baseHubCmd
	userID       string
	replyChannel chan int
}

type statsCmd struct {
	baseHubCmd
	replyChannel chan Stats
}

type stopCmd struct {
	baseHubCmd
}

// Stats is a point-in-time snapshot of hub occupancy.
type Stats struct {
	Connections        int
	AuthenticatedConns int
	Users              int
}

// Hub owns every live connection and the user index. One goroutine processes
// all commands, so registry mutation needs no locks; fan-out consults the
// registry and hands frames to per-connection writers.
type Hub struct {
	cmdCh        chan hubCmd
	clock        clockwork.Clock
	cfg          Config
	conns        map[uuid.UUID]*Connection
	registry     *registry.Registry
	onDisconnect func(connID uuid.UUID)
	done         chan struct{}
}

// New creates and starts a hub. onDisconnect fires for every connection that
// leaves the hub, whether by detach or liveness termination; the server uses
// it to cancel the connection's pending correlations.
func New(cfg Config, clock clockwork.Clock, onDisconnect func(connID uuid.UUID)) *Hub {
	h := &Hub{
		cmdCh:        make(chan hubCmd, 256),
		clock:        clock,
		cfg:          cfg,
		conns:        make(map[uuid.UUID]*Connection),
		registry:     registry.New(),
		onDisconnect: onDisconnect,
		done:         make(chan struct{}),
	}
	go h.run()
	return h
}

// Attach admits a freshly upgraded socket and returns its handle. The
// connection is unauthenticated until Authenticate binds it to a user.
func (h *Hub) Attach(conn *websocket.Conn) *Connection {
	replyCh := make(chan *Connection, 1)
	h.cmdCh <- attachCmd{conn: conn, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case c := <-replyCh:
		return c
	case <-timer.Chan():
		slog.Warn("Attach timed out", "timeout", commandTimeout)
		return nil
	}
}

// Authenticate binds a connection to a user in the registry.
func (h *Hub) Authenticate(connID uuid.UUID, userID string) error {
	errCh := make(chan error, 1)
	h.cmdCh <- authenticateCmd{connID: connID, userID: userID, errorChannel: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("authenticate command timed out after %v", commandTimeout)
	}
}

// Detach removes a connection after its read pump has finished. Unknown ids
// are a no-op (the sweep may have terminated the connection already).
func (h *Hub) Detach(connID uuid.UUID) {
	h.cmdCh <- detachCmd{connID: connID}
}

// SendToUser delivers a frame to every live connection of the user and
// returns how many accepted the write. Zero is a valid result and means the
// user currently has no reachable connection; callers must not retry.
func (h *Hub) SendToUser(userID string, data []byte) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- sendToUserCmd{userID: userID, data: data, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-replyCh:
		return n
	case <-timer.Chan():
		slog.Warn("SendToUser timed out", "timeout", commandTimeout)
		return 0
	}
}

// SendToConnection delivers a frame to a single connection. Write failures
// are absorbed and reported as false; they never propagate.
func (h *Hub) SendToConnection(connID uuid.UUID, data []byte) bool {
	replyCh := make(chan bool, 1)
	h.cmdCh <- sendToConnCmd{connID: connID, data: data, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case ok := <-replyCh:
		return ok
	case <-timer.Chan():
		slog.Warn("SendToConnection timed out", "timeout", commandTimeout)
		return false
	}
}

// ClientCount returns the number of live connections for a user.
// Returns -1 if the command times out.
func (h *Hub) ClientCount(userID string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{userID: userID, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stats returns a snapshot of hub occupancy.
func (h *Hub) Stats() Stats {
	replyCh := make(chan Stats, 1)
	h.cmdCh <- statsCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case s := <-replyCh:
		return s
	case <-timer.Chan():
		slog.Warn("Stats timed out", "timeout", commandTimeout)
		return Stats{}
	}
}

// Stop shuts down the hub, closing all client connections.
// Blocks until the hub goroutine has exited or the timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded, forcing exit", "timeout", stopTimeout)
		close(h.done)
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			metrics.HubPanicsTotal.Inc()
			h.closeAll("hub panic")
		}
	}()

	sweep := h.clock.NewTicker(h.cfg.HeartbeatInterval)
	defer sweep.Stop()
	defer close(h.done)

	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))
			if depth > 200 { // 80% of 256
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case attachCmd:
				h.handleAttach(c)
			case authenticateCmd:
				h.handleAuthenticate(c)
			case detachCmd:
				h.remove(c.connID, false, "")
			case sendToUserCmd:
				c.replyChannel <- h.handleSendToUser(c.userID, c.data)
			case sendToConnCmd:
				c.replyChannel <- h.handleSendToConn(c.connID, c.data)
			case clientCountCmd:
				c.replyChannel <- len(h.registry.ConnectionsFor(c.userID))
			case statsCmd:
				c.replyChannel <- Stats{
					Connections:        len(h.conns),
					AuthenticatedConns: h.registry.Connections(),
					Users:              h.registry.Users(),
				}
			case stopCmd:
				h.closeAll("Server shutting down")
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}

		case <-sweep.Chan():
			h.handleSweep()
		}
	}
}

func (h *Hub) handleAttach(c attachCmd) {
	conn := &Connection{
		id:        uuid.New(),
		ws:        c.conn,
		writer:    newWriter(c.conn, h.clock, h.cfg.HeartbeatInterval),
		createdAt: h.clock.Now(),
	}
	conn.Touch(h.clock.Now())
	h.conns[conn.id] = conn

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsCurrent.Set(float64(len(h.conns)))

	slog.Debug("Connection attached", "conn_id", conn.id.String(), "total_connections", len(h.conns))
	c.replyChannel <- conn
}

func (h *Hub) handleAuthenticate(c authenticateCmd) {
	conn, exists := h.conns[c.connID]
	if !exists {
		c.errorChannel <- fmt.Errorf("unknown connection %s", c.connID)
		return
	}

	if err := h.registry.Register(c.connID, c.userID); err != nil {
		c.errorChannel <- err
		return
	}
	conn.userID = c.userID

	metrics.AuthenticatedUsersCurrent.Set(float64(h.registry.Users()))
	slog.Info("Connection authenticated", "conn_id", c.connID.String(), "user_id", c.userID,
		"user_connections", len(h.registry.ConnectionsFor(c.userID)))
	c.errorChannel <- nil
}

func (h *Hub) handleSendToUser(userID string, data []byte) int {
	connIDs := h.registry.ConnectionsFor(userID)
	if len(connIDs) == 0 {
		metrics.FanoutNoConnectionTotal.Inc()
		return 0
	}

	delivered := 0
	var evict []uuid.UUID
	for _, id := range connIDs {
		conn, exists := h.conns[id]
		if !exists {
			continue
		}
		if conn.writer.trySend(data) {
			delivered++
			metrics.FanoutDeliveredTotal.Inc()
		} else {
			metrics.FanoutFailedTotal.Inc()
			evict = append(evict, id)
		}
	}

	// A full buffer or dead writer fails only that connection; the rest of
	// the fan-out proceeds.
	for _, id := range evict {
		slog.Warn("Evicting slow or dead connection", "conn_id", id.String(), "user_id", userID)
		metrics.SlowClientsEvictedTotal.Inc()
		h.remove(id, true, "write failed")
	}

	return delivered
}

func (h *Hub) handleSendToConn(connID uuid.UUID, data []byte) bool {
	conn, exists := h.conns[connID]
	if !exists {
		return false
	}
	if conn.writer.trySend(data) {
		metrics.FanoutDeliveredTotal.Inc()
		return true
	}
	metrics.FanoutFailedTotal.Inc()
	return false
}

// handleSweep terminates connections whose last traffic is older than the
// heartbeat timeout. Termination is a normal disconnect, not an error.
func (h *Hub) handleSweep() {
	now := h.clock.Now()
	var stale []uuid.UUID
	for id, conn := range h.conns {
		if conn.idleSince(now) > h.cfg.HeartbeatTimeout {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		conn := h.conns[id]
		slog.Info("Terminating stale connection",
			"conn_id", id.String(),
			"user_id", conn.userID,
			"idle", conn.idleSince(now),
			"timeout", h.cfg.HeartbeatTimeout,
		)
		metrics.HeartbeatTerminationsTotal.Inc()
		h.remove(id, true, "heartbeat timeout")
	}
}

// remove is the single teardown path: stops the writer, unbinds the registry
// entry, and notifies the disconnect hook. force closes the socket from our
// side; otherwise the read pump has already observed the close.
func (h *Hub) remove(connID uuid.UUID, force bool, reason string) {
	conn, exists := h.conns[connID]
	if !exists {
		return
	}
	delete(h.conns, connID)

	if force {
		conn.writer.stopGraceful(reason)
	} else {
		conn.writer.stop()
	}

	userID, last := h.registry.Unregister(connID)
	metrics.ConnectionsCurrent.Set(float64(len(h.conns)))
	metrics.AuthenticatedUsersCurrent.Set(float64(h.registry.Users()))

	if h.onDisconnect != nil {
		h.onDisconnect(connID)
	}

	if last {
		slog.Info("Last connection closed for user", "user_id", userID)
	} else {
		slog.Debug("Connection removed", "conn_id", connID.String(), "remaining_connections", len(h.conns))
	}
}

func (h *Hub) closeAll(reason string) {
	total := len(h.conns)
	slog.Info("Hub shutting down", "connections", total)

	for id := range h.conns {
		h.remove(id, true, reason)
	}

	metrics.ConnectionsCurrent.Set(0)
	metrics.AuthenticatedUsersCurrent.Set(0)
	slog.Info("Hub shutdown complete", "disconnected_connections", total)
}
