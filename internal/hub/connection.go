package hub

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection is the hub's handle for one physical socket. The hub owns it
// exclusively for its lifetime; other components refer to it by id only.
type Connection struct {
	id        uuid.UUID
	ws        *websocket.Conn
	writer    *writer
	createdAt time.Time

	// userID is written only by the hub actor goroutine.
	userID string

	// lastActivity is refreshed by the read pump on every inbound frame and
	// read by the sweep, hence the atomic.
	lastActivity atomic.Int64
}

// ID returns the connection id generated at accept time.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Touch records liveness. Any inbound traffic counts; receipt of a frame
// proves the peer is alive whether or not it is a heartbeat response.
func (c *Connection) Touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

func (c *Connection) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActivity.Load()))
}
