// Package correlator tracks outstanding request correlations on the server.
//
// Instead of stashing callbacks keyed by request id, entries hold routing
// state only (owning connection, user, one-shot flag); the dispatcher asks
// for a route and performs delivery itself. Teardown therefore cannot leak
// closures.
package correlator

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dcstrange/websocket-push-system/internal/metrics"
)

// ErrDuplicateRequest is returned in strict mode when a request id collides
// with an outstanding correlation.
var ErrDuplicateRequest = errors.New("request id already pending")

// Route describes where a result for a request id must be delivered.
type Route struct {
	ConnID  uuid.UUID
	UserID  string
	OneShot bool
}

// Correlator is safe for concurrent use; a single mutex serializes all
// mutation (results arrive from the result source, teardown from the hub).
type Correlator struct {
	mu      sync.Mutex
	strict  bool
	pending map[string]Route
	byConn  map[uuid.UUID]map[string]struct{}
}

func New(strict bool) *Correlator {
	return &Correlator{
		strict:  strict,
		pending: make(map[string]Route),
		byConn:  make(map[uuid.UUID]map[string]struct{}),
	}
}

// Begin registers a pending entry. In strict mode a duplicate request id is
// rejected; otherwise the last writer wins and the previous entry is
// superseded.
func (c *Correlator) Begin(requestID string, connID uuid.UUID, userID string, oneShot bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.pending[requestID]; ok {
		if c.strict {
			return ErrDuplicateRequest
		}
		c.detach(prev.ConnID, requestID)
	}

	c.pending[requestID] = Route{ConnID: connID, UserID: userID, OneShot: oneShot}

	owned, ok := c.byConn[connID]
	if !ok {
		owned = make(map[string]struct{})
		c.byConn[connID] = owned
	}
	owned[requestID] = struct{}{}

	metrics.PendingRequestsCurrent.Set(float64(len(c.pending)))
	return nil
}

// Accepted resolves the route for an acceptance notification. The entry is
// kept; acceptance never completes a correlation.
func (c *Correlator) Accepted(requestID string) (Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	route, ok := c.pending[requestID]
	return route, ok
}

// Data resolves the route for a result batch. A one-shot entry is removed
// once its final batch has been routed; non-one-shot entries persist until
// Error or connection teardown.
func (c *Correlator) Data(requestID string, final bool) (Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	route, ok := c.pending[requestID]
	if !ok {
		return Route{}, false
	}
	if route.OneShot && final {
		c.remove(requestID, route)
	}
	return route, true
}

// Error resolves the route for an error result. An error always terminates
// the correlation regardless of the one-shot flag.
func (c *Correlator) Error(requestID string) (Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	route, ok := c.pending[requestID]
	if !ok {
		return Route{}, false
	}
	c.remove(requestID, route)
	return route, true
}

// CancelAllFor removes every pending entry owned by a connection without
// delivery (the connection is gone, there is nothing to deliver to).
// Returns the number of cancelled entries.
func (c *Correlator) CancelAllFor(connID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	owned := c.byConn[connID]
	if len(owned) == 0 {
		delete(c.byConn, connID)
		return 0
	}

	for requestID := range owned {
		delete(c.pending, requestID)
	}
	n := len(owned)
	delete(c.byConn, connID)

	metrics.PendingRequestsCurrent.Set(float64(len(c.pending)))
	return n
}

// Pending returns the number of outstanding correlations.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// remove drops one entry and its reverse-index link. Caller holds the lock.
func (c *Correlator) remove(requestID string, route Route) {
	delete(c.pending, requestID)
	c.detach(route.ConnID, requestID)
	metrics.PendingRequestsCurrent.Set(float64(len(c.pending)))
}

func (c *Correlator) detach(connID uuid.UUID, requestID string) {
	owned := c.byConn[connID]
	delete(owned, requestID)
	if len(owned) == 0 {
		delete(c.byConn, connID)
	}
}
