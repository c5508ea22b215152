// Package registry maintains the bidirectional connection/user index.
//
// The registry has no internal locking: it is owned by the hub actor
// goroutine, which serializes all mutation (see internal/hub). Registry
// state changes are the only way the connection/user association changes;
// nothing else caches it beyond a single operation.
package registry

import (
	"errors"

	"github.com/google/uuid"
)

// ErrConnBound is returned when a connection is registered under a second
// user. A connection id must never appear in two user buckets.
var ErrConnBound = errors.New("connection already bound to another user")

type Registry struct {
	byUser map[string]map[uuid.UUID]struct{}
	byConn map[uuid.UUID]string
}

func New() *Registry {
	return &Registry{
		byUser: make(map[string]map[uuid.UUID]struct{}),
		byConn: make(map[uuid.UUID]string),
	}
}

// Register adds connID to userID's bucket, creating the bucket if absent.
// Registering the same pair twice is a no-op.
func (r *Registry) Register(connID uuid.UUID, userID string) error {
	if bound, ok := r.byConn[connID]; ok {
		if bound == userID {
			return nil
		}
		return ErrConnBound
	}

	bucket, ok := r.byUser[userID]
	if !ok {
		bucket = make(map[uuid.UUID]struct{})
		r.byUser[userID] = bucket
	}
	bucket[connID] = struct{}{}
	r.byConn[connID] = userID
	return nil
}

// Unregister removes the connection from whichever user bucket holds it and
// drops the bucket if it is now empty. Returns the owning user and whether
// this was the user's last connection. Unknown connections are a no-op.
func (r *Registry) Unregister(connID uuid.UUID) (userID string, last bool) {
	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)

	bucket := r.byUser[userID]
	delete(bucket, connID)
	if len(bucket) == 0 {
		delete(r.byUser, userID)
		return userID, true
	}
	return userID, false
}

// ConnectionsFor returns a snapshot of the user's live connection ids. An
// empty result is valid and means "no active connections".
func (r *Registry) ConnectionsFor(userID string) []uuid.UUID {
	bucket := r.byUser[userID]
	if len(bucket) == 0 {
		return nil
	}
	conns := make([]uuid.UUID, 0, len(bucket))
	for id := range bucket {
		conns = append(conns, id)
	}
	return conns
}

// UserFor resolves the owning user of a connection.
func (r *Registry) UserFor(connID uuid.UUID) (string, bool) {
	userID, ok := r.byConn[connID]
	return userID, ok
}

// Connections returns the number of registered connections.
func (r *Registry) Connections() int {
	return len(r.byConn)
}

// Users returns the number of users with at least one connection.
func (r *Registry) Users() int {
	return len(r.byUser)
}
