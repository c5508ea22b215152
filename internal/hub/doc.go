// Package hub implements the connection hub using the actor pattern.
//
// A single goroutine owns the connection registry and processes commands from
// a channel (no mutexes). Per-connection write goroutines absorb slow clients
// and emit the server-side liveness probe; a sweep ticker terminates
// connections that have shown no traffic within the heartbeat window.
package hub
