// Package server exposes the HTTP boundary: the login endpoint, the
// websocket upgrade with its read pump, task status lookup, and the
// observability endpoints. Frame handling is intentionally thin; connection
// state lives in the hub and correlation state in the correlator.
package server
