package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dcstrange/websocket-push-system/internal/correlator"
	"github.com/dcstrange/websocket-push-system/internal/hub"
	"github.com/dcstrange/websocket-push-system/internal/metrics"
	"github.com/dcstrange/websocket-push-system/internal/protocol"
	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // browser clients connect from arbitrary origins
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		slog.Warn("Connection rejected", "ip", ip, "reason", reason)
		if reason == LimitReasonGlobal {
			return c.String(http.StatusServiceUnavailable, "Server at capacity")
		}
		return c.String(http.StatusTooManyRequests, "Too many connections")
	}
	defer s.limits.Release(ip)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}

	conn := s.deps.Hub.Attach(ws)
	if conn == nil {
		_ = ws.Close()
		return nil
	}

	s.deps.Hub.SendToConnection(conn.ID(), protocol.MustEncode(protocol.NewWelcome(conn.ID().String())))

	s.readPump(c.Request().Context(), conn, ws)

	// Detach triggers the disconnect hook, which cancels this connection's
	// pending correlations.
	s.deps.Hub.Detach(conn.ID())
	return nil
}

// readPump processes inbound frames until the socket closes. It runs on the
// request goroutine; all writes go through the hub so the per-connection
// writer stays the only goroutine touching the socket's write side.
func (s *Server) readPump(ctx context.Context, conn *hub.Connection, ws *websocket.Conn) {
	var userID string

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Read pump closed", "conn_id", conn.ID().String(), "error", err)
			}
			return
		}

		// Any inbound frame proves liveness, valid or not.
		conn.Touch(s.deps.Clock.Now())

		frame, err := protocol.Decode(data)
		if err != nil {
			s.sendError(conn, "", decodeErrorMessage(err))
			continue
		}

		switch f := frame.(type) {
		case protocol.Auth:
			userID = s.handleAuthFrame(conn, f, userID)
		case protocol.Ping:
			s.deps.Hub.SendToConnection(conn.ID(),
				protocol.MustEncode(protocol.NewPong(s.deps.Clock.Now().UnixMilli(), f.Timestamp)))
		case protocol.Pong:
			// Touch above already recorded liveness.
		case protocol.RequestData:
			s.handleRequestDataFrame(ctx, conn, f, userID)
		default:
			// Server-to-client frame types echoed back by a confused peer.
			s.sendError(conn, "", "unexpected frame type")
		}
	}
}

// handleAuthFrame verifies the token and binds the connection. Returns the
// user id the pump should carry forward; a failed attempt keeps the previous
// binding and the connection stays open.
func (s *Server) handleAuthFrame(conn *hub.Connection, f protocol.Auth, current string) string {
	verified, err := s.deps.Verifier.Verify(f.Token)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		s.deps.Hub.SendToConnection(conn.ID(),
			protocol.MustEncode(protocol.NewAuthFailure("invalid token")))
		return current
	}

	if err := s.deps.Hub.Authenticate(conn.ID(), verified); err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		slog.Warn("Authentication rejected", "conn_id", conn.ID().String(), "error", err)
		s.deps.Hub.SendToConnection(conn.ID(),
			protocol.MustEncode(protocol.NewAuthFailure("authentication rejected")))
		return current
	}

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	s.deps.Hub.SendToConnection(conn.ID(),
		protocol.MustEncode(protocol.NewAuthSuccess(verified)))
	return verified
}

func (s *Server) handleRequestDataFrame(ctx context.Context, conn *hub.Connection, f protocol.RequestData, userID string) {
	if userID == "" {
		s.sendError(conn, f.RequestID, "authentication required")
		return
	}

	err := s.deps.Correlator.Begin(f.RequestID, conn.ID(), userID, true)
	if errors.Is(err, correlator.ErrDuplicateRequest) {
		s.sendError(conn, f.RequestID, "request id already in flight")
		return
	}

	task := tasks.NewTask(userID, f.RequestID, f.DataType, f.Params, s.deps.Clock.Now())
	if err := s.deps.Bridge.Submit(ctx, task); err != nil {
		slog.Error("Task submission failed", "request_id", f.RequestID, "error", err)
		s.deps.Correlator.Error(f.RequestID)
		s.sendError(conn, f.RequestID, "failed to submit request")
		return
	}

	slog.Debug("Request submitted", "request_id", f.RequestID, "user_id", userID, "data_type", f.DataType)
}

func (s *Server) sendError(conn *hub.Connection, requestID, message string) {
	s.deps.Hub.SendToConnection(conn.ID(),
		protocol.MustEncode(protocol.NewError(requestID, message)))
}

func decodeErrorMessage(err error) string {
	var unknown *protocol.UnknownTypeError
	if errors.As(err, &unknown) {
		return unknown.Error()
	}
	return "malformed frame"
}
