package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Login exchanges credentials for a bearer token
	s.echo.POST("/api/login", s.handleLogin)

	// Task status lookup (bearer token, owner only)
	s.echo.GET("/api/tasks/:id", s.handleTaskStatus, s.requireBearer)

	// WebSocket endpoint; frame-level auth happens inside the connection
	s.echo.GET("/ws", s.handleWebSocket)
}
