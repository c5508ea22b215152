package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dcstrange/websocket-push-system/internal/auth"
	"github.com/dcstrange/websocket-push-system/internal/config"
	"github.com/dcstrange/websocket-push-system/internal/correlator"
	"github.com/dcstrange/websocket-push-system/internal/database"
	"github.com/dcstrange/websocket-push-system/internal/hub"
	"github.com/dcstrange/websocket-push-system/internal/tasks"
	"github.com/dcstrange/websocket-push-system/internal/taskstore"
)

// ReadyCheck is one dependency probe for the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies carries everything the handlers need. Interfaces where a test
// substitutes, concrete types where only one implementation exists.
type Dependencies struct {
	Hub         *hub.Hub
	Verifier    auth.Verifier
	Issuer      auth.Issuer
	Users       database.Authenticator
	Correlator  *correlator.Correlator
	Bridge      tasks.Bridge
	Tasks       taskstore.Store
	Clock       clockwork.Clock
	ReadyChecks []ReadyCheck
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	deps      Dependencies
	limits    *ConnectionLimits
	startTime time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	if cfg.AppEnv != "production" {
		e.Use(middleware.Logger())
	}

	srv := &Server{
		echo:   e,
		config: cfg,
		deps:   deps,
		limits: NewConnectionLimits(
			cfg.MaxConnections,
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionRate,
			cfg.ConnectionBurst,
		),
		startTime: deps.Clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
