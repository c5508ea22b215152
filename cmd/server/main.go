package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dcstrange/websocket-push-system/internal/auth"
	"github.com/dcstrange/websocket-push-system/internal/config"
	"github.com/dcstrange/websocket-push-system/internal/correlator"
	"github.com/dcstrange/websocket-push-system/internal/database"
	"github.com/dcstrange/websocket-push-system/internal/dispatch"
	"github.com/dcstrange/websocket-push-system/internal/hub"
	"github.com/dcstrange/websocket-push-system/internal/logging"
	"github.com/dcstrange/websocket-push-system/internal/queue"
	"github.com/dcstrange/websocket-push-system/internal/server"
	"github.com/dcstrange/websocket-push-system/internal/taskstore"
	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupUsers(cfg *config.Config, hasher *database.Hasher) (database.Authenticator, []server.ReadyCheck, func()) {
	if cfg.DatabaseURL == "" {
		slog.Info("No DATABASE_URL configured, using in-memory demo users")
		return database.NewMemoryUserRepo(hasher), nil, func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	checks := []server.ReadyCheck{{Name: "postgres", Check: db.HealthCheck}}
	return database.NewUserRepo(db, hasher), checks, db.Close
}

func setupTaskStore(cfg *config.Config) (taskstore.Store, func()) {
	if cfg.RedisURL == "" {
		slog.Info("No REDIS_URL configured, using in-memory task store")
		return taskstore.NewMemoryStore(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := taskstore.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return store, func() { _ = store.Close() }
}

// setupQueueBridge wires the durable variant: tasks out to the broker,
// results back in through the dispatcher.
func setupQueueBridge(cfg *config.Config, dispatcher *dispatch.Dispatcher) (tasks.Bridge, []server.ReadyCheck, func()) {
	nc, js, err := queue.Connect(cfg.NATSServers, cfg.NATSName, cfg.NATSReconnectWait)
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = queue.EnsureStreams(ctx, js,
		queue.StreamConfig{Name: cfg.TaskStream, Subject: cfg.TaskSubject, WorkQueue: true},
		queue.StreamConfig{Name: cfg.ResultStream, Subject: cfg.ResultSubject, MaxAge: time.Hour},
	)
	if err != nil {
		slog.Error("Failed to provision streams", "error", err)
		os.Exit(1)
	}

	results := queue.NewResultConsumer(js, cfg.ResultSubject, cfg.ResultDurable, dispatcher.HandleResult)
	if err := results.Start(); err != nil {
		slog.Error("Failed to start result consumer", "error", err)
		os.Exit(1)
	}

	checks := []server.ReadyCheck{{
		Name: "nats",
		Check: func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats connection down")
			}
			return nil
		},
	}}

	cleanup := func() {
		results.Stop()
		if err := nc.Drain(); err != nil {
			slog.Warn("Failed to drain NATS connection", "error", err)
		}
	}
	return queue.NewBridge(js, cfg.TaskSubject), checks, cleanup
}

func runGracefulShutdown(srv *server.Server, h *hub.Hub, cleanups []func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		h.Stop()
		for _, cleanup := range cleanups {
			cleanup()
		}
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "result_source", cfg.ResultSource)

	hasher, err := database.NewHasher(cfg.AuthSecret)
	if err != nil {
		slog.Error("Failed to create hasher", "error", err)
		os.Exit(1)
	}

	users, userChecks, closeUsers := setupUsers(cfg, hasher)
	store, closeStore := setupTaskStore(cfg)

	authSvc := auth.NewService(cfg.AuthSecret, cfg.TokenTTL, clock)
	corr := correlator.New(cfg.StrictRequestIDs)

	h := hub.New(hub.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	}, clock, func(connID uuid.UUID) {
		if n := corr.CancelAllFor(connID); n > 0 {
			slog.Debug("Cancelled pending requests on disconnect", "conn_id", connID.String(), "count", n)
		}
	})

	dispatcher := dispatch.New(h, corr)

	var (
		bridge      tasks.Bridge
		queueChecks []server.ReadyCheck
		cleanups    = []func(){closeStore, closeUsers}
	)
	switch cfg.ResultSource {
	case config.ResultSourceQueue:
		var cleanup func()
		bridge, queueChecks, cleanup = setupQueueBridge(cfg, dispatcher)
		cleanups = append([]func(){cleanup}, cleanups...)
	default:
		runner := tasks.NewRunner(store, clock, cfg.TaskBatchSize, cfg.TaskProcessingDelay)
		bridge = tasks.NewDirectBridge(runner, dispatcher.HandleResult)
	}

	srv := server.NewServer(cfg, server.Dependencies{
		Hub:         h,
		Verifier:    authSvc,
		Issuer:      authSvc,
		Users:       users,
		Correlator:  corr,
		Bridge:      bridge,
		Tasks:       store,
		Clock:       clock,
		ReadyChecks: append(userChecks, queueChecks...),
	})

	done := runGracefulShutdown(srv, h, cleanups)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
