package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dcstrange/websocket-push-system/internal/config"
	"github.com/dcstrange/websocket-push-system/internal/logging"
	"github.com/dcstrange/websocket-push-system/internal/queue"
	"github.com/dcstrange/websocket-push-system/internal/taskstore"
	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

func setupTaskStore(cfg *config.Config) (taskstore.Store, func()) {
	if cfg.RedisURL == "" {
		// Without Redis the server cannot observe worker-side status updates.
		slog.Warn("No REDIS_URL configured, task status is only visible inside this worker")
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

func main() {
	clock := clockwork.NewRealClock()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Worker starting", "env", cfg.AppEnv, "task_subject", cfg.TaskSubject)

	store, closeStore := setupTaskStore(cfg)
	defer closeStore()

	nc, js, err := queue.Connect(cfg.NATSServers, cfg.NATSName+"-worker", cfg.NATSReconnectWait)
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := nc.Drain(); err != nil {
			slog.Warn("Failed to drain NATS connection", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = queue.EnsureStreams(ctx, js,
		queue.StreamConfig{Name: cfg.TaskStream, Subject: cfg.TaskSubject, WorkQueue: true},
		queue.StreamConfig{Name: cfg.ResultStream, Subject: cfg.ResultSubject, MaxAge: time.Hour},
	)
	cancel()
	if err != nil {
		slog.Error("Failed to provision streams", "error", err)
		os.Exit(1)
	}

	runner := tasks.NewRunner(store, clock, cfg.TaskBatchSize, cfg.TaskProcessingDelay)
	worker := queue.NewWorker(js, runner, cfg.TaskSubject, cfg.ResultSubject, cfg.WorkerDurable)

	runCtx, stopRun := context.WithCancel(context.Background())
	if err := worker.Start(runCtx); err != nil {
		slog.Error("Failed to start worker", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutdown signal received, draining...")
	worker.Stop()
	stopRun()
}
