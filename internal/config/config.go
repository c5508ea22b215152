package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// ResultSource selects how task results re-enter the dispatcher.
const (
	ResultSourceDirect = "direct"
	ResultSourceQueue  = "queue"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	AuthSecret string        `env:"AUTH_SECRET"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" default:"2h"`

	// Optional backing stores. When empty the server runs in demo mode with
	// in-memory replacements.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	ResultSource      string        `env:"RESULT_SOURCE" default:"direct"`
	NATSServers       string        `env:"NATS_SERVERS" default:"nats://127.0.0.1:4222"`
	NATSName          string        `env:"NATS_NAME" default:"push-server"`
	TaskSubject       string        `env:"TASK_SUBJECT" default:"push.tasks"`
	ResultSubject     string        `env:"RESULT_SUBJECT" default:"push.results"`
	TaskStream        string        `env:"TASK_STREAM" default:"PUSH_TASKS"`
	ResultStream      string        `env:"RESULT_STREAM" default:"PUSH_RESULTS"`
	WorkerDurable     string        `env:"WORKER_DURABLE" default:"push-worker"`
	ResultDurable     string        `env:"RESULT_DURABLE"`
	NATSReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" default:"2s"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" default:"60s"`

	MaxConnections      int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"10"`

	// StrictRequestIDs rejects a request_data whose requestId collides with an
	// outstanding correlation instead of overwriting it.
	StrictRequestIDs bool `env:"STRICT_REQUEST_IDS" default:"true"`

	TaskBatchSize       int           `env:"TASK_BATCH_SIZE" default:"25"`
	TaskProcessingDelay time.Duration `env:"TASK_PROCESSING_DELAY" default:"300ms"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.ResultDurable == "" {
		cfg.ResultDurable = defaultResultDurable()
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// defaultResultDurable derives a per-instance durable name. Every server
// instance needs its own durable on the result stream so each one sees every
// result; a shared name would split results across instances.
func defaultResultDurable() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid%d", os.Getpid())
	}
	return "push-results-" + sanitizeDurable(host)
}

// sanitizeDurable strips characters NATS forbids in durable names.
func sanitizeDurable(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ', '\t':
			return '-'
		}
		return r
	}, s)
}

func validate(cfg *Config) error {
	if cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}
	if len(cfg.AuthSecret) < 16 {
		return fmt.Errorf("AUTH_SECRET must be at least 16 characters")
	}

	switch cfg.ResultSource {
	case ResultSourceDirect, ResultSourceQueue:
	default:
		return fmt.Errorf("RESULT_SOURCE must be %q or %q, got %q", ResultSourceDirect, ResultSourceQueue, cfg.ResultSource)
	}

	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
	}
	// The timeout has to exceed the probe period, otherwise every connection
	// with the slightest jitter gets reaped.
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%v) must be greater than HEARTBEAT_INTERVAL (%v)", cfg.HeartbeatTimeout, cfg.HeartbeatInterval)
	}

	if cfg.TaskBatchSize <= 0 {
		return fmt.Errorf("TASK_BATCH_SIZE must be positive")
	}

	return nil
}
