// Package queue implements the durable task bridge on NATS JetStream.
//
// Tasks flow server -> task stream -> worker; results flow worker -> result
// stream -> server, where the result consumer feeds the same dispatcher the
// direct bridge uses. Consumers are durable with manual acks, so a worker
// crash mid-task leads to redelivery instead of a lost request.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dcstrange/websocket-push-system/internal/retry"
)

const (
	ackWait       = 30 * time.Second
	maxAckPending = 256
)

// Connect dials NATS with unlimited reconnects. RetryOnFailedConnect lets
// the process come up before the broker does.
func Connect(url, name string, reconnectWait time.Duration) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	return nc, js, nil
}

// StreamConfig names one stream and the subject it captures. The task
// stream uses work-queue retention (exactly one consumer takes each task);
// the result stream keeps limits-based retention so every server instance
// can run its own durable.
type StreamConfig struct {
	Name      string
	Subject   string
	WorkQueue bool
	MaxAge    time.Duration
}

// EnsureStreams creates the task and result streams if they do not exist.
// Stream creation races with other instances at startup, so it retries with
// a fixed backoff.
func EnsureStreams(ctx context.Context, js nats.JetStreamContext, streams ...StreamConfig) error {
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		Fixed:          true,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("stream provisioning retry", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	for _, stream := range streams {
		stream := stream
		err := retry.DoVoid(ctx, policy, nil, func() error {
			_, err := js.StreamInfo(stream.Name)
			if err == nil {
				return nil
			}
			if err != nats.ErrStreamNotFound {
				return fmt.Errorf("failed to look up stream %s: %w", stream.Name, err)
			}

			retention := nats.LimitsPolicy
			if stream.WorkQueue {
				retention = nats.WorkQueuePolicy
			}
			_, err = js.AddStream(&nats.StreamConfig{
				Name:      stream.Name,
				Subjects:  []string{stream.Subject},
				Retention: retention,
				Storage:   nats.FileStorage,
				MaxAge:    stream.MaxAge,
			})
			if err != nil {
				return fmt.Errorf("failed to create stream %s: %w", stream.Name, err)
			}
			slog.Info("stream created", "stream", stream.Name, "subject", stream.Subject)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
