package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/dcstrange/websocket-push-system/internal/metrics"
	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

// Bridge publishes tasks to the task stream. The task id doubles as the
// message id, so broker-side deduplication absorbs publish retries.
type Bridge struct {
	js      nats.JetStreamContext
	subject string
}

func NewBridge(js nats.JetStreamContext, subject string) *Bridge {
	return &Bridge{js: js, subject: subject}
}

func (b *Bridge) Submit(ctx context.Context, task *tasks.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	_, err = b.js.Publish(b.subject, data, nats.MsgId(task.ID), nats.Context(ctx))
	if err != nil {
		metrics.QueuePublishErrorsTotal.Inc()
		return fmt.Errorf("failed to publish task: %w", err)
	}

	metrics.TasksSubmittedTotal.WithLabelValues("queue").Inc()
	return nil
}
