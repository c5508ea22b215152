package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/dcstrange/websocket-push-system/internal/metrics"
	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

// Worker consumes tasks from the task stream, executes them, and publishes
// every result to the result stream. A task is acked only after its terminal
// result has been published; failures nak for redelivery.
type Worker struct {
	js            nats.JetStreamContext
	runner        *tasks.Runner
	taskSubject   string
	resultSubject string
	durable       string
	sub           *nats.Subscription
}

func NewWorker(js nats.JetStreamContext, runner *tasks.Runner, taskSubject, resultSubject, durable string) *Worker {
	return &Worker{
		js:            js,
		runner:        runner,
		taskSubject:   taskSubject,
		resultSubject: resultSubject,
		durable:       durable,
	}
}

// Start subscribes the durable consumer. Processing happens on the
// subscription callback; Stop drains it.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.js.QueueSubscribe(w.taskSubject, w.durable, func(msg *nats.Msg) {
		w.handle(ctx, msg)
	},
		nats.Durable(w.durable),
		nats.ManualAck(),
		nats.AckWait(ackWait),
		nats.MaxAckPending(maxAckPending),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to tasks: %w", err)
	}
	w.sub = sub
	slog.Info("worker consuming tasks", "subject", w.taskSubject, "durable", w.durable)
	return nil
}

func (w *Worker) Stop() {
	if w.sub != nil {
		if err := w.sub.Drain(); err != nil {
			slog.Warn("draining task subscription failed", "error", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	var task tasks.Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		// Poison message, redelivery cannot fix it.
		slog.Error("discarding undecodable task", "error", err)
		_ = msg.Ack()
		return
	}

	err := w.runner.Run(ctx, &task, func(res tasks.Result) error {
		return w.publishResult(ctx, res)
	})
	if err != nil {
		slog.Error("task execution failed, requesting redelivery",
			"task_id", task.ID, "request_id", task.RequestID, "error", err)
		metrics.QueueRedeliveriesTotal.Inc()
		_ = msg.Nak()
		return
	}

	if err := msg.Ack(); err != nil {
		slog.Warn("acking task failed", "task_id", task.ID, "error", err)
	}
}

func (w *Worker) publishResult(ctx context.Context, res tasks.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if _, err := w.js.Publish(w.resultSubject, data, nats.Context(ctx)); err != nil {
		metrics.QueuePublishErrorsTotal.Inc()
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}
