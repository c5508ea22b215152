package tasks

import (
	"context"
	"log/slog"

	"github.com/dcstrange/websocket-push-system/internal/metrics"
)

// DirectBridge runs tasks in-process. Each submission spawns a goroutine
// detached from the caller's context, so a task keeps producing results even
// when the submitting connection goes away; undeliverable results are the
// dispatcher's problem, not the runner's.
type DirectBridge struct {
	runner  *Runner
	deliver func(Result)
}

func NewDirectBridge(runner *Runner, deliver func(Result)) *DirectBridge {
	return &DirectBridge{runner: runner, deliver: deliver}
}

func (b *DirectBridge) Submit(_ context.Context, task *Task) error {
	metrics.TasksSubmittedTotal.WithLabelValues("direct").Inc()
	go func() {
		err := b.runner.Run(context.Background(), task, func(res Result) error {
			b.deliver(res)
			return nil
		})
		if err != nil {
			slog.Error("task execution failed", "task_id", task.ID, "request_id", task.RequestID, "error", err)
		}
	}()
	return nil
}
