package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dcstrange/websocket-push-system/internal/metrics"
	"github.com/dcstrange/websocket-push-system/internal/protocol"
)

// Runner executes a task against the simulated backend and streams results
// through the emit callback. Execution is cancelled only through ctx; emit
// errors abort the run so queued variants can trigger redelivery.
type Runner struct {
	store     StatusStore
	clock     clockwork.Clock
	batchSize int
	delay     time.Duration
}

func NewRunner(store StatusStore, clock clockwork.Clock, batchSize int, delay time.Duration) *Runner {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Runner{
		store:     store,
		clock:     clock,
		batchSize: batchSize,
		delay:     delay,
	}
}

// Run drives a task from acceptance to its terminal result. Emitted batches
// are cumulative: ProcessedItems grows until the final batch reports
// TotalItems with IsFinal set. An unknown data type produces an error result
// and a nil return, since retrying it is pointless.
func (r *Runner) Run(ctx context.Context, task *Task, emit func(Result) error) error {
	started := r.clock.Now()
	if err := r.store.Create(ctx, task); err != nil {
		slog.Warn("recording task failed", "task_id", task.ID, "error", err)
	}

	if err := emit(Result{
		Kind:      ResultAccepted,
		RequestID: task.RequestID,
		UserID:    task.UserID,
		TaskID:    task.ID,
		Message:   fmt.Sprintf("processing %s request", task.DataType),
	}); err != nil {
		return fmt.Errorf("emitting acceptance: %w", err)
	}

	r.setStatus(ctx, task.ID, StatusProcessing)

	items, err := buildDataset(task.DataType, task.Params)
	if err != nil {
		r.setStatus(ctx, task.ID, StatusError)
		metrics.TaskErrorsTotal.Inc()
		if !errors.Is(err, ErrUnknownDataType) {
			return fmt.Errorf("building dataset: %w", err)
		}
		return emit(Result{
			Kind:      ResultError,
			RequestID: task.RequestID,
			UserID:    task.UserID,
			TaskID:    task.ID,
			Message:   err.Error(),
		})
	}

	total := len(items)
	for start := 0; start < total; start += r.batchSize {
		select {
		case <-ctx.Done():
			r.setStatus(ctx, task.ID, StatusError)
			return ctx.Err()
		case <-r.clock.After(r.delay):
		}

		end := min(start+r.batchSize, total)
		batch := &protocol.Batch{
			TotalItems:     total,
			ProcessedItems: end,
			Progress:       math.Round(float64(end)/float64(total)*10000) / 100,
			IsFinal:        end == total,
			Results:        items[start:end],
		}
		if err := emit(Result{
			Kind:      ResultData,
			RequestID: task.RequestID,
			UserID:    task.UserID,
			TaskID:    task.ID,
			Batch:     batch,
		}); err != nil {
			return fmt.Errorf("emitting batch: %w", err)
		}
		metrics.TaskBatchesTotal.Inc()
	}

	r.setStatus(ctx, task.ID, StatusCompleted)
	metrics.TaskDuration.Observe(r.clock.Since(started).Seconds())
	return nil
}

func (r *Runner) setStatus(ctx context.Context, taskID string, status Status) {
	if err := r.store.SetStatus(ctx, taskID, status, r.clock.Now()); err != nil {
		slog.Warn("updating task status failed", "task_id", taskID, "status", status, "error", err)
	}
}
