// Package tasks models backend work units and executes them.
//
// The Runner simulates the task backend: it walks a generated dataset and
// emits incremental result batches. Both submission bridge variants reuse it,
// in-process for the direct variant and inside the worker for the queued one.
package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dcstrange/websocket-push-system/internal/protocol"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Task is one unit of backend work. The connection-serving side never
// mutates a task after handoff; it only matches results back by request id.
type Task struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	RequestID string         `json:"requestId"`
	DataType  string         `json:"dataType"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewTask creates a task with a fresh id for a client request.
func NewTask(userID, requestID, dataType string, params map[string]any, now time.Time) *Task {
	return &Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		RequestID: requestID,
		DataType:  dataType,
		Params:    params,
		CreatedAt: now,
	}
}

type ResultKind string

const (
	ResultAccepted ResultKind = "accepted"
	ResultData     ResultKind = "data"
	ResultError    ResultKind = "error"
)

// Result is one message produced by task execution, keyed by the request id
// embedded at submission. It is what flows back into the dispatcher, either
// via direct callback or through the result queue.
type Result struct {
	Kind      ResultKind      `json:"kind"`
	RequestID string          `json:"requestId"`
	UserID    string          `json:"userId"`
	TaskID    string          `json:"taskId"`
	Message   string          `json:"message,omitempty"`
	Batch     *protocol.Batch `json:"batch,omitempty"`
}

// Bridge hands a task to the execution backend. Submit returns once the task
// has been accepted; results arrive asynchronously through the result source.
type Bridge interface {
	Submit(ctx context.Context, task *Task) error
}

// StatusStore records task lifecycle transitions. Implementations live in
// internal/taskstore.
type StatusStore interface {
	Create(ctx context.Context, task *Task) error
	SetStatus(ctx context.Context, taskID string, status Status, at time.Time) error
}
