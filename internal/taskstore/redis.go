// Package taskstore persists task status so clients can poll progress out of
// band. The Redis store is shared between server and worker in the queued
// variant; the memory store backs single-process and demo deployments.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

// ErrNotFound is returned when no task exists for the given id.
var ErrNotFound = errors.New("task not found")

// Record is the stored view of a task's lifecycle.
type Record struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	RequestID string       `json:"requestId"`
	DataType  string       `json:"dataType"`
	Status    tasks.Status `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Store extends tasks.StatusStore with the read side used by the HTTP API.
type Store interface {
	tasks.StatusStore
	Get(ctx context.Context, taskID string) (*Record, error)
}

const recordTTL = 24 * time.Hour

// RedisStore keeps one hash per task under "task:<id>", expiring after a day.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a store from a Redis URL (e.g., "redis://localhost:6379")
// and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Create(ctx context.Context, task *tasks.Task) error {
	key := taskKey(task.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"id":        task.ID,
		"userId":    task.UserID,
		"requestId": task.RequestID,
		"dataType":  task.DataType,
		"status":    string(tasks.StatusPending),
		"createdAt": task.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": task.CreatedAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, recordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}
	return nil
}

func (s *RedisStore) SetStatus(ctx context.Context, taskID string, status tasks.Status, at time.Time) error {
	err := s.rdb.HSet(ctx, taskKey(taskID), map[string]any{
		"status":    string(status),
		"updatedAt": at.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, taskKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		ID:        fields["id"],
		UserID:    fields["userId"],
		RequestID: fields["requestId"],
		DataType:  fields["dataType"],
		Status:    tasks.Status(fields["status"]),
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["createdAt"]); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updatedAt"]); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func taskKey(taskID string) string {
	return "task:" + taskID
}
