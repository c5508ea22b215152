package taskstore

import (
	"context"
	"sync"
	"time"

	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

// MemoryStore keeps task records in process memory. It serves the direct
// variant and deployments without a Redis URL configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(_ context.Context, task *tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[task.ID] = &Record{
		ID:        task.ID,
		UserID:    task.UserID,
		RequestID: task.RequestID,
		DataType:  task.DataType,
		Status:    tasks.StatusPending,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.CreatedAt,
	}
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, taskID string, status tasks.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[taskID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = at
	return nil
}

func (s *MemoryStore) Get(_ context.Context, taskID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}
