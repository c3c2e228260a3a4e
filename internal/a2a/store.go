package a2a

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrTaskNotFound is returned when no task exists for an id.
	ErrTaskNotFound = errors.New("a2a: task not found")
)

// Store persists task state.
type Store interface {
	Save(ctx context.Context, task *Task) error
	Get(ctx context.Context, taskID string) (*Task, error)
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Save upserts a task.
func (s *MemoryStore) Save(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// Get returns a copy of the stored task.
func (s *MemoryStore) Get(_ context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return copyTask(t), nil
}
