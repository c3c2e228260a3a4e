package pushnotify

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrConfigNotFound is returned when no webhook is registered for a task.
	ErrConfigNotFound = errors.New("pushnotify: config not found")
)

// ConfigStore persists webhook registrations per task.
type ConfigStore interface {
	Set(ctx context.Context, cfg *Config) error
	Get(ctx context.Context, taskID string) (*Config, error)
	Delete(ctx context.Context, taskID string) error
}

// MemoryConfigStore is an in-memory ConfigStore.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewMemoryConfigStore creates an empty store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]*Config)}
}

func (s *MemoryConfigStore) Set(_ context.Context, cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	s.configs[cfg.TaskID] = &c
	return nil
}

func (s *MemoryConfigStore) Get(_ context.Context, taskID string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[taskID]
	if !ok {
		return nil, ErrConfigNotFound
	}
	c := *cfg
	return &c, nil
}

func (s *MemoryConfigStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, taskID)
	return nil
}
