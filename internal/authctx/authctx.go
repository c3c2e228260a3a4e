// Package authctx holds per-request payment authorization state between
// validation and settlement. Contexts are keyed by message id when the
// request arrives and migrated to the task id once one is known, so that
// settlement after task completion can find the bearer token again.
package authctx

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when no context exists for the given keys.
	ErrNotFound = errors.New("authctx: context not found")
)

// Validation is the outcome of payment validation, carried alongside the
// credentials that produced it.
type Validation struct {
	PlanID            string
	PlanIDs           []string
	SubscriberAddress string
	Scheme            string
	AgentRequestID    string
}

// Context is the authorization state for one in-flight request.
type Context struct {
	BearerToken  string
	URLRequested string
	HTTPMethod   string
	Validation   *Validation
}

// Store keeps authorization contexts for in-flight requests. All methods
// are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	byMessage map[string]*Context
	byTask    map[string]*Context
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byMessage: make(map[string]*Context),
		byTask:    make(map[string]*Context),
	}
}

// SetForMessage binds a context to a message id.
func (s *Store) SetForMessage(messageID string, c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMessage[messageID] = c
}

// SetForTask binds a context to a task id.
func (s *Store) SetForTask(taskID string, c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTask[taskID] = c
}

// Get resolves a context, preferring the task binding over the message
// binding. Either key may be empty.
func (s *Store) Get(taskID, messageID string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if taskID != "" {
		if c, ok := s.byTask[taskID]; ok {
			return c, nil
		}
	}
	if messageID != "" {
		if c, ok := s.byMessage[messageID]; ok {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

// Migrate atomically moves a message binding to a task binding. It is a
// no-op if the message has no context.
func (s *Store) Migrate(messageID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byMessage[messageID]
	if !ok {
		return
	}
	delete(s.byMessage, messageID)
	s.byTask[taskID] = c
}

// DeleteForMessage removes a message binding.
func (s *Store) DeleteForMessage(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byMessage, messageID)
}

// DeleteForTask removes a task binding.
func (s *Store) DeleteForTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTask, taskID)
}
