package a2a

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned once a queue has been closed and drained.
	ErrQueueClosed = errors.New("a2a: event queue closed")
)

const defaultQueueSize = 256

// EventQueue is the bounded event channel between a task's producer and its
// consumers. Close is idempotent; enqueues after Close fail with
// ErrQueueClosed rather than panicking.
type EventQueue struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

// NewEventQueue creates a queue with the default buffer size.
func NewEventQueue() *EventQueue {
	return &EventQueue{ch: make(chan Event, defaultQueueSize)}
}

// Enqueue delivers an event to the queue, blocking while the buffer is full.
func (q *EventQueue) Enqueue(ctx context.Context, ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the next event. Once the queue is closed and empty it
// returns ErrQueueClosed.
func (q *EventQueue) Dequeue(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the queue closed. Buffered events remain readable.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// QueueManager owns the event queues of in-flight tasks.
type QueueManager struct {
	mu     sync.Mutex
	queues map[string]*EventQueue
}

// NewQueueManager creates an empty manager.
func NewQueueManager() *QueueManager {
	return &QueueManager{queues: make(map[string]*EventQueue)}
}

// Tap returns the queue for a task, creating it if needed.
func (m *QueueManager) Tap(taskID string) *EventQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[taskID]
	if !ok {
		q = NewEventQueue()
		m.queues[taskID] = q
	}
	return q
}

// Get returns the queue for a task if one exists.
func (m *QueueManager) Get(taskID string) (*EventQueue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[taskID]
	return q, ok
}

// Close closes a task's queue and releases it from the manager.
func (m *QueueManager) Close(taskID string) {
	m.mu.Lock()
	q, ok := m.queues[taskID]
	delete(m.queues, taskID)
	m.mu.Unlock()
	if ok {
		q.Close()
	}
}
