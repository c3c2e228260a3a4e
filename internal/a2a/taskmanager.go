package a2a

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrTaskIDMismatch is returned when an event carries a task id other
	// than the one the manager was created for.
	ErrTaskIDMismatch = errors.New("a2a: event task id mismatch")
)

// TaskManager folds a task's event stream into its persisted state.
type TaskManager struct {
	taskID    string
	contextID string
	store     Store
	logger    *slog.Logger

	mu   sync.Mutex
	task *Task
}

// NewTaskManager creates a manager for one task. current may be nil for a
// task that has no persisted state yet.
func NewTaskManager(taskID, contextID string, store Store, current *Task, logger *slog.Logger) *TaskManager {
	return &TaskManager{
		taskID:    taskID,
		contextID: contextID,
		store:     store,
		logger:    logger,
		task:      current,
	}
}

// TaskID returns the id the manager tracks.
func (m *TaskManager) TaskID() string { return m.taskID }

// Process applies one event to the tracked task and persists the result.
// Message events pass through untouched.
func (m *TaskManager) Process(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case *Task:
		if e.ID != m.taskID {
			return fmt.Errorf("%w: got %s want %s", ErrTaskIDMismatch, e.ID, m.taskID)
		}
		m.mu.Lock()
		m.task = copyTask(e)
		m.mu.Unlock()
		return m.save(ctx)
	case *TaskStatusUpdateEvent:
		if e.TaskID != m.taskID {
			return fmt.Errorf("%w: got %s want %s", ErrTaskIDMismatch, e.TaskID, m.taskID)
		}
		m.mu.Lock()
		if m.task == nil {
			m.task = &Task{Kind: KindTask, ID: m.taskID, ContextID: m.contextID}
		}
		m.task.Status = e.Status
		if m.task.Status.Timestamp == "" {
			m.task.Status.Timestamp = time.Now().UTC().Format(time.RFC3339)
		}
		if e.Status.Message != nil {
			m.task.History = append(m.task.History, e.Status.Message)
		}
		if len(e.Metadata) > 0 {
			if m.task.Metadata == nil {
				m.task.Metadata = make(map[string]any, len(e.Metadata))
			}
			for k, v := range e.Metadata {
				m.task.Metadata[k] = v
			}
		}
		m.mu.Unlock()
		return m.save(ctx)
	case *Message:
		return nil
	}
	return nil
}

// Snapshot returns a copy of the current task state, or nil if no task event
// has been seen yet.
func (m *TaskManager) Snapshot() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTask(m.task)
}

func (m *TaskManager) save(ctx context.Context) error {
	m.mu.Lock()
	t := copyTask(m.task)
	m.mu.Unlock()
	if t == nil {
		return nil
	}
	if err := m.store.Save(ctx, t); err != nil {
		m.logger.Warn("task save failed", "task_id", m.taskID, "error", err)
		return err
	}
	return nil
}

func copyTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.History = append([]*Message(nil), t.History...)
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
