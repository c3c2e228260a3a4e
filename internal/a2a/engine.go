package a2a

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/taskgate/internal/idgen"
)

// AgentExecutor is the agent logic the engine runs. Execute publishes events
// to the queue as the task progresses and returns once no more events will
// be produced.
type AgentExecutor interface {
	Execute(ctx context.Context, rc *RequestContext, queue *EventQueue) error
}

// RequestContext carries everything an executor needs about one call.
type RequestContext struct {
	TaskID      string
	ContextID   string
	Message     *Message
	CurrentTask *Task
}

// Producer tracks an executor goroutine.
type Producer struct {
	done chan struct{}
	err  error
}

// Done is closed once the executor has finished and its queue is closed.
func (p *Producer) Done() <-chan struct{} { return p.done }

// Wait blocks until the producer finishes or ctx is done.
func (p *Producer) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execution is everything wired up for one send call: the task's queue, the
// manager and aggregator folding its events, and the already-running
// producer goroutine.
type Execution struct {
	TaskID     string
	Manager    *TaskManager
	Queue      *EventQueue
	Aggregator *ResultAggregator
	Producer   *Producer
}

// Engine runs agent executions. Each send call gets a producer goroutine
// feeding the task's event queue; the caller consumes the queue through the
// execution's aggregator.
type Engine struct {
	executor   AgentExecutor
	queues     *QueueManager
	store      Store
	logger     *slog.Logger
	flushDelay time.Duration
}

// NewEngine creates an engine over an executor and task store.
func NewEngine(executor AgentExecutor, store Store, logger *slog.Logger) *Engine {
	return &Engine{
		executor:   executor,
		queues:     NewQueueManager(),
		store:      store,
		logger:     logger,
		flushDelay: 50 * time.Millisecond,
	}
}

// WithFlushDelay sets how long the engine waits after the executor returns
// before closing the queue, letting trailing goroutine events land.
func (e *Engine) WithFlushDelay(d time.Duration) *Engine {
	e.flushDelay = d
	return e
}

// SetupExecution starts the producer for one send call and returns the
// wiring the caller consumes it through. The message's TaskID must already
// be assigned.
func (e *Engine) SetupExecution(ctx context.Context, params *SendParams) (*Execution, error) {
	msg := params.Message
	taskID := msg.TaskID
	contextID := msg.ContextID
	if contextID == "" {
		contextID = idgen.WithPrefix("ctx_")
		msg.ContextID = contextID
	}

	current, err := e.store.Get(ctx, taskID)
	if err != nil && err != ErrTaskNotFound {
		return nil, err
	}

	queue := e.queues.Tap(taskID)
	manager := NewTaskManager(taskID, contextID, e.store, current, e.logger)
	producer := &Producer{done: make(chan struct{})}

	rc := &RequestContext{
		TaskID:      taskID,
		ContextID:   contextID,
		Message:     msg,
		CurrentTask: current,
	}

	// The producer outlives the request: a disconnecting caller must not
	// cancel agent work in flight.
	execCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(producer.done)
		if err := e.executor.Execute(execCtx, rc, queue); err != nil {
			producer.err = err
			e.logger.Error("executor failed", "task_id", taskID, "error", err)
		}
		time.Sleep(e.flushDelay)
		queue.Close()
	}()

	return &Execution{
		TaskID:     taskID,
		Manager:    manager,
		Queue:      queue,
		Aggregator: NewResultAggregator(manager, e.logger),
		Producer:   producer,
	}, nil
}

// ReleaseQueue closes and drops a task's queue.
func (e *Engine) ReleaseQueue(taskID string) {
	e.queues.Close(taskID)
}

// Store exposes the engine's task store for read paths.
func (e *Engine) Store() Store { return e.store }
