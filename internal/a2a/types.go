// Package a2a implements the task protocol the gateway fronts: message and
// task types, the per-task event queue, event consumption, result
// aggregation, and the execution engine that runs agent logic as a producer
// goroutine feeding the queue.
package a2a

// Event kinds as they appear on the wire.
const (
	KindMessage      = "message"
	KindTask         = "task"
	KindStatusUpdate = "status-update"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	StateSubmitted     TaskState = "submitted"
	StateWorking       TaskState = "working"
	StateInputRequired TaskState = "input-required"
	StateCompleted     TaskState = "completed"
	StateFailed        TaskState = "failed"
	StateCanceled      TaskState = "canceled"
	StateRejected      TaskState = "rejected"
)

// IsTerminal reports whether the state is final: no further status changes
// will be emitted for the task.
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateRejected:
		return true
	}
	return false
}

// Part is one piece of message content.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Message is a single exchange between caller and agent.
type Message struct {
	Kind      string         `json:"kind"`
	MessageID string         `json:"messageId"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatus is the current status of a task.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Task is the aggregated view of one unit of agent work.
type Task struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	ContextID string         `json:"contextId,omitempty"`
	Status    TaskStatus     `json:"status"`
	History   []*Message     `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatusUpdateEvent signals a task status transition. When Final is true
// the task will emit no further updates; metadata may then carry the metered
// credit usage.
type TaskStatusUpdateEvent struct {
	Kind      string         `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId,omitempty"`
	Status    TaskStatus     `json:"status"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Event is anything that can travel the task event queue: *Message, *Task,
// or *TaskStatusUpdateEvent.
type Event interface {
	EventKind() string
}

func (m *Message) EventKind() string               { return KindMessage }
func (t *Task) EventKind() string                  { return KindTask }
func (e *TaskStatusUpdateEvent) EventKind() string { return KindStatusUpdate }

// CreditsUsed returns the metered credit usage attached to a terminal event,
// if present. JSON numbers arrive as float64; integers as written by in-proc
// executors are handled too.
func (e *TaskStatusUpdateEvent) CreditsUsed() (int64, bool) {
	if e.Metadata == nil {
		return 0, false
	}
	switch v := e.Metadata["creditsUsed"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// AgentRequestID returns the correlation id carried on event metadata, if any.
func (e *TaskStatusUpdateEvent) AgentRequestID() string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["agentRequestId"].(string); ok {
		return v
	}
	return ""
}

// SendParams are the parameters of a message/send or message/stream call.
type SendParams struct {
	Message       *Message           `json:"message"`
	Configuration *SendConfiguration `json:"configuration,omitempty"`
}

// SendConfiguration tunes how a send call behaves.
type SendConfiguration struct {
	// Blocking controls whether the call waits for the task to finish.
	// Nil means blocking.
	Blocking *bool `json:"blocking,omitempty"`
}

// Blocking resolves the effective blocking mode for the call.
func (p *SendParams) Blocking() bool {
	if p.Configuration != nil && p.Configuration.Blocking != nil {
		return *p.Configuration.Blocking
	}
	return true
}
