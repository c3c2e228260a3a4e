package a2a

import (
	"context"
	"time"
)

// ExecutorFunc adapts a function to AgentExecutor.
type ExecutorFunc func(ctx context.Context, rc *RequestContext, queue *EventQueue) error

func (f ExecutorFunc) Execute(ctx context.Context, rc *RequestContext, queue *EventQueue) error {
	return f(ctx, rc, queue)
}

// HandlerResponse is what a handler-style agent returns for one message.
type HandlerResponse struct {
	Text        string
	CreditsUsed int64
	Metadata    map[string]any
}

// HandlerExecutor wraps a plain request/response handler in the full task
// lifecycle: it publishes the submitted task, a working update, then a final
// completed or failed update carrying the metered credit usage.
type HandlerExecutor struct {
	handler        func(ctx context.Context, rc *RequestContext) (*HandlerResponse, error)
	defaultCredits int64
}

// NewHandlerExecutor creates an executor around a handler. defaultCredits is
// used when the handler reports no usage of its own.
func NewHandlerExecutor(handler func(ctx context.Context, rc *RequestContext) (*HandlerResponse, error), defaultCredits int64) *HandlerExecutor {
	return &HandlerExecutor{handler: handler, defaultCredits: defaultCredits}
}

func (h *HandlerExecutor) Execute(ctx context.Context, rc *RequestContext, queue *EventQueue) error {
	now := func() string { return time.Now().UTC().Format(time.RFC3339) }

	if rc.CurrentTask == nil {
		if err := queue.Enqueue(ctx, &Task{
			Kind:      KindTask,
			ID:        rc.TaskID,
			ContextID: rc.ContextID,
			Status:    TaskStatus{State: StateSubmitted, Timestamp: now()},
			History:   []*Message{rc.Message},
		}); err != nil {
			return err
		}
	}

	if err := queue.Enqueue(ctx, &TaskStatusUpdateEvent{
		Kind:      KindStatusUpdate,
		TaskID:    rc.TaskID,
		ContextID: rc.ContextID,
		Status:    TaskStatus{State: StateWorking, Timestamp: now()},
	}); err != nil {
		return err
	}

	resp, err := h.handler(ctx, rc)
	if err != nil {
		return queue.Enqueue(ctx, &TaskStatusUpdateEvent{
			Kind:      KindStatusUpdate,
			TaskID:    rc.TaskID,
			ContextID: rc.ContextID,
			Status: TaskStatus{
				State:     StateFailed,
				Timestamp: now(),
				Message: &Message{
					Kind:      KindMessage,
					MessageID: rc.TaskID + "-error",
					TaskID:    rc.TaskID,
					Role:      "agent",
					Parts:     []Part{{Kind: "text", Text: err.Error()}},
				},
			},
			Final: true,
		})
	}

	credits := resp.CreditsUsed
	if credits == 0 {
		credits = h.defaultCredits
	}
	metadata := map[string]any{"creditsUsed": credits}
	for k, v := range resp.Metadata {
		metadata[k] = v
	}

	return queue.Enqueue(ctx, &TaskStatusUpdateEvent{
		Kind:      KindStatusUpdate,
		TaskID:    rc.TaskID,
		ContextID: rc.ContextID,
		Status: TaskStatus{
			State:     StateCompleted,
			Timestamp: now(),
			Message: &Message{
				Kind:      KindMessage,
				MessageID: rc.TaskID + "-result",
				TaskID:    rc.TaskID,
				Role:      "agent",
				Parts:     []Part{{Kind: "text", Text: resp.Text}},
			},
		},
		Final:    true,
		Metadata: metadata,
	})
}
