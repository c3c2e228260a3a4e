package a2a

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoExecutor(credits int64) *HandlerExecutor {
	return NewHandlerExecutor(func(_ context.Context, rc *RequestContext) (*HandlerResponse, error) {
		text := ""
		if len(rc.Message.Parts) > 0 {
			text = rc.Message.Parts[0].Text
		}
		return &HandlerResponse{Text: "echo: " + text, CreditsUsed: credits}, nil
	}, 1)
}

func sendParams(taskID, text string) *SendParams {
	return &SendParams{
		Message: &Message{
			Kind:      KindMessage,
			MessageID: "msg-" + taskID,
			TaskID:    taskID,
			Role:      "user",
			Parts:     []Part{{Kind: "text", Text: text}},
		},
	}
}

func TestEngineBlockingExecution(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(echoExecutor(5), store, testLogger()).WithFlushDelay(time.Millisecond)

	ctx := context.Background()
	exec, err := engine.SetupExecution(ctx, sendParams("t1", "hello"))
	require.NoError(t, err)

	result, interrupted, err := exec.Aggregator.ConsumeAndBreakOnInterrupt(ctx, NewConsumer(exec.Queue), true)
	require.NoError(t, err)
	assert.False(t, interrupted)

	task := result.(*Task)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, StateCompleted, task.Status.State)
	require.NotNil(t, task.Status.Message)
	assert.Equal(t, "echo: hello", task.Status.Message.Parts[0].Text)
	assert.EqualValues(t, 5, task.Metadata["creditsUsed"])

	require.NoError(t, exec.Producer.Wait(ctx))
	engine.ReleaseQueue("t1")
}

func TestEngineNonBlockingExecution(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(echoExecutor(2), store, testLogger()).WithFlushDelay(time.Millisecond)

	ctx := context.Background()
	exec, err := engine.SetupExecution(ctx, sendParams("t2", "bg"))
	require.NoError(t, err)

	result, interrupted, err := exec.Aggregator.ConsumeAndBreakOnInterrupt(ctx, NewConsumer(exec.Queue), false)
	require.NoError(t, err)
	assert.True(t, interrupted)
	assert.Equal(t, "t2", result.(*Task).ID)

	exec.Aggregator.ContinueConsuming(ctx, NewConsumer(exec.Queue))
	require.NoError(t, exec.Producer.Wait(ctx))

	stored, err := store.Get(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.Status.State)
}

func TestEngineHandlerErrorYieldsFailedTask(t *testing.T) {
	executor := NewHandlerExecutor(func(context.Context, *RequestContext) (*HandlerResponse, error) {
		return nil, errors.New("boom")
	}, 1)
	store := NewMemoryStore()
	engine := NewEngine(executor, store, testLogger()).WithFlushDelay(time.Millisecond)

	ctx := context.Background()
	exec, err := engine.SetupExecution(ctx, sendParams("t3", "x"))
	require.NoError(t, err)

	result, _, err := exec.Aggregator.ConsumeAndBreakOnInterrupt(ctx, NewConsumer(exec.Queue), true)
	require.NoError(t, err)

	task := result.(*Task)
	assert.Equal(t, StateFailed, task.Status.State)
	assert.Contains(t, task.Status.Message.Parts[0].Text, "boom")
}

func TestEngineExecutorFailureSurfacesOnProducer(t *testing.T) {
	executor := ExecutorFunc(func(context.Context, *RequestContext, *EventQueue) error {
		return errors.New("executor crash")
	})
	engine := NewEngine(executor, NewMemoryStore(), testLogger()).WithFlushDelay(time.Millisecond)

	ctx := context.Background()
	exec, err := engine.SetupExecution(ctx, sendParams("t4", "x"))
	require.NoError(t, err)

	err = exec.Producer.Wait(ctx)
	assert.ErrorContains(t, err, "executor crash")
}

func TestEngineResumesExistingTask(t *testing.T) {
	store := NewMemoryStore()
	existing := &Task{
		Kind: KindTask, ID: "t5", ContextID: "c5",
		Status: TaskStatus{State: StateInputRequired},
	}
	require.NoError(t, store.Save(context.Background(), existing))

	var seen *Task
	executor := ExecutorFunc(func(_ context.Context, rc *RequestContext, q *EventQueue) error {
		seen = rc.CurrentTask
		return q.Enqueue(context.Background(), &TaskStatusUpdateEvent{
			Kind: KindStatusUpdate, TaskID: "t5",
			Status: TaskStatus{State: StateCompleted}, Final: true,
		})
	})
	engine := NewEngine(executor, store, testLogger()).WithFlushDelay(time.Millisecond)

	ctx := context.Background()
	exec, err := engine.SetupExecution(ctx, sendParams("t5", "resume"))
	require.NoError(t, err)

	_, _, err = exec.Aggregator.ConsumeAndBreakOnInterrupt(ctx, NewConsumer(exec.Queue), true)
	require.NoError(t, err)
	require.NoError(t, exec.Producer.Wait(ctx))

	require.NotNil(t, seen)
	assert.Equal(t, StateInputRequired, seen.Status.State)
}
