package a2a

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func submittedTask(id string) *Task {
	return &Task{
		Kind:   KindTask,
		ID:     id,
		Status: TaskStatus{State: StateSubmitted},
	}
}

func finalUpdate(id string, state TaskState, credits int64) *TaskStatusUpdateEvent {
	return &TaskStatusUpdateEvent{
		Kind:     KindStatusUpdate,
		TaskID:   id,
		Status:   TaskStatus{State: state},
		Final:    true,
		Metadata: map[string]any{"creditsUsed": credits},
	}
}

func TestAggregatorBlockingConsumesToFinal(t *testing.T) {
	store := NewMemoryStore()
	manager := NewTaskManager("t1", "c1", store, nil, testLogger())
	agg := NewResultAggregator(manager, testLogger())

	q := NewEventQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, submittedTask("t1")))
	require.NoError(t, q.Enqueue(ctx, &TaskStatusUpdateEvent{
		Kind: KindStatusUpdate, TaskID: "t1",
		Status: TaskStatus{State: StateWorking},
	}))
	require.NoError(t, q.Enqueue(ctx, finalUpdate("t1", StateCompleted, 5)))
	q.Close()

	result, interrupted, err := agg.ConsumeAndBreakOnInterrupt(ctx, NewConsumer(q), true)
	require.NoError(t, err)
	assert.False(t, interrupted)

	task, ok := result.(*Task)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, task.Status.State)

	stored, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.Status.State)
}

func TestAggregatorNonBlockingInterruptsEarly(t *testing.T) {
	store := NewMemoryStore()
	manager := NewTaskManager("t1", "c1", store, nil, testLogger())
	agg := NewResultAggregator(manager, testLogger())

	q := NewEventQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, submittedTask("t1")))
	require.NoError(t, q.Enqueue(ctx, finalUpdate("t1", StateCompleted, 3)))

	result, interrupted, err := agg.ConsumeAndBreakOnInterrupt(ctx, NewConsumer(q), false)
	require.NoError(t, err)
	assert.True(t, interrupted)

	task := result.(*Task)
	assert.Equal(t, StateSubmitted, task.Status.State)

	// The remainder of the stream is drained in the background.
	q.Close()
	agg.ContinueConsuming(ctx, NewConsumer(q))

	stored, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.Status.State)
}

func TestAggregatorDirectMessageReply(t *testing.T) {
	store := NewMemoryStore()
	manager := NewTaskManager("t1", "c1", store, nil, testLogger())
	agg := NewResultAggregator(manager, testLogger())

	q := NewEventQueue()
	ctx := context.Background()
	reply := &Message{Kind: KindMessage, MessageID: "reply-1", Role: "agent"}
	require.NoError(t, q.Enqueue(ctx, reply))

	result, interrupted, err := agg.ConsumeAndBreakOnInterrupt(ctx, NewConsumer(q), true)
	require.NoError(t, err)
	assert.False(t, interrupted)
	assert.Equal(t, reply, result)
}

func TestAggregatorTaskIDMismatch(t *testing.T) {
	store := NewMemoryStore()
	manager := NewTaskManager("t1", "c1", store, nil, testLogger())
	agg := NewResultAggregator(manager, testLogger())

	q := NewEventQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, submittedTask("other")))

	_, _, err := agg.ConsumeAndBreakOnInterrupt(ctx, NewConsumer(q), true)
	assert.ErrorIs(t, err, ErrTaskIDMismatch)
}

func TestAggregatorClosedQueueReturnsSnapshot(t *testing.T) {
	store := NewMemoryStore()
	manager := NewTaskManager("t1", "c1", store, nil, testLogger())
	agg := NewResultAggregator(manager, testLogger())

	q := NewEventQueue()
	q.Close()

	result, interrupted, err := agg.ConsumeAndBreakOnInterrupt(context.Background(), NewConsumer(q), true)
	require.NoError(t, err)
	assert.False(t, interrupted)
	assert.Nil(t, result)
}

func TestContinueConsumingStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	manager := NewTaskManager("t1", "c1", store, nil, testLogger())
	agg := NewResultAggregator(manager, testLogger())

	q := NewEventQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		agg.ContinueConsuming(ctx, NewConsumer(q))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ContinueConsuming did not stop on cancel")
	}
}
