package a2a

import "context"

// EventReader is the read side of a task's event stream. Wrapping readers is
// how cross-cutting behavior (settlement, push delivery) is layered onto
// consumption without the aggregator knowing about it.
type EventReader interface {
	ReadEvent(ctx context.Context) (Event, error)
}

// Consumer reads events from a single task's queue.
type Consumer struct {
	queue *EventQueue
}

// NewConsumer creates a consumer over a queue.
func NewConsumer(queue *EventQueue) *Consumer {
	return &Consumer{queue: queue}
}

// ReadEvent returns the next event, or ErrQueueClosed after the stream ends.
func (c *Consumer) ReadEvent(ctx context.Context) (Event, error) {
	return c.queue.Dequeue(ctx)
}
