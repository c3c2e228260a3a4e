package a2a

import (
	"context"
	"errors"
	"log/slog"
)

// ResultAggregator consumes one task's event stream and produces the call
// result. One aggregator serves exactly one request; non-blocking calls hand
// the remaining stream to ContinueConsuming on a background goroutine.
type ResultAggregator struct {
	manager *TaskManager
	logger  *slog.Logger
}

// NewResultAggregator creates an aggregator over a task manager.
func NewResultAggregator(manager *TaskManager, logger *slog.Logger) *ResultAggregator {
	return &ResultAggregator{manager: manager, logger: logger}
}

// ConsumeAndBreakOnInterrupt reads events until the task finishes, the
// producer replies with a direct message, or — in non-blocking mode — the
// first task state materializes. It returns the call result and whether
// consumption was interrupted before the stream ended, in which case the
// caller owns draining the remainder via ContinueConsuming.
func (a *ResultAggregator) ConsumeAndBreakOnInterrupt(ctx context.Context, r EventReader, blocking bool) (Event, bool, error) {
	for {
		ev, err := r.ReadEvent(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return a.result(), false, nil
			}
			return nil, false, err
		}

		if msg, ok := ev.(*Message); ok {
			// Direct message replies bypass task state entirely.
			return msg, false, nil
		}

		if err := a.manager.Process(ctx, ev); err != nil {
			return nil, false, err
		}

		if su, ok := ev.(*TaskStatusUpdateEvent); ok && su.Final {
			return a.result(), false, nil
		}

		if !blocking {
			if t := a.manager.Snapshot(); t != nil {
				return t, true, nil
			}
		}
	}
}

// ContinueConsuming drains the rest of an interrupted stream, keeping the
// task store current. Errors are logged and swallowed; the request that
// started the task has already been answered.
func (a *ResultAggregator) ContinueConsuming(ctx context.Context, r EventReader) {
	for {
		ev, err := r.ReadEvent(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				a.logger.Warn("background consume stopped", "task_id", a.manager.TaskID(), "error", err)
			}
			return
		}
		if _, ok := ev.(*Message); ok {
			continue
		}
		if err := a.manager.Process(ctx, ev); err != nil {
			a.logger.Warn("background event processing failed", "task_id", a.manager.TaskID(), "error", err)
		}
	}
}

func (a *ResultAggregator) result() Event {
	if t := a.manager.Snapshot(); t != nil {
		return t
	}
	return nil
}
