package dex

import (
	"context"

	"go.uber.org/zap"

	"ammEngine/internal/model"
)

// EventSink receives committed engine events. Publish failures are logged
// and never undo the operation that produced the event.
type EventSink interface {
	Publish(ctx context.Context, event model.Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event model.Event) error

func (f EventSinkFunc) Publish(ctx context.Context, event model.Event) error {
	return f(ctx, event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, model.Event) error { return nil }

func (r *Registry) publish(ctx context.Context, ev model.Event) {
	ev.Seq = r.eventSeq.Add(1)
	if err := r.sink.Publish(ctx, ev); err != nil {
		r.logger.Warn("publish event",
			zap.String("type", ev.Type),
			zap.String("pool", ev.PoolID),
			zap.Uint64("seq", ev.Seq),
			zap.Error(err),
		)
	}
}
