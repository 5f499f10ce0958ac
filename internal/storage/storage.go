package storage

import (
	"context"
	"errors"

	"ammEngine/internal/model"
)

// EventStorage persists batches of engine events.
type EventStorage interface {
	PutEventBatch(ctx context.Context, events []model.Event) error
}

// Publisher receives events one at a time.
type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// Fanout publishes each event to every publisher. A failing publisher does
// not stop delivery to the others.
type Fanout struct {
	publishers []Publisher
}

func NewFanout(publishers ...Publisher) *Fanout {
	out := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Fanout{publishers: out}
}

func (f *Fanout) Publish(ctx context.Context, event model.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
