// Package processor dispatches committed events to the in-process handlers
// interested in them. It is the synchronous counterpart to package async:
// handlers registered here run inside the same transaction that sank the
// event, the way the teacher's Bus ran its EventHandlers inline with command
// handling.
package processor

import (
	"context"

	"github.com/kestrelhq/escore/event"
)

// Handler reacts to one committed event. Returning an error aborts the
// enclosing sink transaction; the event is never partially applied.
type Handler func(ctx context.Context, e event.Event) error

// EventProcessor dispatches a single event to every handler interested in
// its class, in registration order. A nil/empty class list means "every
// event class".
type EventProcessor struct {
	classList []string
	classes   map[string]struct{}
	handlers  []Handler
}

// New builds an EventProcessor. classes restricts which event_type tags this
// processor is invoked for; pass nil to receive every event the store sinks.
func New(classes []string, handlers ...Handler) *EventProcessor {
	p := &EventProcessor{classList: classes, handlers: handlers}
	if len(classes) > 0 {
		p.classes = make(map[string]struct{}, len(classes))
		for _, c := range classes {
			p.classes[c] = struct{}{}
		}
	}
	return p
}

// EventClasses returns the event_type tags this processor restricts itself
// to, or nil for "every class" — the filter package async's
// BatchedAsyncEventProcessor passes straight through to EventStore.GetAfter.
func (p *EventProcessor) EventClasses() []string {
	return p.classList
}

// Interested reports whether this processor wants events tagged tag.
func (p *EventProcessor) Interested(tag string) bool {
	if p.classes == nil {
		return true
	}
	_, ok := p.classes[tag]
	return ok
}

// Process runs every registered handler over e, in order, stopping at the
// first error.
func (p *EventProcessor) Process(ctx context.Context, e event.Event) error {
	if !p.Interested(e.Type()) {
		return nil
	}
	for _, h := range p.handlers {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
