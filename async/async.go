// Package async is the read side of the log: a bookmark-driven batched
// poller that streams committed events into downstream processors
// (projectors, sagas) with at-least-once delivery. Grounded on the
// teacher's background.Controller (background/controller.go), whose
// ticker-driven action loop polled a jobs table and advanced job state;
// here the polled resource is the event log and the advanced state is a
// named bookmark instead of a job row.
package async

import (
	"context"
	"time"

	"github.com/kestrelhq/escore/bookmark"
	"github.com/kestrelhq/escore/event"
)

// DefaultBatchSize is how many events ProcessOneBatch pulls per call absent
// an explicit BatchSize, matching the spec's stated default.
const DefaultBatchSize = 1000

// EventSource is the subset of eventstore.Store a processor polls against.
type EventSource interface {
	GetAfter(ctx context.Context, sequence int64, eventClasses []string, batchSize int) ([]event.SequencedEvent, error)
}

// EventProcessor is a downstream consumer: the set of event classes it
// cares about (nil/empty means every class) and the handler that applies
// one event. Handlers are expected to be idempotent, since a crash between
// Process and the following bookmark Save redelivers the same event on
// restart.
type EventProcessor interface {
	EventClasses() []string
	Process(ctx context.Context, e event.Event) error
}

// StatsSink is notified after every successfully processed event, for
// consumers that want per-event latency metrics. Optional.
type StatsSink interface {
	Observe(consumer string, e event.SequencedEvent, duration time.Duration)
}

// Outcome reports whether a batch exhausted the log or may have more work
// waiting.
type Outcome int

const (
	// Continue means the batch came back full: call ProcessOneBatch again
	// immediately, there may be more events already on the log.
	Continue Outcome = iota
	// Wait means the batch came back short: the consumer has caught up to
	// the log and should back off before polling again.
	Wait
)

func (o Outcome) String() string {
	if o == Continue {
		return "continue"
	}
	return "wait"
}

// BatchedAsyncEventProcessor is one named consumer's poll loop state: where
// it reads from, where its progress is bookmarked, and what it hands each
// event to.
type BatchedAsyncEventProcessor struct {
	// Name is the bookmark name this consumer's progress is saved under.
	Name string

	EventSource EventSource
	Bookmarks   bookmark.Store
	Processor   EventProcessor

	// BatchSize bounds how many events one ProcessOneBatch call reads.
	// Zero means DefaultBatchSize.
	BatchSize int

	// Stats is optional; nil disables per-event metrics.
	Stats StatsSink
}

// New builds a BatchedAsyncEventProcessor with DefaultBatchSize.
func New(name string, source EventSource, bookmarks bookmark.Store, processor EventProcessor) *BatchedAsyncEventProcessor {
	return &BatchedAsyncEventProcessor{
		Name:        name,
		EventSource: source,
		Bookmarks:   bookmarks,
		Processor:   processor,
		BatchSize:   DefaultBatchSize,
	}
}

// ProcessOneBatch runs a single poll-process-bookmark cycle: load the
// bookmark, pull events after it filtered to the processor's classes,
// process and bookmark each in order. A failure partway through leaves the
// bookmark at the last successfully processed event, so the next call
// redelivers from there.
func (p *BatchedAsyncEventProcessor) ProcessOneBatch(ctx context.Context) (Outcome, error) {
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	start, err := p.Bookmarks.BookmarkFor(ctx, p.Name)
	if err != nil {
		return Wait, err
	}

	batch, err := p.EventSource.GetAfter(ctx, start.Sequence, p.Processor.EventClasses(), batchSize)
	if err != nil {
		return Wait, err
	}

	for _, se := range batch {
		began := time.Now()
		if err := p.Processor.Process(ctx, se.Event); err != nil {
			return Wait, err
		}
		duration := time.Since(began)

		if err := p.Bookmarks.Save(ctx, p.Name, se.Sequence); err != nil {
			return Wait, err
		}

		if p.Stats != nil {
			p.Stats.Observe(p.Name, se, duration)
		}
	}

	if len(batch) == batchSize {
		return Continue, nil
	}
	return Wait, nil
}
