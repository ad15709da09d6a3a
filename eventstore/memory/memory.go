// Package memory is a fast, dependency-free eventstore.Store test double.
// It keeps every event in a slice behind a mutex and never touches a
// database, so unit tests that do not care about driver-specific
// concurrency semantics (covered separately by the postgres/sqlitestore
// blackbox suites) can run without a schema or a file. Adapted from the
// teacher's eventstore/memory/memory.go, generalized from its single
// owner/type stream key to this spec's aggregate_id/aggregate_sequence
// pair and to running synchronous processors and sequence-stats the way
// the SQL dialects do.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelhq/escore/errors"
	"github.com/kestrelhq/escore/event"
	"github.com/kestrelhq/escore/eventstore"
)

// New returns an empty Store.
func New(processors ...eventstore.Processor) *Store {
	return &Store{
		stats:      map[string]int64{},
		processors: processors,
	}
}

// Store is an in-memory eventstore.Store.
type Store struct {
	mu     sync.Mutex
	events []event.SequencedEvent
	stats  map[string]int64

	processors []eventstore.Processor
}

func (s *Store) Close() error { return nil }

func (s *Store) Sink(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := eventstore.CheckSameAggregate(aggregateID, aggregateType, events); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if s.hasAggregateSequence(aggregateID, e.AggregateSequence) {
			return errors.ConcurrencyError{AggregateID: aggregateID, Sequence: e.AggregateSequence}
		}
	}

	// Stage every row and stats delta in local copies first: a real
	// transaction never makes earlier rows in this batch visible to anyone
	// else if a later event's processor fails, so neither should s.events
	// or s.stats until the whole batch has cleared every processor.
	staged := make([]event.SequencedEvent, 0, len(events))
	stagedStats := make(map[string]int64, len(s.stats))
	for tag, seq := range s.stats {
		stagedStats[tag] = seq
	}

	base := int64(len(s.events))
	for i, e := range events {
		global := base + int64(i) + 1
		staged = append(staged, event.SequencedEvent{Event: e, Sequence: global})
		if global > stagedStats[e.Type()] {
			stagedStats[e.Type()] = global
		}

		if err := eventstore.RunProcessors(ctx, s.processors, e); err != nil {
			return err
		}
	}

	s.events = append(s.events, staged...)
	s.stats = stagedStats
	return nil
}

func (s *Store) hasAggregateSequence(aggregateID uuid.UUID, seq int64) bool {
	for _, e := range s.events {
		if e.AggregateID == aggregateID && e.AggregateSequence == seq {
			return true
		}
	}
	return false
}

func (s *Store) GetAfter(ctx context.Context, sequence int64, eventClasses []string, batchSize int) ([]event.SequencedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	classes := toSet(eventClasses)
	var out []event.SequencedEvent
	for _, e := range s.events {
		if e.Sequence <= sequence {
			continue
		}
		if classes != nil {
			if _, ok := classes[e.Type()]; !ok {
				continue
			}
		}
		out = append(out, e)
		if len(out) == batchSize {
			break
		}
	}
	return out, nil
}

func (s *Store) EventsFor(ctx context.Context, aggregateID uuid.UUID) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e.Event)
		}
	}
	return out, nil
}

func (s *Store) LastSequence(ctx context.Context, eventClasses []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	classes := toSet(eventClasses)
	var max int64
	for tag, seq := range s.stats {
		if classes != nil {
			if _, ok := classes[tag]; !ok {
				continue
			}
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

func toSet(classes []string) map[string]struct{} {
	if len(classes) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	return set
}
