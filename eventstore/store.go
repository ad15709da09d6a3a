// Package eventstore defines the transactional append-only log contract
// shared by every dialect (postgres, sqlitestore) plus the dialect-agnostic
// pieces: the blocking-lock strategy interface, the sequence-stats
// dependency a dialect upserts into inside its sink transaction, and the
// consistency checks every dialect's Sink runs before it touches SQL.
// Adapted from the teacher's eventstore/global.go, generalized from the
// teacher's single owner/type stream key to this spec's aggregate_id/
// aggregate_type/aggregate_sequence triple.
package eventstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/kestrelhq/escore/event"
)

// Store is the transactional append-only log. Every dialect package
// (postgres, sqlitestore) implements it against its own schema and driver.
type Store interface {
	// Sink appends events, all belonging to one aggregate, in one
	// transaction. Returns errors.ConcurrencyError if any event's
	// (aggregate_id, aggregate_sequence) pair already exists, or
	// errors.LockingError if the configured LockStrategy could not acquire
	// its lock.
	Sink(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events ...event.Event) error

	// GetAfter returns up to batchSize events with store-global sequence
	// strictly greater than sequence, ascending, optionally restricted to
	// eventClasses (empty/nil means no filter).
	GetAfter(ctx context.Context, sequence int64, eventClasses []string, batchSize int) ([]event.SequencedEvent, error)

	// EventsFor returns every event belonging to aggregateID, ascending by
	// aggregate_sequence.
	EventsFor(ctx context.Context, aggregateID uuid.UUID) ([]event.Event, error)

	// LastSequence returns the highest store-global sequence written,
	// optionally restricted to eventClasses, answered from the
	// sequence-stats table rather than a scan of events.
	LastSequence(ctx context.Context, eventClasses []string) (int64, error)

	Close() error
}

// LockStrategy is a blocking-lock hook a dialect's Sink runs at the start of
// its transaction, before inserting any row.
type LockStrategy interface {
	Acquire(ctx context.Context, tx *sql.Tx, aggregateID uuid.UUID) error
}

// NoopLock never blocks. It is the strategy the postgres dialect falls back
// to when given none. The embedded testing dialect takes no LockStrategy at
// all: SQLite's own file lock already serializes writers at the process
// level.
type NoopLock struct{}

// Acquire is a no-op.
func (NoopLock) Acquire(ctx context.Context, tx *sql.Tx, aggregateID uuid.UUID) error {
	return nil
}

// SeqStatsStore is the sequence-stats dependency a dialect upserts into,
// inside the same transaction as the event rows it just inserted. Declared
// here rather than in package seqstats so dialects can depend on the
// interface without importing the concrete implementation.
type SeqStatsStore interface {
	UpsertTx(tx *sql.Tx, eventType string, sequence int64) error
}

// Processor is invoked for every event a dialect's Sink commits, before the
// transaction is committed. Declared here (rather than importing package
// processor) to keep eventstore dependency-free of the processor package;
// processor.EventProcessor satisfies it.
type Processor interface {
	Process(ctx context.Context, e event.Event) error
}

// CheckSameAggregate returns an error unless every event belongs to the
// same aggregate id and type. A Sink call mixing aggregates would violate
// the spec's single-aggregate-per-sink invariant silently otherwise.
func CheckSameAggregate(aggregateID uuid.UUID, aggregateType string, events []event.Event) error {
	for _, e := range events {
		if e.AggregateID != aggregateID || e.AggregateType != aggregateType {
			return pkgerrors.Errorf("eventstore: event %s does not belong to aggregate %s/%s", e, aggregateID, aggregateType)
		}
	}
	return nil
}

// RunProcessors delivers e to every processor in order, stopping (and
// returning) at the first error so the caller can roll back its
// transaction.
func RunProcessors(ctx context.Context, processors []Processor, e event.Event) error {
	for _, p := range processors {
		if err := p.Process(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// RecoverSink is deferred first thing inside a dialect's Sink, after tx has
// been opened. serializer.Registry's EncodeBody/EncodeMetadata panic rather
// than return on a class/type mismatch; without a recover at the sink
// boundary that panic unwinds past tx with no Rollback, leaking the
// connection (and any held advisory lock), and crashes the caller's
// goroutine instead of surfacing through the gateway as a handled error.
// RecoverSink rolls tx back and, for a panic carrying an error value, turns
// it into *errp so Sink returns normally; any other panic is re-raised once
// the rollback has happened.
func RecoverSink(tx *sql.Tx, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	tx.Rollback()
	if err, ok := r.(error); ok {
		*errp = err
		return
	}
	panic(r)
}
