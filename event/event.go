// Package event defines the atomic unit of the log: the immutable Event, its
// store-global positioned form SequencedEvent, and the small interfaces a
// domain must satisfy (Metadata, DomainEvent) to be carried by the core.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata is a caller-supplied record accompanying every command and event.
// Concrete domains embed a richer struct; the core only ever needs a
// correlation id to thread through logs and audits.
type Metadata interface {
	CorrelationID() uuid.UUID
}

// DomainEvent is a polymorphic event payload. The set of concrete types is
// closed per domain and discriminated by EventType, which doubles as the
// event_type column and the serializer's registry key.
type DomainEvent interface {
	EventType() string
}

// CreationEvent is a DomainEvent eligible to be the first event on an
// aggregate. It carries no extra methods; the distinction is enforced by the
// aggregate Configuration, not by the type system.
type CreationEvent interface {
	DomainEvent
}

// UpdateEvent is a DomainEvent eligible to follow a CreationEvent.
type UpdateEvent interface {
	DomainEvent
}

// Event is the atomic, immutable unit of the log. Once written it is never
// mutated or deleted.
type Event struct {
	ID                uuid.UUID
	AggregateID       uuid.UUID
	AggregateSequence int64
	AggregateType     string
	CreatedAt         time.Time
	Metadata          Metadata
	Body              DomainEvent
}

// Type returns the event's canonical class name, taken from its body.
func (e Event) Type() string {
	return e.Body.EventType()
}

func (e Event) String() string {
	return fmt.Sprintf("%s@%d[%s]", e.Type(), e.AggregateSequence, e.AggregateID)
}

// SequencedEvent pairs an Event with its store-global log position. Sequence
// is strictly increasing and dense across every aggregate in the store.
type SequencedEvent struct {
	Event
	Sequence int64
}

// Buffer accumulates the events produced by a single create/update call and
// mints their aggregate-scoped sequence numbers. It is the only place a
// caller assigns aggregate_sequence; ids, timestamps and metadata are sealed
// in at the same time so every event in a batch shares one created_at.
type Buffer struct {
	aggregateID   uuid.UUID
	aggregateType string
	next          int64
}

// NewBuffer returns a Buffer that will assign sequences starting after
// lastSequence (0 for a brand new aggregate).
func NewBuffer(aggregateID uuid.UUID, aggregateType string, lastSequence int64) Buffer {
	return Buffer{aggregateID: aggregateID, aggregateType: aggregateType, next: lastSequence}
}

// Seal mints Events from the given bodies, in order, sharing one created_at
// and one Metadata record.
func (b *Buffer) Seal(at time.Time, meta Metadata, bodies ...DomainEvent) []Event {
	events := make([]Event, len(bodies))
	for i, body := range bodies {
		b.next++
		events[i] = Event{
			ID:                uuid.New(),
			AggregateID:       b.aggregateID,
			AggregateSequence: b.next,
			AggregateType:     b.aggregateType,
			CreatedAt:         at,
			Metadata:          meta,
			Body:              body,
		}
	}
	return events
}

// Next returns the aggregate sequence the next Seal call will assign first.
func (b Buffer) Next() int64 {
	return b.next + 1
}
