// Package errors defines the closed sum of errors the core can return to a
// caller of the command gateway, plus the fatal serialization exceptions the
// serializer panics with when an aggregate or metadata type is wired wrong.
package errors

import (
	"fmt"

	"github.com/google/uuid"
)

// CommandError is any error the gateway may return from Dispatch. It exists
// so callers can type-switch without reaching into the concrete error types
// below.
type CommandError interface {
	error
	commandError()
}

// AlreadyActionedCommandError marks a CommandError as an idempotent no-op:
// the command was already carried out, so retrying it should not be treated
// as a failure by the caller.
type AlreadyActionedCommandError interface {
	CommandError
	AlreadyActioned() bool
}

// ConcurrencyError indicates a unique-constraint violation on
// (aggregate_id, aggregate_sequence): another writer committed first. It is
// retriable; the gateway retries it internally up to a bounded attempt count.
type ConcurrencyError struct {
	AggregateID uuid.UUID
	Sequence    int64
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency error: aggregate %s already has an event at sequence %d", e.AggregateID, e.Sequence)
}

func (ConcurrencyError) commandError() {}

// LockingError indicates the configured blocking-lock strategy could not
// acquire its lock within the bound (eg. a Postgres advisory-lock timeout).
// It is not retried by the gateway.
type LockingError struct {
	Reason string
}

func (e LockingError) Error() string {
	return fmt.Sprintf("locking error: %s", e.Reason)
}

func (LockingError) commandError() {}

// AggregateNotFound indicates an UpdateCommand named an aggregate id with no
// events on the log.
type AggregateNotFound struct {
	AggregateID uuid.UUID
}

func (e AggregateNotFound) Error() string {
	return fmt.Sprintf("aggregate not found: %s", e.AggregateID)
}

func (AggregateNotFound) commandError() {}

// NoConstructorForCommand indicates no registered Configuration declares the
// runtime command type in either its creation or update command sum.
type NoConstructorForCommand struct {
	Command interface{}
}

func (e NoConstructorForCommand) Error() string {
	return fmt.Sprintf("no constructor registered for command: %T", e.Command)
}

func (NoConstructorForCommand) commandError() {}

// DomainError wraps a domain-specific rule violation returned by an
// aggregate's Create or Update function (eg. "AlreadyInvited"). Domains
// define their own concrete types satisfying CommandError directly; DomainError
// is a convenience wrapper for callers that just want a message and a code.
type DomainError struct {
	Code    string
	Message string
}

func (e DomainError) Error() string {
	return e.Message
}

func (DomainError) commandError() {}

// InternalError is substituted for any error a gateway handler returns that
// isn't already a CommandError, the same way the teacher's
// CommandErrorMiddleware blocked internal errors from escaping to a caller
// behind InternalServerError.
var InternalError CommandError = DomainError{Code: "internal", Message: "internal server error"}

// EventBodySerializationException indicates a domain event body did not
// round-trip through JSON: the event class and its json tags are out of
// sync. It is a programming error, never a caller mistake, so the
// serializer panics with it; a dialect's Sink recovers that panic, rolls its
// transaction back and returns the exception as its error.
type EventBodySerializationException struct {
	Tag string
	Err error
}

func (e EventBodySerializationException) Error() string {
	return fmt.Sprintf("event body serialization exception: %q did not round-trip: %s", e.Tag, e.Err)
}

// EventMetadataSerializationException indicates a metadata record did not
// round-trip through JSON as the store's configured (or event-class-narrowed)
// metadata type.
type EventMetadataSerializationException struct {
	Tag string
	Err error
}

func (e EventMetadataSerializationException) Error() string {
	return fmt.Sprintf("event metadata serialization exception: %q did not round-trip: %s", e.Tag, e.Err)
}

// UnsupportedDialectError indicates a store was asked to operate against a
// SQL dialect it has no schema/lock strategy for.
type UnsupportedDialectError struct {
	Dialect string
}

func (e UnsupportedDialectError) Error() string {
	return fmt.Sprintf("unsupported dialect: %s", e.Dialect)
}
