// Package aggregate models the algebra relating creation/update commands,
// creation/update events, and aggregate state. In the absence of
// higher-kinded generics, each concrete aggregate is a Configuration value
// holding four closures, parameterized over its own command/event/state
// types by Go generics. WithProjection and WithMetadata are wrappers that
// capture an extra collaborator and re-expose the plain four-closure shape,
// the same wrapper-over-closures pattern the teacher's
// BaseCommandMiddleware/CmdFunc adapters use in bus/middleware.go to bind
// extra context around a plain handler function.
package aggregate

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/kestrelhq/escore/event"
)

// Configuration binds the four functions an aggregate needs: how a creation
// command becomes a creation event, how a creation event becomes initial
// state, how an update command against current state becomes update
// events, and how an update event folds into state.
type Configuration[State any, CC any, CE event.CreationEvent, UC any, UE event.UpdateEvent] struct {
	// AggregateType tags every event this configuration produces, and is
	// the key the gateway's registry looks configurations up by.
	AggregateType string

	Create  func(cmd CC) (CE, error)
	Created func(e CE) State
	Update  func(state State, cmd UC) ([]UE, error)
	Updated func(state State, e UE) State

	// CreateMeta and UpdateMeta, when set, are used in place of Create and
	// Update, receiving the dispatching command's metadata record alongside
	// the command itself. WithMetadata builds a Configuration that sets
	// these instead of Create/Update.
	CreateMeta func(meta event.Metadata, cmd CC) (CE, error)
	UpdateMeta func(meta event.Metadata, state State, cmd UC) ([]UE, error)
}

// Type returns the aggregate type tag, satisfying gateway.Configuration.
func (c Configuration[State, CC, CE, UC, UE]) Type() string {
	return c.AggregateType
}

// TryCreate attempts to run cmd as this configuration's creation command,
// passing meta through to CreateMeta if this configuration was built with
// WithMetadata. The bool return reports whether cmd was of the right type
// at all; a caller sees ok=false as "not mine", distinct from a real domain
// error.
func (c Configuration[State, CC, CE, UC, UE]) TryCreate(cmd interface{}, meta event.Metadata) (ok bool, ev event.CreationEvent, err error) {
	typed, isMine := cmd.(CC)
	if !isMine {
		return false, nil, nil
	}
	if c.CreateMeta != nil {
		created, err := c.CreateMeta(meta, typed)
		return true, created, err
	}
	created, err := c.Create(typed)
	return true, created, err
}

// TryUpdate attempts to run cmd as this configuration's update command
// against the state rehydrated from events, passing meta through to
// UpdateMeta if this configuration was built with WithMetadata.
func (c Configuration[State, CC, CE, UC, UE]) TryUpdate(events []event.Event, cmd interface{}, meta event.Metadata) (ok bool, evs []event.UpdateEvent, err error) {
	typed, isMine := cmd.(UC)
	if !isMine {
		return false, nil, nil
	}

	state, err := c.Rehydrate(events)
	if err != nil {
		return true, nil, err
	}

	var updated []UE
	if c.UpdateMeta != nil {
		updated, err = c.UpdateMeta(meta, state, typed)
	} else {
		updated, err = c.Update(state, typed)
	}
	if err != nil {
		return true, nil, err
	}

	out := make([]event.UpdateEvent, len(updated))
	for i, ue := range updated {
		out[i] = ue
	}
	return true, out, nil
}

// Rehydrate folds events into state: the first event must be a CE, every
// subsequent event a UE, in sequence order. An empty events list is a
// caller error — the gateway checks EventsFor before ever calling Rehydrate.
func (c Configuration[State, CC, CE, UC, UE]) Rehydrate(events []event.Event) (State, error) {
	var zero State
	if len(events) == 0 {
		return zero, pkgerrors.New("aggregate: cannot rehydrate from zero events")
	}

	first, ok := events[0].Body.(CE)
	if !ok {
		return zero, pkgerrors.Errorf("aggregate: first event %s is not a creation event", events[0])
	}
	state := c.Created(first)

	for _, e := range events[1:] {
		ue, ok := e.Body.(UE)
		if !ok {
			return zero, pkgerrors.Errorf("aggregate: event %s is not a valid update event", e)
		}
		state = c.Updated(state, ue)
	}
	return state, nil
}

// Stateless builds a Configuration for a singleton aggregate whose Updated
// is the identity function: state never changes shape once created, only
// commands and events flow through Create/Update.
func Stateless[CC any, CE event.CreationEvent, UC any, UE event.UpdateEvent](
	aggregateType string,
	create func(CC) (CE, error),
	update func(UC) ([]UE, error),
) Configuration[struct{}, CC, CE, UC, UE] {
	return Configuration[struct{}, CC, CE, UC, UE]{
		AggregateType: aggregateType,
		Create:        create,
		Created:       func(CE) struct{} { return struct{}{} },
		Update:        func(_ struct{}, cmd UC) ([]UE, error) { return update(cmd) },
		Updated:       func(s struct{}, _ UE) struct{} { return s },
	}
}

// WithProjection binds Create/Update functions that additionally receive a
// projection value, and reduces them to a plain Configuration the gateway
// can dispatch against uniformly.
func WithProjection[P, State any, CC any, CE event.CreationEvent, UC any, UE event.UpdateEvent](
	aggregateType string,
	projection P,
	create func(p P, cmd CC) (CE, error),
	created func(e CE) State,
	update func(p P, state State, cmd UC) ([]UE, error),
	updated func(state State, e UE) State,
) Configuration[State, CC, CE, UC, UE] {
	return Configuration[State, CC, CE, UC, UE]{
		AggregateType: aggregateType,
		Create:        func(cmd CC) (CE, error) { return create(projection, cmd) },
		Created:       created,
		Update:        func(state State, cmd UC) ([]UE, error) { return update(projection, state, cmd) },
		Updated:       updated,
	}
}

// WithMetadata binds Create/Update functions that additionally receive the
// metadata record of the command actually being dispatched, for use in
// outputs such as audit fields. Unlike WithProjection's projection value,
// metadata is not known until dispatch time, so it is threaded through
// TryCreate/TryUpdate on every call rather than captured once here.
func WithMetadata[State any, CC any, CE event.CreationEvent, UC any, UE event.UpdateEvent](
	aggregateType string,
	create func(meta event.Metadata, cmd CC) (CE, error),
	created func(e CE) State,
	update func(meta event.Metadata, state State, cmd UC) ([]UE, error),
	updated func(state State, e UE) State,
) Configuration[State, CC, CE, UC, UE] {
	return Configuration[State, CC, CE, UC, UE]{
		AggregateType: aggregateType,
		CreateMeta:    create,
		Created:       created,
		UpdateMeta:    update,
		Updated:       updated,
	}
}
