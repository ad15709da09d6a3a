package gateway

import (
	"github.com/google/uuid"

	"github.com/kestrelhq/escore/event"
)

// Command is anything dispatchable through the gateway. AggregateID names
// the aggregate the command acts on; for a CreationCommand the id is
// caller-chosen (enabling idempotent create-retries to collide on the same
// unique constraint instead of minting duplicates).
type Command interface {
	Valid() error
	AggregateID() uuid.UUID
}

// CreationCommand and UpdateCommand split the command space the same way
// event.CreationEvent/event.UpdateEvent split the event space: Dispatch
// switches on which of these a concrete command satisfies to decide whether
// it creates a new aggregate or acts on an existing one, before it ever
// consults a Configuration registry.
type CreationCommand interface {
	Command
	creationCommand()
}

// UpdateCommand is a Command that acts on an aggregate already on the log.
type UpdateCommand interface {
	Command
	updateCommand()
}

// CreationCommandType is embedded by concrete creation commands to satisfy
// CreationCommand, following the teacher's CommandType embed in
// bus/command.go that supplied default method implementations for every
// concrete command.
type CreationCommandType struct{}

func (CreationCommandType) creationCommand() {}

// UpdateCommandType is embedded by concrete update commands to satisfy
// UpdateCommand.
type UpdateCommandType struct{}

func (UpdateCommandType) updateCommand() {}

// Configuration is the subset of aggregate.Configuration[...] the gateway
// needs: a type tag to stamp onto events, and the two type-erasing try
// methods that let the registry dispatch across every instantiation of the
// generic aggregate.Configuration without itself being generic. Every
// aggregate.Configuration[...] value already satisfies this interface. meta
// is the metadata record of the command actually being dispatched, passed
// through unconditionally so a "with metadata" configuration's Create/Update
// see the real caller-supplied record rather than one bound at registration.
type Configuration interface {
	Type() string
	TryCreate(cmd interface{}, meta event.Metadata) (bool, event.CreationEvent, error)
	TryUpdate(events []event.Event, cmd interface{}, meta event.Metadata) (bool, []event.UpdateEvent, error)
}
