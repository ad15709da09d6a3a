// Package gateway is the command-side entry point: it selects the
// registered aggregate Configuration a command belongs to, runs it against
// the event store, and retries the small number of conflicts that are safe
// to retry. It is the only component that mints event ids, assigns
// aggregate sequences, and decides aggregate type tags, following the
// teacher's Bus as the single place commands were routed and executed
// (bus/bus.go), narrowed from an arbitrary message router down to this
// spec's create/update command algebra.
package gateway

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/kestrelhq/escore/errors"
	"github.com/kestrelhq/escore/event"
	"github.com/kestrelhq/escore/eventstore"
)

// Now is overridable in tests; it supplies the created_at Dispatch seals
// onto every event it produces.
var Now = time.Now

// DefaultMaxRetries is how many attempts Dispatch makes at a step that keeps
// failing with errors.ConcurrencyError (the first attempt included), absent
// an explicit Config.MaxRetries.
const DefaultMaxRetries = 3

// Config tunes a Gateway's behaviour.
type Config struct {
	// MaxRetries bounds how many attempts, the first included, Dispatch makes
	// at a step that fails with ConcurrencyError before it gives up and
	// returns that error to the caller. Zero means DefaultMaxRetries.
	MaxRetries int
}

// Gateway routes commands to aggregate Configurations and sinks the events
// they produce, through an ordered middleware chain.
type Gateway struct {
	registry *Registry
	store    eventstore.Store
	config   Config
	chain    Handler
}

// New builds a Gateway over registry and store, wrapping the core dispatch
// handler with the given middleware, outermost first — the same
// outermost-first composition order bus.Default applied to its own
// CommandMiddleware slice.
func New(registry *Registry, store eventstore.Store, config Config, middleware ...Middleware) *Gateway {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	g := &Gateway{registry: registry, store: store, config: config}

	var chain Handler = g.dispatch
	for i := len(middleware) - 1; i >= 0; i-- {
		chain = middleware[i](chain)
	}
	g.chain = chain
	return g
}

// Default builds a Gateway with the standard guard/logging/error-blocking
// middleware trio, the gateway's equivalent of bus.Default.
func Default(registry *Registry, store eventstore.Store, config Config) *Gateway {
	return New(registry, store, config,
		guardMiddleware(CommandValidationGuard),
		CommandLoggingMiddleware,
		CommandErrorMiddleware,
	)
}

// guardMiddleware lifts a Guard into a Middleware, so the guard and
// handler-wrapping middleware share one chain-composition mechanism instead
// of two, unlike the teacher's bus which kept guards and middleware as
// separate slices applied in separate loops.
func guardMiddleware(g Guard) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd Command, meta event.Metadata) error {
			ctx, cmd, err := g(ctx, cmd)
			if err != nil {
				return err
			}
			return next(ctx, cmd, meta)
		}
	}
}

// Dispatch runs cmd through the middleware chain and the core command
// algebra from SPEC_FULL.md §4.G: select a Configuration, create or update,
// sink the result, retrying ConcurrencyError up to Config.MaxRetries.
func (g *Gateway) Dispatch(ctx context.Context, cmd Command, meta event.Metadata) error {
	return g.chain(ctx, cmd, meta)
}

func (g *Gateway) dispatch(ctx context.Context, cmd Command, meta event.Metadata) error {
	switch c := cmd.(type) {
	case CreationCommand:
		return g.dispatchCreate(ctx, c, meta)
	case UpdateCommand:
		return g.dispatchUpdate(ctx, c, meta)
	default:
		return errors.NoConstructorForCommand{Command: cmd}
	}
}

func (g *Gateway) dispatchCreate(ctx context.Context, cmd CreationCommand, meta event.Metadata) error {
	matched := false
	for attempt := 0; attempt < g.config.MaxRetries; attempt++ {
		var (
			aggregateType string
			created       event.CreationEvent
			err           error
		)
		for _, cfg := range g.registry.configurations() {
			ok, ev, tryErr := cfg.TryCreate(cmd, meta)
			if !ok {
				continue
			}
			matched = true
			aggregateType, created, err = cfg.Type(), ev, tryErr
			break
		}
		if !matched {
			return errors.NoConstructorForCommand{Command: cmd}
		}
		if err != nil {
			return err
		}

		buf := event.NewBuffer(cmd.AggregateID(), aggregateType, 0)
		sealed := buf.Seal(Now(), meta, created)

		err = g.store.Sink(ctx, cmd.AggregateID(), aggregateType, sealed...)
		if err == nil {
			return nil
		}

		var concurrency errors.ConcurrencyError
		if !stderrors.As(err, &concurrency) {
			return err
		}
	}
	return errors.ConcurrencyError{AggregateID: cmd.AggregateID()}
}

func (g *Gateway) dispatchUpdate(ctx context.Context, cmd UpdateCommand, meta event.Metadata) error {
	for attempt := 0; attempt < g.config.MaxRetries; attempt++ {
		events, err := g.store.EventsFor(ctx, cmd.AggregateID())
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return errors.AggregateNotFound{AggregateID: cmd.AggregateID()}
		}

		matched := false
		var (
			aggregateType string
			updated       []event.UpdateEvent
		)
		for _, cfg := range g.registry.configurations() {
			ok, evs, tryErr := cfg.TryUpdate(events, cmd, meta)
			if !ok {
				continue
			}
			matched = true
			aggregateType, updated, err = cfg.Type(), evs, tryErr
			break
		}
		if !matched {
			return errors.NoConstructorForCommand{Command: cmd}
		}
		if err != nil {
			return err
		}

		last := events[len(events)-1].AggregateSequence
		buf := event.NewBuffer(cmd.AggregateID(), aggregateType, last)
		bodies := make([]event.DomainEvent, len(updated))
		for i, ue := range updated {
			bodies[i] = ue
		}
		sealed := buf.Seal(Now(), meta, bodies...)

		err = g.store.Sink(ctx, cmd.AggregateID(), aggregateType, sealed...)
		if err == nil {
			return nil
		}

		var concurrency errors.ConcurrencyError
		if !stderrors.As(err, &concurrency) {
			return err
		}
	}
	return errors.ConcurrencyError{AggregateID: cmd.AggregateID()}
}
