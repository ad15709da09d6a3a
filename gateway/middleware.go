package gateway

import (
	"context"
	"fmt"

	"github.com/kestrelhq/escore/errors"
	"github.com/kestrelhq/escore/event"
	"github.com/kestrelhq/escore/log"
)

// Handler executes a single command, the gateway's equivalent of the
// teacher's bus.CommandHandler.
type Handler func(ctx context.Context, cmd Command, meta event.Metadata) error

// Middleware wraps a Handler with cross-cutting behaviour, mirroring the
// teacher's CommandMiddleware = func(CommandHandler) CommandHandler shape in
// bus/middleware.go.
type Middleware func(Handler) Handler

// Guard inspects (and may reject) a command before the handler chain runs,
// the same role the teacher's CommandGuard played ahead of CommandHandler.
type Guard func(ctx context.Context, cmd Command) (context.Context, Command, error)

// CommandValidationGuard rejects a command that fails its own Valid check,
// directly adapted from bus/middleware.go's CommandValidationGuard.
func CommandValidationGuard(ctx context.Context, cmd Command) (context.Context, Command, error) {
	if err := cmd.Valid(); err != nil {
		return ctx, cmd, err
	}
	return ctx, cmd, nil
}

// CommandLoggingMiddleware logs the start and end of command execution,
// directly adapted from bus/middleware.go's CommandLoggingMiddleware.
func CommandLoggingMiddleware(next Handler) Handler {
	return func(ctx context.Context, cmd Command, meta event.Metadata) error {
		ctx = log.WithMetadata(ctx, meta)
		log.Info(ctx, "dispatching command", log.F{"command": commandName(cmd)})

		err := next(ctx, cmd, meta)

		log.Info(ctx, "finished dispatching command", log.F{"command": commandName(cmd), "error": errString(err)})
		return err
	}
}

// CommandErrorMiddleware blocks internal errors from escaping the gateway,
// directly adapted from errors/middleware.go's CommandErrorMiddleware: any
// error that isn't already a CommandError is replaced with
// errors.InternalError before it reaches the caller.
func CommandErrorMiddleware(next Handler) Handler {
	return func(ctx context.Context, cmd Command, meta event.Metadata) error {
		err := next(ctx, cmd, meta)
		if err == nil {
			return nil
		}
		if _, ok := err.(errors.CommandError); ok {
			return err
		}
		log.Error(ctx, err, log.F{"command": commandName(cmd)})
		return errors.InternalError
	}
}

func commandName(cmd Command) string {
	return fmt.Sprintf("%T", cmd)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
