// Package log is a small, level-gated structured logger. It carries a
// correlation id through context.Context and stamps every line with the
// calling file/line so log lines can be traced back to the code that
// emitted them.
package log

import (
	"context"
	stdlog "log"
	"os"
	"runtime"

	"github.com/google/uuid"

	"github.com/kestrelhq/escore/event"
)

type Level int

const (
	DEBUG Level = iota + 1
	INFO
	WARN
	ERROR
)

var level = INFO

// SetLevel changes the minimum level that will be emitted.
func SetLevel(lvl Level) {
	level = lvl
}

// F is a structured field map attached to a log line.
type F map[string]interface{}

type ctxIDKeyType string

var ctxIDKey = ctxIDKeyType("correlation_id")

// WithID seeds a correlation id into ctx, unless one is already present.
func WithID(ctx context.Context) context.Context {
	if CorrelationID(ctx) != uuid.Nil {
		return ctx
	}
	return context.WithValue(ctx, ctxIDKey, uuid.New())
}

// WithMetadata seeds ctx with the correlation id carried by an event.Metadata
// record, so a command dispatched with caller-supplied metadata logs under
// the same id a caller will use to query for it downstream.
func WithMetadata(ctx context.Context, meta event.Metadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxIDKey, meta.CorrelationID())
}

// CorrelationID returns the id stashed in ctx, or uuid.Nil if none was set.
func CorrelationID(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(ctxIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func logln(ctx context.Context, lvl string, msg string, fields F) {
	_, file, line, _ := runtime.Caller(2)
	if id := CorrelationID(ctx); id != uuid.Nil {
		stdlog.Printf("[%s] %s: %s %v (%s:%d)", id, lvl, msg, fields, file, line)
		return
	}
	stdlog.Printf("%s: %s %v (%s:%d)", lvl, msg, fields, file, line)
}

func Debug(ctx context.Context, msg string, fields F) {
	if level <= DEBUG {
		logln(ctx, "DEBUG", msg, fields)
	}
}

func Info(ctx context.Context, msg string, fields F) {
	if level <= INFO {
		logln(ctx, "INFO", msg, fields)
	}
}

func Warn(ctx context.Context, msg string, fields F) {
	if level <= WARN {
		logln(ctx, "WARN", msg, fields)
	}
}

// Error logs msg/err at ERROR and returns it unchanged, so call sites can
// write `return log.Error(ctx, err, log.F{...})`.
func Error(ctx context.Context, err error, fields F) error {
	if level <= ERROR {
		logln(ctx, "ERROR", err.Error(), fields)
	}
	return err
}

// Fatal logs and exits the process. Reserved for startup failures (eg. a
// dialect's schema could not be created), never for request-scoped errors.
func Fatal(msg string, fields F) {
	stdlog.Printf("FATAL: %s %v", msg, fields)
	os.Exit(1)
}

// Panic logs at PANIC and then panics with err.
func Panic(ctx context.Context, err error, fields F) {
	if level <= ERROR {
		logln(ctx, "PANIC", err.Error(), fields)
	}
	panic(err)
}
