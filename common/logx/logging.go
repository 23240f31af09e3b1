package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ContextKey is a custom type to avoid context collision.
type ContextKey string

const (
	CorrelationContextKey = ContextKey("cid") // CorrelationContextKey is the name of the context key used to store the correlationID.
	EcoSystemLoggingKey   = "eco"             // EcoSystemLoggingKey is the name of the logging key used to store the current ecosystem.
	SubsystemLoggingKey   = "sub"             // SubsystemLoggingKey is the name of the logging key used to store the current subsystem.
	CorrelationLoggingKey = "cid"             // CorrelationLoggingKey is the name of the logging key used to store the correlation id.
	AreaLoggingKey        = "loc"             // AreaLoggingKey is the name of the logging key used to store the functional area.
)

// Err will output error message to the log and return the error with additional attributes.
func Err(ctx context.Context, message string, err error, atts ...any) error {
	l := FromContext(ctx)
	if l.Enabled(ctx, slog.LevelError) {
		l.ErrorContext(ctx, message, append([]any{slog.String("error", err.Error())}, atts...)...)
	}
	return fmt.Errorf(message+" %s : %w", fmt.Sprint(atts...), err)
}

// NewHandler creates the slog handler named by handler ("json" or "text") writing to w.
func NewHandler(handler string, w io.Writer, level slog.Level, addSource bool) slog.Handler {
	o := &slog.HandlerOptions{
		AddSource: addSource,
		Level:     level,
	}
	switch handler {
	case "json":
		return slog.NewJSONHandler(w, o)
	default:
		return slog.NewTextHandler(w, o)
	}
}

// SetDefault installs the process wide logger.
func SetDefault(handler string, level slog.Level, addSource bool, ecosystem string) {
	h := NewHandler(handler, os.Stdout, level, addSource)
	slog.SetDefault(slog.New(h).With(slog.String(EcoSystemLoggingKey, ecosystem)))
}

// ParseLevel converts a configured level name into a slog level. Unknown names map to error.
func ParseLevel(name string) (slog.Level, bool) {
	switch name {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, false
	case "warn":
		return slog.LevelWarn, false
	default:
		return slog.LevelError, false
	}
}

type contextLoggerKey string

var ctxLogKey contextLoggerKey = "__log"

// ContextWith obtains a new logger with an area parameter.  Typically it should be used when obtaining a logger within a programmatic boundary.
func ContextWith(ctx context.Context, area string) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(AreaLoggingKey, area)
	return NewContext(ctx, logger), logger
}

// NewContext creates a new context with the specified logger
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogKey, logger)
}

// FromContext obtains a logger from the context or takes the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxLogKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Entrypoint returns a new logger and a context containing the logger for use when work enters the engine
// from outside, such as a job picked up by a worker.
func Entrypoint(ctx context.Context, subsystem string, correlationID string) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(slog.String(SubsystemLoggingKey, subsystem), slog.String(CorrelationLoggingKey, correlationID))
	ctx = NewContext(ctx, logger)
	ctx = context.WithValue(ctx, CorrelationContextKey, correlationID)
	return ctx, logger
}
