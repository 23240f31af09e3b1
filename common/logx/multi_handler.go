package logx

import (
	"context"
	"log/slog"
)

// MultiHandler hands every record to each of its handlers that is enabled for the record's level.
type MultiHandler struct {
	Handlers []slog.Handler
}

// NewMultiHandler creates a handler fanning out to handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{Handlers: handlers}
}

// Enabled implements slog.Handler.
func (mh *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range mh.Handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler. Every enabled handler sees the record; the first error is returned.
func (mh *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range mh.Handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WithAttrs implements slog.Handler.
func (mh *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlersWithAttrs := make([]slog.Handler, 0, len(mh.Handlers))
	for _, h := range mh.Handlers {
		handlersWithAttrs = append(handlersWithAttrs, h.WithAttrs(attrs))
	}
	return &MultiHandler{Handlers: handlersWithAttrs}
}

// WithGroup implements slog.Handler.
func (mh *MultiHandler) WithGroup(name string) slog.Handler {
	hWithGroup := make([]slog.Handler, 0, len(mh.Handlers))
	for _, h := range mh.Handlers {
		hWithGroup = append(hWithGroup, h.WithGroup(name))
	}
	return &MultiHandler{Handlers: hWithGroup}
}
