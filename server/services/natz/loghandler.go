package natz

import (
	"context"
	"fmt"
	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
	"gitlab.com/shar-workflow/bpmnrt/common/telemetry"
	"gitlab.com/shar-workflow/bpmnrt/server/messages"
	"log/slog"
	"os"
	"slices"
	"time"
)

// LogRecord is a log record as published by a LogHandler.
type LogRecord struct {
	Hostname   string            `msgpack:"hostname"`
	Time       time.Time         `msgpack:"time"`
	Level      string            `msgpack:"level"`
	Message    string            `msgpack:"message"`
	Attributes map[string]string `msgpack:"attributes,omitempty"`
}

// LogHandler is a slog.Handler publishing each record to NATS on messages.LogSubject.
type LogHandler struct {
	conn        NatsConn
	level       slog.Leveler
	hostname    string
	groupPrefix string
	attrs       []slog.Attr
}

// NewLogHandler creates a handler publishing records at or above level through conn.
func NewLogHandler(conn NatsConn, level slog.Leveler) *LogHandler {
	hostname, _ := os.Hostname()
	return &LogHandler{conn: conn, level: level, hostname: hostname}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	attr := make(map[string]string, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attr[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		a = withGroupPrefix(h.groupPrefix, a)
		attr[a.Key] = a.Value.String()
		return true
	})
	b, err := msgpack.Marshal(LogRecord{
		Hostname:   h.hostname,
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: attr,
	})
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	msg := nats.NewMsg(messages.LogSubject(r.Level.String()))
	msg.Data = b
	telemetry.CtxToNatsMsg(ctx, msg)
	if err := h.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish log record: %w", err)
	}
	return nil
}

func withGroupPrefix(groupPrefix string, attr slog.Attr) slog.Attr {
	if groupPrefix != "" {
		attr.Key = groupPrefix + attr.Key
	}
	return attr
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	ret := *h
	ret.attrs = slices.Clip(h.attrs)
	for _, a := range attrs {
		ret.attrs = append(ret.attrs, withGroupPrefix(h.groupPrefix, a))
	}
	return &ret
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	ret := *h
	ret.groupPrefix = h.groupPrefix + name + "."
	return &ret
}

// DecodeLogRecord reads a record published by a LogHandler.
func DecodeLogRecord(msg *nats.Msg) (LogRecord, error) {
	var lr LogRecord
	if err := msgpack.Unmarshal(msg.Data, &lr); err != nil {
		return lr, fmt.Errorf("unmarshal log record from %s: %w", msg.Subject, err)
	}
	return lr, nil
}
