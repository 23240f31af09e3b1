// Package natz publishes engine events to NATS.
package natz

import (
	"context"
	"fmt"
	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/common/telemetry"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/messages"
	"log/slog"
	"time"
)

// NatsConnConfiguration represents the configuration for a NATS connection.
type NatsConnConfiguration struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
}

// Connect opens a NATS connection that keeps reconnecting until it is closed.
func Connect(cfg NatsConnConfiguration) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	return conn, nil
}

// NatsConn is the part of a NATS connection the notifier publishes through.
type NatsConn interface {
	PublishMsg(msg *nats.Msg) error
}

// Notifier is a workflow.Notifier publishing every event as msgpack on messages.EventSubject.
// Publishing is fire and forget: a failure is logged and the event is lost.
type Notifier struct {
	conn NatsConn
}

// NewNotifier creates a notifier publishing through conn.
func NewNotifier(conn NatsConn) *Notifier {
	return &Notifier{conn: conn}
}

// Notify implements workflow.Notifier.
func (n *Notifier) Notify(ctx context.Context, ev workflow.Event) {
	msg, err := EncodeEvent(ctx, ev)
	if err != nil {
		logx.FromContext(ctx).Warn("encode event", slog.String(keys.EventType, string(ev.Type)), slog.Any("error", err))
		return
	}
	if err := n.conn.PublishMsg(msg); err != nil {
		logx.FromContext(ctx).Warn("publish event",
			slog.String(keys.EventType, string(ev.Type)),
			slog.String(keys.ProcessInstanceID, ev.ProcessInstanceID),
			slog.Any("error", err),
		)
	}
}

// EncodeEvent builds the message an event is published as. The trace context of ctx travels in the headers.
func EncodeEvent(ctx context.Context, ev workflow.Event) (*nats.Msg, error) {
	b, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	msg := nats.NewMsg(messages.EventSubject(string(ev.Type)))
	msg.Data = b
	msg.Header.Set(messages.HeaderEventType, string(ev.Type))
	msg.Header.Set(messages.HeaderProcessInstanceID, ev.ProcessInstanceID)
	if ev.ProcessKey != "" {
		msg.Header.Set(messages.HeaderProcessKey, ev.ProcessKey)
	}
	telemetry.CtxToNatsMsg(ctx, msg)
	return msg, nil
}

// DecodeEvent reads an event published by a Notifier. The returned context carries the publisher's trace context.
func DecodeEvent(ctx context.Context, msg *nats.Msg) (context.Context, workflow.Event, error) {
	var ev workflow.Event
	if err := msgpack.Unmarshal(msg.Data, &ev); err != nil {
		return ctx, ev, fmt.Errorf("unmarshal event from %s: %w", msg.Subject, err)
	}
	return telemetry.NatsMsgToCtx(ctx, msg), ev, nil
}
