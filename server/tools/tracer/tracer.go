// Package tracer prints the runtime events an engine publishes to NATS.
package tracer

import (
	"context"
	"fmt"
	"github.com/nats-io/nats.go"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/server/messages"
	"gitlab.com/shar-workflow/bpmnrt/server/services/natz"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// OpenTrace represents a running trace.
type OpenTrace struct {
	conn *nats.Conn
}

// Close stops the trace once events already received are written, and closes the underlying connection.
func (o *OpenTrace) Close() error {
	if err := o.conn.Drain(); err != nil {
		return fmt.Errorf("drain trace connection: %w", err)
	}
	return nil
}

// Trace sets a consumer onto the runtime event messages and writes one line per event to w.
func Trace(ctx context.Context, natsURL string, w io.Writer) (*OpenTrace, error) {
	nc, err := natz.Connect(natz.NatsConnConfiguration{URL: natsURL, Name: "bpmnrt-tracer"})
	if err != nil {
		return nil, err
	}
	var mx sync.Mutex
	_, err = nc.Subscribe(messages.EventAll, func(msg *nats.Msg) {
		_, ev, err := natz.DecodeEvent(ctx, msg)
		if err != nil {
			logx.FromContext(ctx).Warn("trace", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		mx.Lock()
		defer mx.Unlock()
		_, _ = fmt.Fprintln(w, Format(msg.Subject, ev))
	})
	if err == nil {
		err = nc.Flush()
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", messages.EventAll, err)
	}
	return &OpenTrace{conn: nc}, nil
}

// Format renders an event on one line.
func Format(subject string, ev workflow.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s P:%s E:%s %s/%s", subject, last4(ev.ProcessInstanceID), last4(ev.ExecutionID), ev.ProcessKey, ev.NodeID)
	if ev.TransitionID != "" {
		b.WriteString(" ->" + ev.TransitionID)
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, " %q", ev.Name)
	}
	if len(ev.Variables) > 0 {
		names := make([]string, 0, len(ev.Variables))
		for k := range ev.Variables {
			names = append(names, k)
		}
		slices.Sort(names)
		b.WriteString(" [")
		for i, k := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%q: %+v", k, ev.Variables[k])
		}
		b.WriteString("]")
	}
	return b.String()
}

func last4(s string) string {
	if len(s) < 4 {
		return s
	}
	return s[len(s)-4:]
}
