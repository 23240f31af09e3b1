// Package interceptors holds command interceptors that observe the engine from the outside.
package interceptors

import (
	"context"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Priorities of the interceptors in this package. Both run outside workflow.LoggingInterceptor.
const (
	TracingPriority = 30
	MetricsPriority = 20
)

const tracerName = "gitlab.com/shar-workflow/bpmnrt"

// Tracing opens a span for every command. Nested commands become child spans.
type Tracing struct {
	tracer trace.Tracer
}

// NewTracing creates a tracing interceptor using tp.
func NewTracing(tp trace.TracerProvider) *Tracing {
	return &Tracing{tracer: tp.Tracer(tracerName)}
}

// Priority implements workflow.Interceptor.
func (t *Tracing) Priority() int { return TracingPriority }

// Intercept implements workflow.Interceptor.
func (t *Tracing) Intercept(ctx context.Context, cmd workflow.Command, next workflow.Next) (any, error) {
	attrs := []attribute.KeyValue{attribute.String("bpmnrt.command", cmd.Name())}
	if cc, ok := workflow.CommandContextFrom(ctx); ok {
		attrs = append(attrs, attribute.Int("bpmnrt.depth", cc.Depth()))
	}
	ctx, span := t.tracer.Start(ctx, "bpmnrt."+cmd.Name(), trace.WithAttributes(attrs...))
	defer span.End()
	res, err := next(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("bpmnrt.fatal", errors.IsFatal(err)))
		return nil, err
	}
	return res, nil
}
