package telemetry

import (
	"context"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"testing"
)

func TestNatsMsgRoundTripsSpanContext(t *testing.T) {
	ctx := context.Background()
	shutdown, err := SetUpHTTP(ctx, "", "test")
	require.NoError(t, err)
	defer func() { _ = shutdown(ctx) }()

	tp := trace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(ctx, "publish")
	defer span.End()

	msg := nats.NewMsg("BPMN.ProcessStarted")
	CtxToNatsMsg(ctx, msg)
	assert.NotEmpty(t, msg.Header.Get("traceparent"))

	got := oteltrace.SpanContextFromContext(NatsMsgToCtx(context.Background(), msg))
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())
}
