package telemetry

import (
	"context"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// CtxToNatsMsg injects the span context held by ctx into the message headers.
func CtxToNatsMsg(ctx context.Context, msg *nats.Msg) {
	otel.GetTextMapPropagator().Inject(ctx, NewNatsMsgCarrier(msg))
}

// NatsMsgToCtx extracts a remote span context from the message headers.
func NatsMsgToCtx(ctx context.Context, msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, NewNatsMsgCarrier(msg))
}
