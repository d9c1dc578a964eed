package fsm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fsm"

// startTransitionSpan creates a span covering one committed transition, including its
// actions and subscriber notifications. Uses the global tracer provider configured by
// the telemetry package. The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startTransitionSpan(ctx context.Context, machine, from, event, to string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "fsm.transition")
	span.SetAttributes(
		attribute.String("machine", machine),
		attribute.String("from", from),
		attribute.String("event", event),
		attribute.String("to", to),
	)

	return ctx, span
}
