// Package otelbridge exports reflow event traces as OpenTelemetry
// spans, for plug-and-play observability without implementing a trace
// callback by hand.
//
// Register the bridge's callback on a store:
//
//	bridge := otelbridge.New(otel.Tracer("reflow"))
//	store.AddTraceCallback("otel", bridge.Callback)
//
// Each event trace becomes one span named after the event key, with a
// child span per recorded effect execution.
package otelbridge

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/reflowlabs/reflow/trace"
)

// Bridge converts trace batches into OpenTelemetry spans.
type Bridge struct {
	tracer oteltrace.Tracer
}

// New creates a bridge emitting through the given tracer.
func New(tracer oteltrace.Tracer) *Bridge {
	return &Bridge{tracer: tracer}
}

// Callback is a trace.Callback converting each record in a batch to a
// span with per-effect child spans.
func (b *Bridge) Callback(batch []trace.Event) {
	ctx := context.Background()
	for _, ev := range batch {
		b.export(ctx, ev)
	}
}

func (b *Bridge) export(ctx context.Context, ev trace.Event) {
	ctx, span := b.tracer.Start(ctx, "event "+ev.EventKey,
		oteltrace.WithTimestamp(ev.Start),
		oteltrace.WithAttributes(
			attribute.String("reflow.event.key", ev.EventKey),
			attribute.String("reflow.trace.id", ev.ID),
			attribute.StringSlice("reflow.interceptors", ev.InterceptorIDs),
			attribute.Int("reflow.effect.count", len(ev.EffectExecutions)),
		))

	for _, fx := range ev.EffectExecutions {
		_, fxSpan := b.tracer.Start(ctx, "effect "+fx.Kind,
			oteltrace.WithTimestamp(fx.Start),
			oteltrace.WithAttributes(
				attribute.String("reflow.effect.kind", fx.Kind),
			))
		if fx.Err != nil {
			fxSpan.RecordError(fx.Err)
			fxSpan.SetStatus(codes.Error, fx.Err.Error())
		}
		fxSpan.End(oteltrace.WithTimestamp(fx.End))
	}

	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Err.Error())
	} else {
		span.SetStatus(codes.Ok, fmt.Sprintf("%d effects", len(ev.EffectExecutions)))
	}
	span.End(oteltrace.WithTimestamp(ev.End))
}
