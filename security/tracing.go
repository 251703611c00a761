package security

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/folio-works/adminguard/instrumentation"
)

var noopTracer = noop.NewTracerProvider().Tracer("")

func (rl *RateLimiter) startSpan(ctx context.Context, name, limitType string) (context.Context, trace.Span) {
	return startSpan(ctx, rl.inst, name, attribute.String(instrumentation.AttrLimitType, limitType))
}

func startSpan(ctx context.Context, inst *instrumentation.Instrumentation, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := noopTracer
	if inst != nil {
		tracer = inst.Tracer("security")
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
