package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

// startStepSpan opens a span for one step dispatch, grounded on the
// teacher's observability tracer wiring. A nil Tracer is valid: the
// engine runs untraced.
func (e *Engine) startStepSpan(ctx context.Context, step *workflow.Step) (context.Context, trace.Span) {
	if e.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.Tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.name", step.Name),
			attribute.String("step.kind", string(step.Kind)),
		),
	)
}
