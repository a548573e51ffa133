package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// tracer and meter use the global otel API rather than a package-owned SDK,
// so the engine emits spans and metrics wherever a host process has
// configured a TracerProvider/MeterProvider, and is a safe no-op otherwise.
var (
	tracer = otel.Tracer("github.com/c360studio/agentflow/engine")
	meter  = otel.Meter("github.com/c360studio/agentflow/engine")

	stepCompletions metric.Int64Counter
)

func init() {
	c, err := meter.Int64Counter(
		"agentflow.engine.step_completions",
		metric.WithDescription("Workflow steps committed to shared state, by terminal status"),
	)
	if err == nil {
		stepCompletions = c
	}
}

// startStepSpan opens a span covering one step's executor.Registry.Execute
// call. The returned function must be called exactly once with the
// execution's error (nil on success) to end the span.
func startStepSpan(ctx context.Context, threadID, stepID string, attempt int) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "engine.step",
		trace.WithAttributes(
			attribute.String("thread_id", threadID),
			attribute.String("step_id", stepID),
			attribute.Int("attempt", attempt),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// recordStepCompletion increments the step-completion counter by terminal
// status. Called from commitResult, which both stepRound (after runStep)
// and resumeApprovals (after an approval-resumed step) converge on, so this
// single call site covers every way a step can finish.
func recordStepCompletion(status string) {
	if stepCompletions == nil {
		return
	}
	stepCompletions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}
