// Package telemetry wraps OpenTelemetry tracing for plan execution and
// verification. Spans go to the globally registered tracer provider, which is
// a no-op unless the embedding host installs one.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/felixgeelhaar/taskforge"

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

// StartCommandSpan creates the root span of a CLI command.
func StartCommandSpan(ctx context.Context, command string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "command."+command, trace.WithAttributes(
		attribute.String("command", command),
		attribute.String("component", "cli"),
	))
}

// StartPlanSpan creates a span for a plan execution.
//
// Usage:
//
//	ctx, span := telemetry.StartPlanSpan(ctx, plan.ID, len(plan.Tasks))
//	defer span.End()
func StartPlanSpan(ctx context.Context, planID string, taskCount int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "plan.execute", trace.WithAttributes(
		attribute.String("plan.id", planID),
		attribute.Int("plan.task_count", taskCount),
		attribute.String("component", "planner"),
	))
}

// StartTaskSpan creates a span for one task, retries included.
func StartTaskSpan(ctx context.Context, planID, taskID, taskType string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "task.execute", trace.WithAttributes(
		attribute.String("plan.id", planID),
		attribute.String("task.id", taskID),
		attribute.String("task.type", taskType),
	))
}

// StartVerificationSpan creates a span for a verification run.
func StartVerificationSpan(ctx context.Context, strategy string, fileCount int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "verification.run", trace.WithAttributes(
		attribute.String("verification.strategy", strategy),
		attribute.Int("verification.file_count", fileCount),
		attribute.String("component", "verify"),
	))
}

// StartRuleSpan creates a span for a single rule execution.
func StartRuleSpan(ctx context.Context, ruleID string, critical bool) (context.Context, trace.Span) {
	return tracer().Start(ctx, "verification.rule", trace.WithAttributes(
		attribute.String("rule.id", ruleID),
		attribute.Bool("rule.critical", critical),
	))
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordDuration records the duration of an operation as a span attribute.
func RecordDuration(span trace.Span, name string, d time.Duration) {
	span.SetAttributes(attribute.Int64(name+"_ms", d.Milliseconds()))
}
