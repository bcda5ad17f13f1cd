package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// OpenTelemetryTracer implements metrics.Tracer with one span per step and a child span per chunk.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer named name on tp.
func NewOpenTelemetryTracer(tp trace.TracerProvider, name string) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tp.Tracer(name)}
}

// StartStepSpan implements metrics.Tracer. The span records the final status and counters when ended.
func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunkflow.step", trace.WithAttributes(
		attribute.String("chunkflow.step.name", execution.StepName),
		attribute.String("chunkflow.step.execution_id", execution.ID),
	))
	return ctx, func() {
		c := execution.Counters
		span.SetAttributes(
			attribute.String("chunkflow.step.status", execution.Status.String()),
			attribute.Int("chunkflow.step.read_count", c.ReadCount),
			attribute.Int("chunkflow.step.write_count", c.WriteCount),
			attribute.Int("chunkflow.step.filter_count", c.FilterCount),
			attribute.Int("chunkflow.step.skip_count", c.SkipCount()),
			attribute.Int("chunkflow.step.commit_count", c.CommitCount),
			attribute.Int("chunkflow.step.rollback_count", c.RollbackCount),
		)
		if execution.Status == model.BatchStatusFailed {
			msg := "step failed"
			if n := len(execution.Failures); n > 0 {
				msg = execution.Failures[n-1]
			}
			span.SetStatus(codes.Error, msg)
		}
		span.End()
	}
}

// StartChunkSpan implements metrics.Tracer.
func (t *OpenTelemetryTracer) StartChunkSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	start := execution.Cursor.Position
	ctx, span := t.tracer.Start(ctx, "chunkflow.chunk", trace.WithAttributes(
		attribute.String("chunkflow.step.name", execution.StepName),
		attribute.Int64("chunkflow.chunk.start", start),
		attribute.String("chunkflow.chunk.mode", string(execution.Cursor.Mode)),
	))
	return ctx, func() {
		span.SetAttributes(attribute.Int64("chunkflow.chunk.end", execution.Cursor.Position))
		span.End()
	}
}

// RecordError implements metrics.Tracer on the span carried by ctx.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("chunkflow.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent implements metrics.Tracer on the span carried by ctx.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(m map[string]interface{}) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, val))
		case int:
			kvs = append(kvs, attribute.Int(k, val))
		case int64:
			kvs = append(kvs, attribute.Int64(k, val))
		case float64:
			kvs = append(kvs, attribute.Float64(k, val))
		case bool:
			kvs = append(kvs, attribute.Bool(k, val))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return kvs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
