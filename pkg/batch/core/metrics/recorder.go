// Package metrics defines the observability ports of the chunk engine.
// Implementations live in infrastructure/metrics; the no-op versions here are the defaults.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MetricRecorder records step and chunk level metrics.
type MetricRecorder interface {
	// RecordStepStart records the start of a step execution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	// RecordStepEnd records the terminal status and duration of a step execution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)
	// RecordChunkCommit records a committed chunk and the number of items written.
	RecordChunkCommit(ctx context.Context, stepName string, written int)
	// RecordChunkRollback records a chunk discarded by a retry or a fatal failure.
	RecordChunkRollback(ctx context.Context, stepName string, reason string)
	// RecordItemSkip records a skipped item (or discarded chunk, for the write phase).
	RecordItemSkip(ctx context.Context, stepName string, phase string, rule string)
	// RecordItemRetry records a retry classification.
	RecordItemRetry(ctx context.Context, stepName string, phase string, rule string)
	// RecordItemFilter records a filtered item.
	RecordItemFilter(ctx context.Context, stepName string)
	// RecordRecoveryMode records entering (true) or leaving (false) recovery mode.
	RecordRecoveryMode(ctx context.Context, stepName string, recovering bool)
	// RecordDuration records an arbitrary timing.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

// NoOpMetricRecorder is a MetricRecorder that does nothing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {}
func (r *NoOpMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution)   {}
func (r *NoOpMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, written int) {}
func (r *NoOpMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
}
func (r *NoOpMetricRecorder) RecordItemSkip(ctx context.Context, stepName, phase, rule string)  {}
func (r *NoOpMetricRecorder) RecordItemRetry(ctx context.Context, stepName, phase, rule string) {}
func (r *NoOpMetricRecorder) RecordItemFilter(ctx context.Context, stepName string)             {}
func (r *NoOpMetricRecorder) RecordRecoveryMode(ctx context.Context, stepName string, recovering bool) {
}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)
