package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepFilterCount     *prometheus.CounterVec

	chunkCommitCount   *prometheus.CounterVec
	chunkRollbackCount *prometheus.CounterVec
	itemWriteCount     *prometheus.CounterVec
	itemFilterCount    *prometheus.CounterVec
	itemSkipCounter    *prometheus.CounterVec
	itemRetryCounter   *prometheus.CounterVec
	recoveringGauge    *prometheus.GaugeVec
	durationSeconds    *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registering its collectors, plus the Go and process collectors,
// in a registry of its own. Every metric name starts with namespace.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step_name", "status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_status_total",
			Help:      "Step executions by status, counted at start and at the end.",
		}, []string{"step_name", "status"}),
		stepReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_read_total",
			Help:      "Items read by finished step executions.",
		}, []string{"step_name"}),
		stepFilterCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_filter_total",
			Help:      "Items filtered by finished step executions.",
		}, []string{"step_name"}),
		chunkCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_commit_total",
			Help:      "Committed chunks.",
		}, []string{"step_name"}),
		chunkRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_rollback_total",
			Help:      "Chunks rolled back, by reason.",
		}, []string{"step_name", "reason"}),
		itemWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_write_total",
			Help:      "Items written by committed chunks.",
		}, []string{"step_name"}),
		itemFilterCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_filter_total",
			Help:      "Items filtered by the processor.",
		}, []string{"step_name"}),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_skip_total",
			Help:      "Skip classifications by phase and rule.",
		}, []string{"step_name", "phase", "rule"}),
		itemRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_retry_total",
			Help:      "Retry classifications by phase and rule.",
		}, []string{"step_name", "phase", "rule"}),
		recoveringGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_recovering",
			Help:      "1 while the step commits one position per chunk after a retry.",
		}, []string{"step_name"}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of named operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "step_name"}),
	}

	registry.MustRegister(
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.stepReadCount,
		r.stepFilterCount,
		r.chunkCommitCount,
		r.chunkRollbackCount,
		r.itemWriteCount,
		r.itemFilterCount,
		r.itemSkipCounter,
		r.itemRetryCounter,
		r.recoveringGauge,
		r.durationSeconds,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordStepStart implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.StepName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd implements metrics.MetricRecorder.
// Read and filter totals are added once per execution, at its end.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	stepName := execution.StepName
	status := execution.Status.String()
	r.stepStatusCounter.WithLabelValues(stepName, status).Inc()
	r.stepReadCount.WithLabelValues(stepName).Add(float64(execution.Counters.ReadCount))
	r.stepFilterCount.WithLabelValues(stepName).Add(float64(execution.Counters.FilterCount))
	r.recoveringGauge.WithLabelValues(stepName).Set(0)

	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.stepDurationSeconds.WithLabelValues(stepName, status).Observe(duration)
	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", stepName, duration)
}

// RecordChunkCommit implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, written int) {
	r.chunkCommitCount.WithLabelValues(stepName).Inc()
	r.itemWriteCount.WithLabelValues(stepName).Add(float64(written))
}

// RecordChunkRollback implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.chunkRollbackCount.WithLabelValues(stepName, reason).Inc()
}

// RecordItemSkip implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, stepName, phase, rule string) {
	r.itemSkipCounter.WithLabelValues(stepName, phase, rule).Inc()
}

// RecordItemRetry implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordItemRetry(ctx context.Context, stepName, phase, rule string) {
	r.itemRetryCounter.WithLabelValues(stepName, phase, rule).Inc()
}

// RecordItemFilter implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.itemFilterCount.WithLabelValues(stepName).Inc()
}

// RecordRecoveryMode implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordRecoveryMode(ctx context.Context, stepName string, recovering bool) {
	v := 0.0
	if recovering {
		v = 1
	}
	r.recoveringGauge.WithLabelValues(stepName).Set(v)
}

// RecordDuration implements metrics.MetricRecorder. The "step_name" tag, if any, becomes a label.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.durationSeconds.WithLabelValues(name, tags["step_name"]).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
