// Package metrics decorates the configured MetricRecorder so that the chunk loop never blocks on metric backends.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultBufferSize is used when NewAsyncMetricRecorder receives a non-positive size.
const DefaultBufferSize = 100

// MetricEvent is a queued call to the wrapped recorder.
type MetricEvent struct {
	Type          string
	Ctx           context.Context
	StepExecution *model.StepExecution
	StepName      string
	Count         int
	Phase         string
	Rule          string
	Reason        string
	Recovering    bool
	Duration      time.Duration
	Tags          map[string]string
}

// Metric event type constants
const (
	MetricEventTypeStepStart      = "step_start"
	MetricEventTypeStepEnd        = "step_end"
	MetricEventTypeChunkCommit    = "chunk_commit"
	MetricEventTypeChunkRollback  = "chunk_rollback"
	MetricEventTypeItemSkip       = "item_skip"
	MetricEventTypeItemRetry      = "item_retry"
	MetricEventTypeItemFilter     = "item_filter"
	MetricEventTypeRecoveryMode   = "recovery_mode"
	MetricEventTypeRecordDuration = "record_duration"
)

// AsyncMetricRecorder pushes events onto a bounded queue and replays them against
// the wrapped recorder on a single worker goroutine. Events are dropped with a
// warning when the queue is full.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder starts the worker goroutine. Call Close to drain and stop it.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := event.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	switch event.Type {
	case MetricEventTypeStepStart:
		r.syncRecorder.RecordStepStart(ctx, event.StepExecution)
	case MetricEventTypeStepEnd:
		r.syncRecorder.RecordStepEnd(ctx, event.StepExecution)
	case MetricEventTypeChunkCommit:
		r.syncRecorder.RecordChunkCommit(ctx, event.StepName, event.Count)
	case MetricEventTypeChunkRollback:
		r.syncRecorder.RecordChunkRollback(ctx, event.StepName, event.Reason)
	case MetricEventTypeItemSkip:
		r.syncRecorder.RecordItemSkip(ctx, event.StepName, event.Phase, event.Rule)
	case MetricEventTypeItemRetry:
		r.syncRecorder.RecordItemRetry(ctx, event.StepName, event.Phase, event.Rule)
	case MetricEventTypeItemFilter:
		r.syncRecorder.RecordItemFilter(ctx, event.StepName)
	case MetricEventTypeRecoveryMode:
		r.syncRecorder.RecordRecoveryMode(ctx, event.StepName, event.Recovering)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.StepName, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops accepting work, records every queued event and waits for the worker.
// It is safe to call more than once.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		logger.Debugf("AsyncMetricRecorder: Sending shutdown signal...")
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *AsyncMetricRecorder) sendEvent(ctx context.Context, event MetricEvent) {
	select {
	case <-r.stopCh:
		logger.Warnf("AsyncMetricRecorder: Recorder is closed (type: %s, step: %s). Event discarded.", event.Type, event.StepName)
		return
	default:
	}
	// The step's context may be cancelled before the worker gets to the event.
	event.Ctx = context.WithoutCancel(ctx)
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s, step: %s). Event discarded.", event.Type, event.StepName)
	}
}

func (r *AsyncMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeStepStart, StepExecution: execution, StepName: execution.StepName})
}

func (r *AsyncMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeStepEnd, StepExecution: execution, StepName: execution.StepName})
}

func (r *AsyncMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, written int) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeChunkCommit, StepName: stepName, Count: written})
}

func (r *AsyncMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeChunkRollback, StepName: stepName, Reason: reason})
}

func (r *AsyncMetricRecorder) RecordItemSkip(ctx context.Context, stepName string, phase string, rule string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemSkip, StepName: stepName, Phase: phase, Rule: rule})
}

func (r *AsyncMetricRecorder) RecordItemRetry(ctx context.Context, stepName string, phase string, rule string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemRetry, StepName: stepName, Phase: phase, Rule: rule})
}

func (r *AsyncMetricRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemFilter, StepName: stepName})
}

func (r *AsyncMetricRecorder) RecordRecoveryMode(ctx context.Context, stepName string, recovering bool) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeRecoveryMode, StepName: stepName, Recovering: recovering})
}

// RecordDuration queues a timing. The name travels in the StepName field.
func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeRecordDuration, StepName: name, Duration: duration, Tags: tags})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper is used with fx.Decorate. When metrics.async_buffer_size
// is not positive the recorder is returned unchanged; otherwise it is wrapped and the
// queue is drained on application stop.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	bufferSize := cfg.Chunkflow.Metrics.AsyncBufferSize
	if bufferSize <= 0 {
		return syncRecorder
	}
	asyncRecorder := NewAsyncMetricRecorder(bufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}
