// Package item implements the chunk-oriented step: the step runner that drives
// a step to a terminal status, and the chunk controller that reads, processes
// and writes one chunk at a time.
package item

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/checkpoint"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/classify"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/recovery"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultCommitInterval is used when no commit interval is configured.
const DefaultCommitInterval = 10

// ChunkStep is a port.Step that processes items in chunks.
// I is the type read from the source, O the type written to the sink.
type ChunkStep[I, O any] struct {
	name      string
	reader    port.ItemReader[I]
	processor port.ItemProcessor[I, O]
	writer    port.ItemWriter[O]

	commitInterval    int
	chunkTimeout      time.Duration
	failurePointMode  recovery.FailurePointMode
	noRollbackOnWrite bool

	skipPolicy  *skip.Policy
	retryPolicy *retry.Policy
	classifier  *classify.Classifier

	stepRepository repository.StepExecution
	checkpointRepo repository.CheckpointDataRepository
	txManager      tx.TransactionManager
	txOptions      *sql.TxOptions
	userData       port.PersistentUserDataRecorder

	stepExecutionListeners []port.StepExecutionListener
	chunkListeners         []port.ChunkListener
	skipListeners          []port.SkipListener
	retryListeners         []port.RetryListener

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*ChunkStep[any, any])(nil)

// Option configures a ChunkStep.
type Option[I, O any] func(*ChunkStep[I, O])

// WithCommitInterval sets the number of successfully read items per chunk in NORMAL mode.
func WithCommitInterval[I, O any](n int) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.commitInterval = n }
}

// WithSkipPolicy sets the skippable rules.
func WithSkipPolicy[I, O any](p *skip.Policy) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.skipPolicy = p }
}

// WithRetryPolicy sets the retryable rules and backoff.
func WithRetryPolicy[I, O any](p *retry.Policy) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.retryPolicy = p }
}

// WithFailurePointMode selects how failure points are recorded on retry.
func WithFailurePointMode[I, O any](m recovery.FailurePointMode) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.failurePointMode = m }
}

// WithNoRollbackOnWrite makes a retryable write failure discard the chunk instead of re-driving it.
func WithNoRollbackOnWrite[I, O any](enabled bool) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.noRollbackOnWrite = enabled }
}

// WithChunkTimeout bounds the time one chunk may take. Zero disables the timeout.
func WithChunkTimeout[I, O any](d time.Duration) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.chunkTimeout = d }
}

// WithStepRepository persists the StepExecution at start, after every commit and at the end.
func WithStepRepository[I, O any](r repository.StepExecution) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.stepRepository = r }
}

// WithCheckpointRepository sets where checkpoints are stored.
func WithCheckpointRepository[I, O any](r repository.CheckpointDataRepository) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.checkpointRepo = r }
}

// WithTransactionManager sets the manager chunk transactions are begun with.
func WithTransactionManager[I, O any](m tx.TransactionManager, opts *sql.TxOptions) Option[I, O] {
	return func(s *ChunkStep[I, O]) {
		s.txManager = m
		s.txOptions = opts
	}
}

// WithPersistentUserDataRecorder sets an external recorder of committed item identifiers.
func WithPersistentUserDataRecorder[I, O any](r port.PersistentUserDataRecorder) Option[I, O] {
	return func(s *ChunkStep[I, O]) { s.userData = r }
}

// WithListeners registers each listener under every listener interface it implements.
func WithListeners[I, O any](listeners ...interface{}) Option[I, O] {
	return func(s *ChunkStep[I, O]) {
		for _, l := range listeners {
			if sl, ok := l.(port.StepExecutionListener); ok {
				s.stepExecutionListeners = append(s.stepExecutionListeners, sl)
			}
			if cl, ok := l.(port.ChunkListener); ok {
				s.chunkListeners = append(s.chunkListeners, cl)
			}
			if kl, ok := l.(port.SkipListener); ok {
				s.skipListeners = append(s.skipListeners, kl)
			}
			if rl, ok := l.(port.RetryListener); ok {
				s.retryListeners = append(s.retryListeners, rl)
			}
		}
	}
}

// WithMetrics sets the metric recorder and tracer.
func WithMetrics[I, O any](recorder metrics.MetricRecorder, tracer metrics.Tracer) Option[I, O] {
	return func(s *ChunkStep[I, O]) {
		if recorder != nil {
			s.metricRecorder = recorder
		}
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewChunkStep creates a ChunkStep. A nil processor passes items through unchanged,
// which requires I and O to be the same type.
func NewChunkStep[I, O any](
	name string,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	opts ...Option[I, O],
) *ChunkStep[I, O] {
	s := &ChunkStep[I, O]{
		name:             name,
		reader:           reader,
		processor:        processor,
		writer:           writer,
		commitInterval:   DefaultCommitInterval,
		failurePointMode: recovery.Compatible,
		metricRecorder:   metrics.NewNoOpMetricRecorder(),
		tracer:           metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.commitInterval < 1 {
		s.commitInterval = DefaultCommitInterval
	}
	if s.skipPolicy == nil {
		s.skipPolicy = skip.NewPolicy()
	}
	if s.retryPolicy == nil {
		s.retryPolicy = retry.NewPolicy()
	}
	if s.txManager == nil {
		s.txManager = tx.NewNoOpTransactionManager()
	}
	s.classifier = classify.New(s.skipPolicy, s.retryPolicy)
	return s
}

// StepName returns the step name.
func (s *ChunkStep[I, O]) StepName() string {
	return s.name
}

// CommitInterval returns the configured chunk size.
func (s *ChunkStep[I, O]) CommitInterval() int {
	return s.commitInterval
}

// Classifier returns the classifier of the step, for inspection of rule counts.
func (s *ChunkStep[I, O]) Classifier() *classify.Classifier {
	return s.classifier
}

// RunStep creates a StepExecution and executes the step with it.
func (s *ChunkStep[I, O]) RunStep(ctx context.Context) (*model.StepExecution, error) {
	se := model.NewStepExecution(s.name)
	err := s.Execute(ctx, se)
	return se, err
}

// Execute drives the step until the source is exhausted, a failure is FATAL or ctx is cancelled.
// It returns nil for COMPLETED, the fatal cause for FAILED and the context error for STOPPED.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, se *model.StepExecution) (err error) {
	logger.Infof("ChunkStep '%s' executing.", s.name)

	ctx, endSpan := s.tracer.StartStepSpan(ctx, se)
	defer endSpan()

	se.MarkAsStarted()
	if s.stepRepository != nil {
		if saveErr := s.stepRepository.SaveStepExecution(ctx, se); saveErr != nil {
			if updateErr := s.stepRepository.UpdateStepExecution(ctx, se); updateErr != nil {
				se.MarkAsFailed(saveErr)
				return exception.NewBatchError(s.name, "failed to persist StepExecution", saveErr, false, false)
			}
		}
	}
	s.metricRecorder.RecordStepStart(ctx, se)
	for _, l := range s.stepExecutionListeners {
		l.BeforeStep(ctx, se)
	}

	result := ChunkFatal
	c, err := s.open(ctx, se)
	if err == nil {
		result, err = s.loop(ctx, c)
		if closeErr := s.close(ctx); closeErr != nil {
			logger.Warnf("ChunkStep '%s': failed to close components: %v", s.name, closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}

	switch {
	case err == nil:
		se.MarkAsCompleted()
		if c != nil {
			if completeErr := c.checkpoints.Complete(ctx); completeErr != nil {
				logger.Warnf("ChunkStep '%s': %v", s.name, completeErr)
			}
		}
	case result == ChunkStopped:
		se.MarkAsStopped()
	default:
		s.tracer.RecordError(ctx, s.name, err)
		se.MarkAsFailed(err)
	}

	for _, l := range s.stepExecutionListeners {
		l.AfterStep(ctx, se)
	}
	s.metricRecorder.RecordStepEnd(ctx, se)
	s.updateStepExecution(ctx, se)

	logger.Infof("ChunkStep '%s' finished. ExitStatus: %s, read=%d, written=%d, commits=%d, skips=%d, retries=%d",
		s.name, se.ExitStatus, se.Counters.ReadCount, se.Counters.WriteCount,
		se.Counters.CommitCount, se.Counters.SkipCount(), se.Counters.RetryCount)
	return err
}

// open restores the last checkpoint and opens the reader and writer.
func (s *ChunkStep[I, O]) open(ctx context.Context, se *model.StepExecution) (*chunkController[I, O], error) {
	checkpoints := checkpoint.NewManager(s.name, s.checkpointStore(), s.txManager, s.userData).WithTxOptions(s.txOptions)
	data, err := checkpoints.Load(ctx)
	if err != nil {
		return nil, err
	}

	readerCtx, writerCtx := model.NewExecutionContext(), model.NewExecutionContext()
	counts := map[string]int(nil)
	if data != nil {
		logger.Infof("ChunkStep '%s': restarting from checkpoint at position %d (execution %s).", s.name, data.Position, data.StepExecutionID)
		se.Cursor = model.ExecutionCursor{Position: data.Position, Mode: model.ModeNormal}
		se.PersistentUserData = data.PersistentUserData.Copy()
		se.Counters = data.Counters.Copy()
		se.RestartCount++
		readerCtx, writerCtx = data.ReaderContext.Copy(), data.WriterContext.Copy()
		counts = data.Counters.RuleCounts
	}
	s.classifier.Restore(counts)
	s.retryPolicy.ResetBackoff()

	if err := s.reader.Open(ctx, readerCtx); err != nil {
		return nil, exception.NewBatchError(s.name, "failed to open ItemReader", err, false, false)
	}
	if err := s.writer.Open(ctx, writerCtx); err != nil {
		if closeErr := s.reader.Close(ctx); closeErr != nil {
			logger.Warnf("ChunkStep '%s': failed to close ItemReader: %v", s.name, closeErr)
		}
		return nil, exception.NewBatchError(s.name, "failed to open ItemWriter", err, false, false)
	}
	return newChunkController(s, se, checkpoints), nil
}

// loop is the step runner: it calls RunChunk until the source is exhausted or a chunk ends the step.
func (s *ChunkStep[I, O]) loop(ctx context.Context, c *chunkController[I, O]) (ChunkResult, error) {
	for {
		result, err := c.RunChunk(ctx)
		switch result {
		case ChunkContinue:
			s.updateStepExecution(ctx, c.se)
		case ChunkSourceExhausted:
			return result, nil
		default:
			return result, err
		}
	}
}

func (s *ChunkStep[I, O]) close(ctx context.Context) error {
	var result *multierror.Error
	if err := s.reader.Close(ctx); err != nil {
		result = multierror.Append(result, exception.NewBatchError(s.name, "failed to close ItemReader", err, false, false))
	}
	if err := s.writer.Close(ctx); err != nil {
		result = multierror.Append(result, exception.NewBatchError(s.name, "failed to close ItemWriter", err, false, false))
	}
	return result.ErrorOrNil()
}

func (s *ChunkStep[I, O]) updateStepExecution(ctx context.Context, se *model.StepExecution) {
	if s.stepRepository == nil {
		return
	}
	if err := s.stepRepository.UpdateStepExecution(ctx, se); err != nil {
		logger.Errorf("ChunkStep '%s': failed to update StepExecution: %v", s.name, err)
	}
}

func (s *ChunkStep[I, O]) checkpointStore() repository.CheckpointDataRepository {
	if s.checkpointRepo != nil {
		return s.checkpointRepo
	}
	return transientCheckpoints{}
}

// transientCheckpoints is used when no checkpoint repository is configured:
// the step cannot resume after a restart, but rewinds still work from the
// manager's in-memory copy of the last checkpoint.
type transientCheckpoints struct{}

func (transientCheckpoints) SaveCheckpointData(context.Context, *model.CheckpointData) error {
	return nil
}

func (transientCheckpoints) FindCheckpointData(context.Context, string) (*model.CheckpointData, error) {
	return nil, repository.ErrCheckpointDataNotFound
}

func (transientCheckpoints) DeleteCheckpointData(context.Context, string) error {
	return nil
}
