package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/checkpoint"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/classify"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/recovery"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ChunkResult tells the step runner how a chunk ended.
type ChunkResult int

const (
	// ChunkContinue means the chunk was committed, discarded or rolled back for
	// retry, and more input may follow.
	ChunkContinue ChunkResult = iota
	// ChunkSourceExhausted means the reader signalled end of data and everything before it is committed.
	ChunkSourceExhausted
	// ChunkFatal means the step must fail with the returned error.
	ChunkFatal
	// ChunkStopped means the context was cancelled at an item boundary.
	ChunkStopped
)

func (r ChunkResult) String() string {
	switch r {
	case ChunkContinue:
		return "CONTINUE"
	case ChunkSourceExhausted:
		return "SOURCE_EXHAUSTED"
	case ChunkStopped:
		return "STOPPED"
	default:
		return "FATAL"
	}
}

// contribution holds the counters of one chunk. They reach the StepExecution
// only when the chunk's boundary commits, so a rolled back chunk leaves no trace.
type contribution struct {
	read, write, filter              int
	readSkip, processSkip, writeSkip int
}

func (c contribution) apply(counters *model.Counters) {
	counters.ReadCount += c.read
	counters.WriteCount += c.write
	counters.FilterCount += c.filter
	counters.ReadSkipCount += c.readSkip
	counters.ProcessSkipCount += c.processSkip
	counters.WriteSkipCount += c.writeSkip
}

// chunk is the in-flight buffer between two checkpoint boundaries.
type chunk[O any] struct {
	start   int64
	items   []O
	ids     []string
	contrib contribution
}

// chunkController runs the chunks of one step execution.
// It is driven by a single goroutine and owns the cursor of se.
type chunkController[I, O any] struct {
	step        *ChunkStep[I, O]
	se          *model.StepExecution
	state       *recovery.State
	checkpoints *checkpoint.Manager
}

func newChunkController[I, O any](s *ChunkStep[I, O], se *model.StepExecution, checkpoints *checkpoint.Manager) *chunkController[I, O] {
	return &chunkController[I, O]{
		step:        s,
		se:          se,
		state:       recovery.New(&se.Cursor, s.failurePointMode),
		checkpoints: checkpoints,
	}
}

// RunChunk reads up to one chunk of items, processes them and commits the
// survivors. Skips and retries are resolved here; only FATAL failures and
// cancellation are reported to the caller.
func (c *chunkController[I, O]) RunChunk(ctx context.Context) (ChunkResult, error) {
	s := c.step
	cursor := &c.se.Cursor
	ch := &chunk[O]{start: cursor.Position}
	size := c.state.ChunkSize(s.commitInterval)

	ctx, endSpan := s.tracer.StartChunkSpan(ctx, c.se)
	defer endSpan()
	defer func(started time.Time) {
		s.metricRecorder.RecordDuration(ctx, "chunk", time.Since(started), map[string]string{"step_name": s.name})
	}(time.Now())
	for _, l := range s.chunkListeners {
		l.BeforeChunk(ctx, c.se)
	}

	// Components see only the chunk deadline; cancellation of ctx is observed
	// between items.
	chunkCtx, cancel := context.WithoutCancel(ctx), context.CancelFunc(func() {})
	if s.chunkTimeout > 0 {
		chunkCtx, cancel = context.WithTimeout(chunkCtx, s.chunkTimeout)
	}
	defer cancel()

	exhausted := false
	for !c.full(ch, size) {
		if err := ctx.Err(); err != nil {
			return c.stop(ctx, ch, err)
		}
		if chunkCtx.Err() != nil {
			return c.onChunkFailure(ctx, ch, exception.ChunkFailure(cursor.Position-1, exception.ErrChunkTimeout))
		}

		pos := cursor.Position
		item, err := s.reader.Read(chunkCtx)
		if errors.Is(err, port.ErrNoMoreItems) {
			exhausted = true
			break
		}
		cursor.Position++
		if err != nil {
			if ctx.Err() != nil {
				return c.stop(ctx, ch, ctx.Err())
			}
			f := exception.ReadFailure(pos, c.cause(ctx, chunkCtx, err))
			if done, result, err := c.onItemFailure(ctx, ch, f, nil); done {
				return result, err
			}
			continue
		}
		ch.contrib.read++

		out, err := c.process(chunkCtx, item)
		if err != nil && !errors.Is(err, port.ErrItemFiltered) {
			if ctx.Err() != nil {
				return c.stop(ctx, ch, ctx.Err())
			}
			f := exception.ProcessFailure(pos, c.cause(ctx, chunkCtx, err))
			if done, result, err := c.onItemFailure(ctx, ch, f, item); done {
				return result, err
			}
			continue
		}
		if port.IsFiltered(out, err) {
			ch.contrib.filter++
			s.metricRecorder.RecordItemFilter(ctx, s.name)
			continue
		}
		ch.items = append(ch.items, out)
		ch.ids = append(ch.ids, port.ItemID(out))
	}

	if cursor.Position == ch.start {
		c.endOfSource(ctx)
		for _, l := range s.chunkListeners {
			l.AfterChunk(ctx, c.se)
		}
		return ChunkSourceExhausted, nil
	}

	result, err := c.commit(ctx, chunkCtx, ch)
	if result == ChunkContinue && exhausted {
		c.endOfSource(ctx)
		result = ChunkSourceExhausted
	}
	return result, err
}

// endOfSource leaves RECOVERING when the input ran out before the cursor got past the failure point.
func (c *chunkController[I, O]) endOfSource(ctx context.Context) {
	s := c.step
	if !c.state.Finish() {
		return
	}
	s.retryPolicy.ResetBackoff()
	s.metricRecorder.RecordRecoveryMode(ctx, s.name, false)
	s.tracer.RecordEvent(ctx, "recovery.exit", map[string]interface{}{"step": s.name, "position": c.se.Cursor.Position})
	logger.Infof("ChunkStep '%s': input ended at position %d while recovering; recovery complete.", s.name, c.se.Cursor.Position)
}

// full reports whether the chunk has reached its size. In RECOVERING mode a
// chunk holds exactly one position, whatever happened to its item.
func (c *chunkController[I, O]) full(ch *chunk[O], size int) bool {
	if c.state.Recovering() {
		return c.se.Cursor.Position-ch.start >= 1
	}
	return ch.contrib.read >= size
}

func (c *chunkController[I, O]) process(ctx context.Context, item I) (O, error) {
	if c.step.processor != nil {
		return c.step.processor.Process(ctx, item)
	}
	out, ok := any(item).(O)
	if !ok {
		var zero O
		return zero, fmt.Errorf("no processor configured and item of type %T is not writable as %T", item, zero)
	}
	return out, nil
}

// cause tags err as a chunk timeout when the chunk deadline, not the caller, ended the call.
func (c *chunkController[I, O]) cause(ctx, chunkCtx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(chunkCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, exception.ErrChunkTimeout) {
		return fmt.Errorf("%w: %w", exception.ErrChunkTimeout, err)
	}
	return err
}

// classify classifies f and mirrors the rule counts into the StepExecution.
func (c *chunkController[I, O]) classify(ctx context.Context, f *exception.ItemFailure) classify.Decision {
	d := c.step.classifier.Classify(f)
	c.se.Counters.RuleCounts = c.step.classifier.Counts()
	c.step.tracer.RecordError(ctx, c.step.name, f)
	logger.Debugf("ChunkStep '%s': %v classified %s (rule %q).", c.step.name, f, d.Category, d.RuleName())
	return d
}

// onItemFailure resolves a read or process failure. done is false when the
// item was skipped and the chunk keeps accumulating.
func (c *chunkController[I, O]) onItemFailure(ctx context.Context, ch *chunk[O], f *exception.ItemFailure, item interface{}) (done bool, result ChunkResult, err error) {
	s := c.step
	d := c.classify(ctx, f)
	switch d.Category {
	case classify.Skip:
		if f.Phase == exception.PhaseRead {
			ch.contrib.readSkip++
			for _, l := range s.skipListeners {
				l.OnSkipInRead(ctx, f)
			}
		} else {
			ch.contrib.processSkip++
			for _, l := range s.skipListeners {
				l.OnSkipInProcess(ctx, item, f)
			}
		}
		s.metricRecorder.RecordItemSkip(ctx, s.name, string(f.Phase), d.RuleName())
		logger.Warnf("ChunkStep '%s': skipped %v (rule %s).", s.name, f, d.Rule)
		return false, ChunkContinue, nil
	case classify.Retry:
		var items []interface{}
		if item != nil {
			items = []interface{}{item}
		}
		result, err = c.rollbackForRetry(ctx, ch, f, d, items)
		return true, result, err
	default:
		result, err = c.fail(ctx, ch, f, d)
		return true, result, err
	}
}

// onChunkFailure resolves a failure of the chunk as a whole: a write failure or a timeout.
func (c *chunkController[I, O]) onChunkFailure(ctx context.Context, ch *chunk[O], f *exception.ItemFailure) (ChunkResult, error) {
	s := c.step
	d := c.classify(ctx, f)
	switch d.Category {
	case classify.Skip:
		return c.discard(ctx, ch, f, d)
	case classify.Retry:
		if s.noRollbackOnWrite {
			c.se.Counters.RetryCount++
			s.metricRecorder.RecordItemRetry(ctx, s.name, string(f.Phase), d.RuleName())
			logger.Warnf("ChunkStep '%s': retryable %v discarded without re-drive (no-rollback-on-write).", s.name, f)
			return c.discard(ctx, ch, f, d)
		}
		return c.rollbackForRetry(ctx, ch, f, d, toInterfaces(ch.items))
	default:
		return c.fail(ctx, ch, f, d)
	}
}

// commit writes the buffer and advances the checkpoint to the cursor.
func (c *chunkController[I, O]) commit(ctx, chunkCtx context.Context, ch *chunk[O]) (ChunkResult, error) {
	s := c.step
	cursor := &c.se.Cursor
	if err := ctx.Err(); err != nil {
		return c.stop(ctx, ch, err)
	}
	if chunkCtx.Err() != nil {
		return c.onChunkFailure(ctx, ch, exception.ChunkFailure(cursor.Position-1, exception.ErrChunkTimeout))
	}

	var write checkpoint.WriteFunc
	items := ch.items
	if len(items) > 0 {
		write = func(txCtx context.Context, t tx.Tx) error {
			return s.writer.Write(txCtx, t, items)
		}
	}

	before := c.se.Counters.Copy()
	ch.contrib.write = len(items)
	ch.contrib.apply(&c.se.Counters)
	c.se.Counters.CommitCount++

	err := c.checkpoints.Commit(chunkCtx, c.se, ch.ids, write, c.componentContexts)
	var rerr *checkpoint.RecordError
	if errors.As(err, &rerr) {
		for _, l := range s.chunkListeners {
			l.AfterChunkError(ctx, c.se, err)
		}
		return ChunkFatal, err
	}
	if err != nil {
		c.se.Counters = before
		var werr *checkpoint.WriteError
		if errors.As(err, &werr) {
			if ctx.Err() != nil {
				return c.stop(ctx, ch, ctx.Err())
			}
			return c.onChunkFailure(ctx, ch, exception.WriteFailure(cursor.Position-1, c.cause(ctx, chunkCtx, werr.Err)))
		}
		c.se.Counters.RollbackCount++
		s.metricRecorder.RecordChunkRollback(ctx, s.name, "error")
		for _, l := range s.chunkListeners {
			l.AfterChunkError(ctx, c.se, err)
		}
		checkpoint.Abort(&ch.items)
		return ChunkFatal, err
	}

	s.metricRecorder.RecordChunkCommit(ctx, s.name, len(items))
	logger.Debugf("ChunkStep '%s': committed %d item(s), checkpoint at position %d.", s.name, len(items), cursor.Position)
	for _, l := range s.chunkListeners {
		l.AfterChunk(ctx, c.se)
	}
	if c.state.Resolve() {
		s.retryPolicy.ResetBackoff()
		s.metricRecorder.RecordRecoveryMode(ctx, s.name, false)
		s.tracer.RecordEvent(ctx, "recovery.exit", map[string]interface{}{"step": s.name, "position": cursor.Position})
		logger.Infof("ChunkStep '%s': recovery complete at position %d; resuming chunks of %d.", s.name, cursor.Position, s.commitInterval)
	}
	return ChunkContinue, nil
}

// discard drops the whole buffer after a skipped write failure, then commits
// an empty boundary past the chunk.
func (c *chunkController[I, O]) discard(ctx context.Context, ch *chunk[O], f *exception.ItemFailure, d classify.Decision) (ChunkResult, error) {
	s := c.step
	items := toInterfaces(ch.items)
	ch.contrib.writeSkip += len(ch.items)
	c.se.Counters.RollbackCount++

	s.metricRecorder.RecordChunkRollback(ctx, s.name, "skip")
	s.metricRecorder.RecordItemSkip(ctx, s.name, string(f.Phase), d.RuleName())
	for _, l := range s.skipListeners {
		l.OnSkipInWrite(ctx, items, f)
	}
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, c.se, f)
	}
	logger.Warnf("ChunkStep '%s': discarded chunk of %d item(s) after %v.", s.name, len(items), f)

	checkpoint.Abort(&ch.items)
	ch.ids = nil
	return c.commit(ctx, ctx, ch)
}

// rollbackForRetry discards the buffer, rewinds the reader to the last
// checkpoint and switches to one-position chunks.
func (c *chunkController[I, O]) rollbackForRetry(ctx context.Context, ch *chunk[O], f *exception.ItemFailure, d classify.Decision, items []interface{}) (ChunkResult, error) {
	s := c.step
	c.se.Counters.RetryCount++
	c.se.Counters.RollbackCount++
	s.metricRecorder.RecordItemRetry(ctx, s.name, string(f.Phase), d.RuleName())
	s.metricRecorder.RecordChunkRollback(ctx, s.name, "retry")

	for _, l := range s.retryListeners {
		switch f.Phase {
		case exception.PhaseRead:
			l.OnRetryRead(ctx, f)
		case exception.PhaseProcess:
			var item interface{}
			if len(items) > 0 {
				item = items[0]
			}
			l.OnRetryProcess(ctx, item, f)
		default:
			l.OnRetryWrite(ctx, items, f)
		}
	}
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, c.se, f)
	}

	checkpoint.Abort(&ch.items)
	ch.ids = nil
	wasRecovering := c.state.Recovering()
	c.state.Enter(f, ch.start)
	logger.Warnf("ChunkStep '%s': retrying after %v (rule %s); re-driving from position %d one item at a time until past %d.",
		s.name, f, d.Rule, ch.start, c.se.Cursor.FailurePoint)
	if !wasRecovering {
		s.metricRecorder.RecordRecoveryMode(ctx, s.name, true)
		s.tracer.RecordEvent(ctx, "recovery.enter", map[string]interface{}{
			"step":          s.name,
			"failure_point": c.se.Cursor.FailurePoint,
			"phase":         string(f.Phase),
		})
	}

	if err := c.rewind(ctx); err != nil {
		return ChunkFatal, err
	}
	if err := s.retryPolicy.Wait(ctx); err != nil {
		return ChunkStopped, err
	}
	return ChunkContinue, nil
}

// rewind reopens the reader at the last committed boundary.
func (c *chunkController[I, O]) rewind(ctx context.Context) error {
	s := c.step
	ec := model.NewExecutionContext()
	if last := c.checkpoints.Last(); last != nil {
		ec = last.ReaderContext.Copy()
	}
	if err := s.reader.Close(ctx); err != nil {
		return exception.NewBatchError(s.name, "failed to close ItemReader for rewind", err, false, false)
	}
	if err := s.reader.Open(ctx, ec); err != nil {
		return exception.NewBatchError(s.name, "failed to reopen ItemReader for rewind", err, false, false)
	}
	return nil
}

func (c *chunkController[I, O]) fail(ctx context.Context, ch *chunk[O], f *exception.ItemFailure, d classify.Decision) (ChunkResult, error) {
	s := c.step
	fatal := s.classifier.FatalError(f, d)
	c.se.Counters.RollbackCount++
	s.metricRecorder.RecordChunkRollback(ctx, s.name, "fatal")
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, c.se, fatal)
	}
	checkpoint.Abort(&ch.items)
	c.se.Cursor.Position = ch.start
	logger.Errorf("ChunkStep '%s': %v", s.name, fatal)
	return ChunkFatal, fatal
}

func (c *chunkController[I, O]) stop(ctx context.Context, ch *chunk[O], cause error) (ChunkResult, error) {
	s := c.step
	if c.se.Cursor.Position > ch.start || len(ch.items) > 0 {
		c.se.Counters.RollbackCount++
		s.metricRecorder.RecordChunkRollback(ctx, s.name, "stopped")
	}
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, c.se, cause)
	}
	checkpoint.Abort(&ch.items)
	c.se.Cursor.Position = ch.start
	logger.Warnf("ChunkStep '%s': stopped at position %d: %v", s.name, ch.start, cause)
	return ChunkStopped, cause
}

// componentContexts captures the reader and writer state stored with each checkpoint.
func (c *chunkController[I, O]) componentContexts(ctx context.Context) (model.ExecutionContext, model.ExecutionContext, error) {
	readerCtx, err := c.step.reader.GetExecutionContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	writerCtx, err := c.step.writer.GetExecutionContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	return readerCtx, writerCtx, nil
}

func toInterfaces[T any](items []T) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
