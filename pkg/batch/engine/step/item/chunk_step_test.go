package item_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/classify"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/recovery"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/chunkflow/pkg/batch/test"
)

func span(from, to int) [][]int {
	return [][]int{testutil.Range(from, to)}
}

func singles(from, to int) [][]int {
	var out [][]int
	for i := from; i <= to; i++ {
		out = append(out, []int{i})
	}
	return out
}

func chunks(parts ...[][]int) [][]int {
	var out [][]int
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func flatten(cs [][]int) []int {
	var out []int
	for _, c := range cs {
		out = append(out, c...)
	}
	return out
}

func skipRule(name string, target error, limit int) item.Option[int, int] {
	return item.WithSkipPolicy[int, int](skip.NewPolicy(classify.NewRule(name, classify.Is(target), limit)))
}

func retryRule(name string, target error, limit int) item.Option[int, int] {
	return item.WithRetryPolicy[int, int](retry.NewPolicy(classify.NewRule(name, classify.Is(target), limit)))
}

func assertConserved(t *testing.T, c model.Counters) {
	t.Helper()
	assert.Equal(t, c.ReadCount, c.WriteCount+c.FilterCount+c.ProcessSkipCount+c.WriteSkipCount,
		"read=%d write=%d filter=%d processSkip=%d writeSkip=%d",
		c.ReadCount, c.WriteCount, c.FilterCount, c.ProcessSkipCount, c.WriteSkipCount)
}

type scenario struct {
	name       string
	phase      exception.Phase
	retry      bool
	skip       bool
	retryLimit int
	mode       recovery.FailurePointMode
	want       [][]int
}

// Thirty items, chunks of ten, a failure on item 5. Retry-only doubles fail
// once; skip doubles fail every time.
var scenarios = []scenario{
	{
		name: "retry read", phase: exception.PhaseRead, retry: true,
		want: chunks(singles(0, 5), span(6, 15), span(16, 25), span(26, 29)),
	},
	{
		name: "retry process", phase: exception.PhaseProcess, retry: true,
		want: chunks(singles(0, 6), span(7, 16), span(17, 26), span(27, 29)),
	},
	{
		name: "retry write", phase: exception.PhaseWrite, retry: true,
		want: chunks(singles(0, 10), span(11, 20), span(21, 29)),
	},
	{
		name: "skip read", phase: exception.PhaseRead, skip: true,
		want: chunks([][]int{append(testutil.Range(0, 4), testutil.Range(6, 10)...)}, span(11, 20), span(21, 29)),
	},
	{
		name: "skip process", phase: exception.PhaseProcess, skip: true,
		want: chunks([][]int{append(testutil.Range(0, 4), testutil.Range(6, 9)...)}, span(10, 19), span(20, 29)),
	},
	{
		name: "skip write", phase: exception.PhaseWrite, skip: true,
		want: chunks(span(10, 19), span(20, 29)),
	},
	{
		name: "retry then skip read", phase: exception.PhaseRead, retry: true, skip: true, retryLimit: 1,
		want: chunks(singles(0, 4), span(6, 15), span(16, 25), span(26, 29)),
	},
	{
		name: "retry then skip process", phase: exception.PhaseProcess, retry: true, skip: true, retryLimit: 1,
		want: chunks(singles(0, 4), singles(6, 6), span(7, 16), span(17, 26), span(27, 29)),
	},
	{
		name: "retry then skip write", phase: exception.PhaseWrite, retry: true, skip: true, retryLimit: 1,
		want: chunks(singles(0, 4), singles(6, 10), span(11, 20), span(21, 29)),
	},
	{
		name: "corrected retry process", phase: exception.PhaseProcess, retry: true, mode: recovery.Corrected,
		want: chunks(singles(0, 5), span(6, 15), span(16, 25), span(26, 29)),
	},
}

func runScenario(t *testing.T, sc scenario, extra ...item.Option[int, int]) (*faultyWriter, *model.StepExecution) {
	t.Helper()
	reader, processor, writer := newReader(30), newProcessor(), newWriter()
	always := sc.skip
	switch sc.phase {
	case exception.PhaseRead:
		reader.failing(5, always)
	case exception.PhaseProcess:
		processor.failing(5, always)
	case exception.PhaseWrite:
		writer.failing(5, always)
	}

	opts := []item.Option[int, int]{
		item.WithCommitInterval[int, int](10),
		item.WithFailurePointMode[int, int](sc.mode),
	}
	if sc.skip {
		opts = append(opts, skipRule("boom", errBoom, 0))
	}
	if sc.retry {
		limit := sc.retryLimit
		if limit == 0 {
			limit = 3
		}
		opts = append(opts, retryRule("boom", errBoom, limit))
	}
	opts = append(opts, extra...)

	step := item.NewChunkStep[int, int]("scenario", reader, processor, writer, opts...)
	se, err := step.RunStep(context.Background())
	require.NoError(t, err)
	return writer, se
}

func TestChunkStepScenarios(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			writer, se := runScenario(t, sc)

			assert.Equal(t, model.BatchStatusCompleted, se.Status)
			assert.Equal(t, model.ExitStatusCompleted, se.ExitStatus)
			assert.Equal(t, sc.want, writer.chunks)

			written := flatten(sc.want)
			assert.Equal(t, len(written), se.Counters.WriteCount)
			assert.Len(t, se.PersistentUserData, len(sc.want))
			assert.Equal(t, testutil.IntIDs(written...), se.PersistentUserData.ItemIDs())
			assertConserved(t, se.Counters)

			assert.Equal(t, int64(30), se.Cursor.Position)
			assert.Equal(t, model.ModeNormal, se.Cursor.Mode)
			if sc.retry {
				assert.Equal(t, 1, se.Counters.RuleCounts["retry/boom"])
				assert.Equal(t, 1, se.Counters.RetryCount)
			} else {
				assert.Zero(t, se.Counters.RetryCount)
			}
			if sc.skip {
				assert.Equal(t, 1, se.Counters.RuleCounts["skip/boom"])
				if sc.phase != exception.PhaseWrite {
					assert.Equal(t, 1, se.Counters.SkipCount())
				}
			}
		})
	}
}

func TestSkipCountersPerPhase(t *testing.T) {
	_, se := runScenario(t, scenarios[3])
	assert.Equal(t, 1, se.Counters.ReadSkipCount)
	assert.Equal(t, 29, se.Counters.ReadCount)

	_, se = runScenario(t, scenarios[4])
	assert.Equal(t, 1, se.Counters.ProcessSkipCount)
	assert.Equal(t, 30, se.Counters.ReadCount)

	_, se = runScenario(t, scenarios[5])
	assert.Equal(t, 10, se.Counters.WriteSkipCount)
	assert.Equal(t, 1, se.Counters.RollbackCount)
	assert.Equal(t, 3, se.Counters.CommitCount)
}

func TestFilteredItemsAreCountedNotWritten(t *testing.T) {
	reader, processor, writer := newReader(30), newProcessor(), newWriter()
	processor.filter = func(i int) bool { return i%2 == 0 }

	step := item.NewChunkStep[int, int]("filter", reader, processor, writer)
	se, err := step.RunStep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][]int{{1, 3, 5, 7, 9}, {11, 13, 15, 17, 19}, {21, 23, 25, 27, 29}}, writer.chunks)
	assert.Equal(t, 15, se.Counters.FilterCount)
	assert.Equal(t, 15, se.Counters.WriteCount)
	assert.Equal(t, 30, se.Counters.ReadCount)
	assertConserved(t, se.Counters)
}

func TestNilProcessorPassesThroughAndShortFinalChunk(t *testing.T) {
	reader, writer := newReader(30), newWriter()

	step := item.NewChunkStep[int, int]("pass", reader, nil, writer, item.WithCommitInterval[int, int](7))
	assert.Equal(t, 7, step.CommitInterval())
	se, err := step.RunStep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, chunks(span(0, 6), span(7, 13), span(14, 20), span(21, 27), span(28, 29)), writer.chunks)
	assert.Equal(t, 5, se.Counters.CommitCount)
	assert.Equal(t, 1, reader.opens)
	assert.Equal(t, 1, reader.closes)
	assert.Equal(t, 1, writer.closes)
}

func TestDefaultCommitInterval(t *testing.T) {
	step := item.NewChunkStep[int, int]("defaults", newReader(0), nil, newWriter(), item.WithCommitInterval[int, int](0))
	assert.Equal(t, item.DefaultCommitInterval, step.CommitInterval())
	assert.Equal(t, "defaults", step.StepName())

	se, err := step.RunStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Zero(t, se.Counters.CommitCount)
}

func TestUnclassifiedFailureFailsStep(t *testing.T) {
	reader, processor, writer := newReader(30), newProcessor().failing(15, true), newWriter()
	processor.err = errFatal

	step := item.NewChunkStep[int, int]("fatal", reader, processor, writer, skipRule("bad-row", errBadRow, 0))
	se, err := step.RunStep(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, errFatal)
	assert.True(t, exception.IsFatal(err))
	var fatal *exception.FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, classify.ReasonNotClassified, fatal.Reason)
	assert.Equal(t, exception.PhaseProcess, fatal.Failure.Phase)
	assert.Equal(t, int64(15), fatal.Failure.Position)

	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, model.ExitStatusFailed, se.ExitStatus)
	assert.NotEmpty(t, se.Failures)
	assert.Equal(t, span(0, 9), writer.chunks)
	assert.Equal(t, int64(10), se.Cursor.Position)
	assert.Equal(t, 10, se.Counters.ReadCount)
	assert.Equal(t, 1, se.Counters.RollbackCount)
	assert.Equal(t, 1, reader.closes)
	assert.Equal(t, 1, writer.closes)
}

func TestRetryExhaustedWithoutSkipIsFatal(t *testing.T) {
	reader, writer := newReader(30).failing(5, true), newWriter()

	step := item.NewChunkStep[int, int]("exhausted", reader, nil, writer, retryRule("boom", errBoom, 2))
	se, err := step.RunStep(context.Background())

	require.Error(t, err)
	var fatal *exception.FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, classify.ReasonLimitExceeded, fatal.Reason)
	assert.Equal(t, "boom", fatal.Rule)
	assert.Equal(t, 2, se.Counters.RetryCount)
	assert.Equal(t, singles(0, 4), writer.chunks)
	assert.Equal(t, int64(5), se.Cursor.Position)
}

func TestCancellationStopsAtItemBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader, writer := newReader(30), newWriter()
	reader.onRead = func(pos int) {
		if pos == 12 {
			cancel()
		}
	}

	step := item.NewChunkStep[int, int]("cancel", reader, nil, writer)
	se, err := step.RunStep(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, model.ExitStatusStopped, se.ExitStatus)
	assert.Equal(t, span(0, 9), writer.chunks)
	assert.Equal(t, int64(10), se.Cursor.Position)
	assert.Equal(t, 10, se.Counters.ReadCount)
	assert.Equal(t, 1, se.Counters.CommitCount)
}

func TestCancellationDuringRetryBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	reader, writer := newReader(30).failing(5, false), newWriter()
	policy := retry.NewPolicy(classify.NewRule("boom", classify.Is(errBoom), 3)).WithBackoff(time.Hour, time.Hour, 2)

	step := item.NewChunkStep[int, int]("backoff", reader, nil, writer, item.WithRetryPolicy[int, int](policy))
	se, err := step.RunStep(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, 1, se.Counters.RetryCount)
	assert.Empty(t, writer.chunks)
}

func TestChunkTimeoutIsFatalByDefault(t *testing.T) {
	reader, writer := newReader(30), newWriter()
	reader.blockAt = 3

	step := item.NewChunkStep[int, int]("timeout", reader, nil, writer,
		item.WithChunkTimeout[int, int](50*time.Millisecond))
	se, err := step.RunStep(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrChunkTimeout)
	assert.True(t, exception.IsFatal(err))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Empty(t, writer.chunks)
	assert.Zero(t, se.Cursor.Position)
}

func TestChunkTimeoutCanBeRetried(t *testing.T) {
	reader, writer := newReader(30), newWriter()
	reader.blockAt, reader.blockOnce = 3, true

	step := item.NewChunkStep[int, int]("timeout-retry", reader, nil, writer,
		item.WithChunkTimeout[int, int](50*time.Millisecond),
		retryRule("timeout", exception.ErrChunkTimeout, 1))
	se, err := step.RunStep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, chunks(singles(0, 3), span(4, 13), span(14, 23), span(24, 29)), writer.chunks)
	assert.Equal(t, 1, se.Counters.RetryCount)
	assert.Equal(t, 1, se.Counters.RuleCounts["retry/timeout"])
}

func TestNoRollbackOnWriteDiscardsChunk(t *testing.T) {
	reader, writer := newReader(30), newWriter().failing(5, false)

	step := item.NewChunkStep[int, int]("no-rollback", reader, nil, writer,
		retryRule("boom", errBoom, 3),
		item.WithNoRollbackOnWrite[int, int](true))
	se, err := step.RunStep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, chunks(span(10, 19), span(20, 29)), writer.chunks)
	assert.Equal(t, 1, se.Counters.RetryCount)
	assert.Equal(t, 10, se.Counters.WriteSkipCount)
	assert.Equal(t, 1, se.Counters.RollbackCount)
	assert.Equal(t, 1, reader.opens, "the reader is never rewound")
	assertConserved(t, se.Counters)
}

func TestRestartResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStepRepository()
	opts := func() []item.Option[int, int] {
		return []item.Option[int, int]{
			item.WithCheckpointRepository[int, int](repo),
			item.WithStepRepository[int, int](repo),
		}
	}

	writer1 := newWriter().failing(15, true)
	writer1.err = errFatal
	se1, err := item.NewChunkStep[int, int]("restartable", newReader(30), nil, writer1, opts()...).RunStep(ctx)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se1.Status)
	assert.Equal(t, span(0, 9), writer1.chunks)

	cp, err := repo.FindCheckpointData(ctx, "restartable")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cp.Position)
	assert.False(t, cp.Completed)

	reader2, writer2 := newReader(30), newWriter()
	se2, err := item.NewChunkStep[int, int]("restartable", reader2, nil, writer2, opts()...).RunStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se2.Status)
	assert.Equal(t, chunks(span(10, 19), span(20, 29)), writer2.chunks)
	assert.Equal(t, 1, se2.RestartCount)
	assert.Equal(t, 30, se2.Counters.ReadCount)
	assert.Equal(t, 30, se2.Counters.WriteCount)
	assert.Equal(t, testutil.IntIDs(testutil.Range(0, 29)...), se2.PersistentUserData.ItemIDs())

	stored, err := repo.FindStepExecutionByID(ctx, se2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 30, stored.Counters.WriteCount)

	cp, err = repo.FindCheckpointData(ctx, "restartable")
	require.NoError(t, err)
	assert.True(t, cp.Completed)

	// A completed checkpoint is not resumed: the next execution starts over.
	writer3 := newWriter()
	se3, err := item.NewChunkStep[int, int]("restartable", newReader(30), nil, writer3, opts()...).RunStep(ctx)
	require.NoError(t, err)
	assert.Zero(t, se3.RestartCount)
	assert.Equal(t, testutil.Range(0, 9), writer3.chunks[0])
}

func TestSkipLimitCarriesOverRestart(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStepRepository()

	reader1 := newReader(30).failing(3, false)
	reader1.err = errBadRow
	processor1 := newProcessor().failing(15, true)
	processor1.err = errFatal
	_, err := item.NewChunkStep[int, int]("limits", reader1, processor1, newWriter(),
		item.WithCheckpointRepository[int, int](repo),
		skipRule("bad-row", errBadRow, 1)).RunStep(ctx)
	require.Error(t, err)

	cp, err := repo.FindCheckpointData(ctx, "limits")
	require.NoError(t, err)
	assert.Equal(t, int64(11), cp.Position)
	assert.Equal(t, 1, cp.Counters.RuleCounts["skip/bad-row"])

	reader2 := newReader(30).failing(23, false)
	reader2.err = errBadRow
	writer2 := newWriter()
	step2 := item.NewChunkStep[int, int]("limits", reader2, newProcessor(), writer2,
		item.WithCheckpointRepository[int, int](repo),
		skipRule("bad-row", errBadRow, 1))
	se2, err := step2.RunStep(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, errBadRow)
	var fatal *exception.FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, classify.ReasonLimitExceeded, fatal.Reason)
	assert.Equal(t, span(11, 20), writer2.chunks)
	assert.Equal(t, 1, se2.Counters.ReadSkipCount)
	assert.Equal(t, map[string]int{"skip/bad-row": 1}, step2.Classifier().Counts())
}

func TestListenersAreNotified(t *testing.T) {
	l := &recordingListener{}
	_, se := runScenario(t, scenarios[2], item.WithListeners[int, int](l))

	assert.Equal(t, 1, l.beforeStep)
	assert.Equal(t, 1, l.afterStep)
	assert.Equal(t, model.BatchStatusCompleted, l.lastStatus)
	assert.Equal(t, 1, l.retryWrite)
	assert.Len(t, l.retriedWriteItems, 10)
	assert.Equal(t, 1, l.afterChunkErr)
	assert.Equal(t, se.Counters.CommitCount, l.afterChunk)
	assert.Equal(t, l.afterChunk+l.afterChunkErr, l.beforeChunk)

	l = &recordingListener{}
	runScenario(t, scenarios[5], item.WithListeners[int, int](l))
	assert.Equal(t, 1, l.skipWrite)
	assert.Len(t, l.skippedWriteItems, 10)

	l = &recordingListener{}
	runScenario(t, scenarios[4], item.WithListeners[int, int](l))
	assert.Equal(t, 1, l.skipProcess)
	assert.Zero(t, l.skipRead)
}

func TestFailedCheckpointSaveIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStepRepository()
	log := &userDataLog{}

	flaky := &flakyCheckpoints{CheckpointDataRepository: repo, failOn: 2}
	se1, err := item.NewChunkStep[int, int]("audited", newReader(30), nil, newWriter(),
		item.WithCheckpointRepository[int, int](flaky),
		item.WithPersistentUserDataRecorder[int, int](log)).RunStep(ctx)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se1.Status)
	assert.Equal(t, [][]string{testutil.IntIDs(testutil.Range(0, 9)...)}, log.entries)

	se2, err := item.NewChunkStep[int, int]("audited", newReader(30), nil, newWriter(),
		item.WithCheckpointRepository[int, int](repo),
		item.WithPersistentUserDataRecorder[int, int](log)).RunStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se2.Status)
	require.Len(t, log.entries, 3)
	assert.Equal(t, testutil.IntIDs(testutil.Range(0, 29)...), log.ids())
	assert.Equal(t, log.ids(), se2.PersistentUserData.ItemIDs())
}

func TestCancellationLetsCurrentItemFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	processor := newSlowProcessor(3, 50*time.Millisecond)
	go func() {
		<-processor.started
		cancel()
	}()
	writer := newWriter()

	step := item.NewChunkStep[int, int]("slow", newReader(30), processor, writer)
	se, err := step.RunStep(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, []int{0, 1, 2, 3}, processor.completed)
	assert.Empty(t, writer.chunks)
	assert.Zero(t, se.Cursor.Position)
}

func TestRecoveryEndsWhenInputRunsOut(t *testing.T) {
	reader, writer := newReader(30), newWriter().failing(25, false)

	step := item.NewChunkStep[int, int]("tail-retry", reader, nil, writer,
		item.WithCommitInterval[int, int](10),
		retryRule("boom", errBoom, 3))
	se, err := step.RunStep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, chunks(span(0, 9), span(10, 19), singles(20, 29)), writer.chunks)
	assert.Equal(t, model.ModeNormal, se.Cursor.Mode)
	assert.Zero(t, se.Cursor.FailurePoint)
	assert.Equal(t, int64(30), se.Cursor.Position)
}
