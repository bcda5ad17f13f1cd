package item_test

import (
	"context"
	"errors"
	"sync"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

const noFailure = -1

var (
	errBoom   = errors.New("boom")
	errFatal  = errors.New("unrecoverable")
	errBadRow = errors.New("bad row")
)

// faultyReader reads 0..n-1 and fails on the item at failAt, once or every time it is read.
type faultyReader struct {
	n      int
	pos    int
	failAt int
	always bool
	err    error
	failed bool

	// blockAt makes the read of that position wait for ctx instead of returning.
	blockAt   int
	blockOnce bool
	blocked   bool

	// onRead is called with the position of every read attempt.
	onRead func(pos int)

	opens  int
	closes int
}

func newReader(n int) *faultyReader {
	return &faultyReader{n: n, failAt: noFailure, blockAt: noFailure, err: errBoom}
}

func (r *faultyReader) failing(at int, always bool) *faultyReader {
	r.failAt, r.always = at, always
	return r
}

func (r *faultyReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.opens++
	r.pos = 0
	if p, ok := ec.GetInt("position"); ok {
		r.pos = p
	}
	return nil
}

func (r *faultyReader) Read(ctx context.Context) (int, error) {
	if r.pos >= r.n {
		return 0, port.ErrNoMoreItems
	}
	i := r.pos
	r.pos++
	if r.onRead != nil {
		r.onRead(i)
	}
	if i == r.blockAt && !(r.blockOnce && r.blocked) {
		r.blocked = true
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if i == r.failAt && (r.always || !r.failed) {
		r.failed = true
		return 0, r.err
	}
	return i, nil
}

func (r *faultyReader) Close(ctx context.Context) error {
	r.closes++
	return nil
}

func (r *faultyReader) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put("position", r.pos)
	return ec, nil
}

// faultyProcessor passes items through, failing on failAt and filtering what filter selects.
type faultyProcessor struct {
	failAt int
	always bool
	err    error
	failed bool
	filter func(int) bool
}

func newProcessor() *faultyProcessor {
	return &faultyProcessor{failAt: noFailure, err: errBoom}
}

func (p *faultyProcessor) failing(at int, always bool) *faultyProcessor {
	p.failAt, p.always = at, always
	return p
}

func (p *faultyProcessor) Process(ctx context.Context, item int) (int, error) {
	if item == p.failAt && (p.always || !p.failed) {
		p.failed = true
		return 0, p.err
	}
	if p.filter != nil && p.filter(item) {
		return 0, port.ErrItemFiltered
	}
	return item, nil
}

// slowProcessor takes delay to process slowAt and records every item it finished.
type slowProcessor struct {
	slowAt  int
	delay   time.Duration
	started chan struct{}

	completed []int
}

func newSlowProcessor(at int, delay time.Duration) *slowProcessor {
	return &slowProcessor{slowAt: at, delay: delay, started: make(chan struct{})}
}

func (p *slowProcessor) Process(ctx context.Context, item int) (int, error) {
	if item == p.slowAt {
		close(p.started)
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	p.completed = append(p.completed, item)
	return item, nil
}

// flakyCheckpoints fails the failOn-th save and delegates every other call.
type flakyCheckpoints struct {
	repository.CheckpointDataRepository
	failOn int
	saves  int
}

func (r *flakyCheckpoints) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	r.saves++
	if r.saves == r.failOn {
		return errors.New("checkpoint store unavailable")
	}
	return r.CheckpointDataRepository.SaveCheckpointData(ctx, data)
}

// userDataLog collects the identifiers handed to the recorder, one entry per commit.
type userDataLog struct {
	entries [][]string
}

func (l *userDataLog) Append(ctx context.Context, stepName string, itemIDs []string) error {
	l.entries = append(l.entries, append([]string(nil), itemIDs...))
	return nil
}

func (l *userDataLog) ids() []string {
	var out []string
	for _, e := range l.entries {
		out = append(out, e...)
	}
	return out
}

// faultyWriter records every chunk it accepts and fails any chunk containing failOn.
type faultyWriter struct {
	failOn int
	always bool
	err    error
	failed bool

	chunks [][]int
	opens  int
	closes int
}

func newWriter() *faultyWriter {
	return &faultyWriter{failOn: noFailure, err: errBoom}
}

func (w *faultyWriter) failing(on int, always bool) *faultyWriter {
	w.failOn, w.always = on, always
	return w
}

func (w *faultyWriter) Open(ctx context.Context, ec model.ExecutionContext) error {
	w.opens++
	return nil
}

func (w *faultyWriter) Write(ctx context.Context, t tx.Tx, items []int) error {
	for _, item := range items {
		if item == w.failOn && (w.always || !w.failed) {
			w.failed = true
			return w.err
		}
	}
	w.chunks = append(w.chunks, append([]int(nil), items...))
	return nil
}

func (w *faultyWriter) Close(ctx context.Context) error {
	w.closes++
	return nil
}

func (w *faultyWriter) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put("chunks", len(w.chunks))
	return ec, nil
}

// recordingListener counts every callback it receives.
type recordingListener struct {
	mu sync.Mutex

	beforeStep, afterStep                  int
	beforeChunk, afterChunk, afterChunkErr int
	skipRead, skipProcess, skipWrite       int
	retryRead, retryProcess, retryWrite    int
	skippedWriteItems, retriedWriteItems   []interface{}
	lastStatus                             model.BatchStatus
}

func (l *recordingListener) BeforeStep(ctx context.Context, se *model.StepExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beforeStep++
}

func (l *recordingListener) AfterStep(ctx context.Context, se *model.StepExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.afterStep++
	l.lastStatus = se.Status
}

func (l *recordingListener) BeforeChunk(ctx context.Context, se *model.StepExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beforeChunk++
}

func (l *recordingListener) AfterChunk(ctx context.Context, se *model.StepExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.afterChunk++
}

func (l *recordingListener) AfterChunkError(ctx context.Context, se *model.StepExecution, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.afterChunkErr++
}

func (l *recordingListener) OnSkipInRead(ctx context.Context, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipRead++
}

func (l *recordingListener) OnSkipInProcess(ctx context.Context, item interface{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipProcess++
}

func (l *recordingListener) OnSkipInWrite(ctx context.Context, items []interface{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipWrite++
	l.skippedWriteItems = append(l.skippedWriteItems, items...)
}

func (l *recordingListener) OnRetryRead(ctx context.Context, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retryRead++
}

func (l *recordingListener) OnRetryProcess(ctx context.Context, item interface{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retryProcess++
}

func (l *recordingListener) OnRetryWrite(ctx context.Context, items []interface{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retryWrite++
	l.retriedWriteItems = append(l.retriedWriteItems, items...)
}

var (
	_ port.StepExecutionListener = (*recordingListener)(nil)
	_ port.ChunkListener         = (*recordingListener)(nil)
	_ port.SkipListener          = (*recordingListener)(nil)
	_ port.RetryListener         = (*recordingListener)(nil)
)
