package port

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// StepExecutionListener is notified before and after a step runs.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener is notified around every chunk.
// AfterChunk is called after a commit, AfterChunkError after a rollback or a fatal failure.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// SkipListener is notified when a failure is skipped.
type SkipListener interface {
	OnSkipInRead(ctx context.Context, err error)
	OnSkipInProcess(ctx context.Context, item interface{}, err error)
	// OnSkipInWrite receives the whole discarded chunk.
	OnSkipInWrite(ctx context.Context, items []interface{}, err error)
}

// RetryListener is notified when a failure rolls the chunk back for retry.
type RetryListener interface {
	OnRetryRead(ctx context.Context, err error)
	OnRetryProcess(ctx context.Context, item interface{}, err error)
	OnRetryWrite(ctx context.Context, items []interface{}, err error)
}
