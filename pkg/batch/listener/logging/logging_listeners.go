// Package logging provides listeners that write step, chunk, skip and retry events to the logger.
package logging

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// LoggingStepListener logs the start and the summary of a step.
type LoggingStepListener struct{}

// NewLoggingStepListener creates a new LoggingStepListener.
func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: BeforeStep - StepName: %s, ID: %s, Position: %d, Restarts: %d",
		stepExecution.StepName, stepExecution.ID, stepExecution.Cursor.Position, stepExecution.RestartCount)
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	c := stepExecution.Counters
	logger.Infof("StepExecutionListener: AfterStep - StepName: %s, Status: %s, ExitStatus: %s, Read: %d, Write: %d, Filter: %d, Skip: %d/%d/%d, Retry: %d, Commit: %d, Rollback: %d",
		stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus,
		c.ReadCount, c.WriteCount, c.FilterCount, c.ReadSkipCount, c.ProcessSkipCount, c.WriteSkipCount,
		c.RetryCount, c.CommitCount, c.RollbackCount)
	for _, f := range stepExecution.Failures {
		logger.Errorf("StepExecutionListener: AfterStep - StepName: %s, Failure: %s", stepExecution.StepName, f)
	}
}

// LoggingChunkListener logs chunk boundaries at debug level and chunk errors at warn level.
type LoggingChunkListener struct{}

// NewLoggingChunkListener creates a new LoggingChunkListener.
func NewLoggingChunkListener() *LoggingChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s, Position: %d, Mode: %s",
		stepExecution.StepName, stepExecution.Cursor.Position, stepExecution.Cursor.Mode)
}

func (l *LoggingChunkListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Position: %d, Read: %d, Write: %d",
		stepExecution.StepName, stepExecution.Cursor.Position, stepExecution.Counters.ReadCount, stepExecution.Counters.WriteCount)
}

func (l *LoggingChunkListener) AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	logger.Warnf("ChunkListener: AfterChunkError - StepName: %s, Position: %d, Error: %v",
		stepExecution.StepName, stepExecution.Cursor.Position, err)
}

// LoggingSkipListener logs skipped items.
type LoggingSkipListener struct {
	stepName string
}

// NewLoggingSkipListener creates a new LoggingSkipListener for stepName.
func NewLoggingSkipListener(stepName string) *LoggingSkipListener {
	return &LoggingSkipListener{stepName: stepName}
}

func (l *LoggingSkipListener) OnSkipInRead(ctx context.Context, err error) {
	logger.Warnf("SkipListener: OnSkipInRead - StepName: %s, Error: %v", l.stepName, err)
}

func (l *LoggingSkipListener) OnSkipInProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("SkipListener: OnSkipInProcess - StepName: %s, Item: %s, Error: %v", l.stepName, port.ItemID(item), err)
}

func (l *LoggingSkipListener) OnSkipInWrite(ctx context.Context, items []interface{}, err error) {
	logger.Warnf("SkipListener: OnSkipInWrite - StepName: %s, discarded %d items, Error: %v", l.stepName, len(items), err)
}

// LoggingRetryListener logs failures that roll a chunk back for retry.
type LoggingRetryListener struct {
	stepName string
}

// NewLoggingRetryListener creates a new LoggingRetryListener for stepName.
func NewLoggingRetryListener(stepName string) *LoggingRetryListener {
	return &LoggingRetryListener{stepName: stepName}
}

func (l *LoggingRetryListener) OnRetryRead(ctx context.Context, err error) {
	logger.Warnf("RetryListener: OnRetryRead - StepName: %s, Error: %v", l.stepName, err)
}

func (l *LoggingRetryListener) OnRetryProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("RetryListener: OnRetryProcess - StepName: %s, Item: %s, Error: %v", l.stepName, port.ItemID(item), err)
}

func (l *LoggingRetryListener) OnRetryWrite(ctx context.Context, items []interface{}, err error) {
	logger.Warnf("RetryListener: OnRetryWrite - StepName: %s, %d items, Error: %v", l.stepName, len(items), err)
}

// LoggingListener combines the four logging listeners.
type LoggingListener struct {
	*LoggingStepListener
	*LoggingChunkListener
	*LoggingSkipListener
	*LoggingRetryListener
}

// NewLoggingListener creates a LoggingListener for stepName.
func NewLoggingListener(stepName string) *LoggingListener {
	return &LoggingListener{
		LoggingStepListener:  NewLoggingStepListener(),
		LoggingChunkListener: NewLoggingChunkListener(),
		LoggingSkipListener:  NewLoggingSkipListener(stepName),
		LoggingRetryListener: NewLoggingRetryListener(stepName),
	}
}

var (
	_ port.StepExecutionListener = (*LoggingListener)(nil)
	_ port.ChunkListener         = (*LoggingListener)(nil)
	_ port.SkipListener          = (*LoggingListener)(nil)
	_ port.RetryListener         = (*LoggingListener)(nil)
)
