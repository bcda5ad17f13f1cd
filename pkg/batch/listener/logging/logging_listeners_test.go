package logging_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/classify"
	itemstep "github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

func captureLogs(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel(level)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLogLevel("INFO")
	})
	return &buf
}

func TestListenerCallbacksAreLogged(t *testing.T) {
	buf := captureLogs(t, "DEBUG")
	ctx := context.Background()
	l := logging.NewLoggingListener("import")
	se := model.NewStepExecution("import")
	cause := errors.New("bad row")

	l.BeforeStep(ctx, se)
	l.BeforeChunk(ctx, se)
	l.OnSkipInRead(ctx, cause)
	l.OnSkipInProcess(ctx, 7, cause)
	l.OnSkipInWrite(ctx, []interface{}{1, 2}, cause)
	l.OnRetryRead(ctx, cause)
	l.OnRetryProcess(ctx, 8, cause)
	l.OnRetryWrite(ctx, []interface{}{3}, cause)
	l.AfterChunkError(ctx, se, cause)
	l.AfterChunk(ctx, se)
	se.MarkAsFailed(cause)
	l.AfterStep(ctx, se)

	out := buf.String()
	for _, want := range []string{
		"BeforeStep - StepName: import",
		"BeforeChunk - StepName: import",
		"OnSkipInRead - StepName: import, Error: bad row",
		"OnSkipInProcess - StepName: import, Item: 7",
		"discarded 2 items",
		"OnRetryRead - StepName: import",
		"OnRetryProcess - StepName: import, Item: 8",
		"OnRetryWrite - StepName: import, 1 items",
		"AfterChunkError - StepName: import",
		"AfterChunk - StepName: import",
		"Status: FAILED",
		"Failure: bad row",
	} {
		assert.Contains(t, out, want)
	}
}

func TestListenerReceivesStepEvents(t *testing.T) {
	buf := captureLogs(t, "INFO")
	bad := errors.New("bad row")

	step := itemstep.NewChunkStep[int, int]("numbers",
		item.NewListReader([]int{1, 2, 3, 4}),
		item.NewFilterItemProcessor(func(int) bool { return true }),
		item.NewListWriter[int](),
		itemstep.WithCommitInterval[int, int](2),
		itemstep.WithSkipPolicy[int, int](skip.NewPolicy(classify.NewRule("bad", classify.Is(bad), 0))),
		itemstep.WithListeners[int, int](logging.NewLoggingListener("numbers")),
	)
	se, err := step.RunStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)

	out := buf.String()
	assert.Contains(t, out, "BeforeStep - StepName: numbers")
	assert.Contains(t, out, "AfterStep - StepName: numbers, Status: COMPLETED")
	assert.Contains(t, out, "Read: 4, Write: 4")
	// Chunk events are debug level.
	assert.NotContains(t, out, "BeforeChunk")
}
