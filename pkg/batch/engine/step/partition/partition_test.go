package partition_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	"github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	itemstep "github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
)

func listStep(name string, items []int, failOn ...string) *itemstep.ChunkStep[int, int] {
	return itemstep.NewChunkStep[int, int](name,
		item.NewListReader(items),
		item.NewFailingItemProcessor[int]("rejected", false, failOn...),
		item.NewListWriter[int](),
		itemstep.WithCommitInterval[int, int](2),
	)
}

// gate is a step that records how many gates run at the same time.
type gate struct {
	name    string
	running *int32
	peak    *int32
}

func (g *gate) StepName() string { return g.name }

func (g *gate) Execute(ctx context.Context, se *model.StepExecution) error {
	se.MarkAsStarted()
	n := atomic.AddInt32(g.running, 1)
	for {
		p := atomic.LoadInt32(g.peak)
		if n <= p || atomic.CompareAndSwapInt32(g.peak, p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(g.running, -1)
	se.MarkAsCompleted()
	return nil
}

type panicking struct{}

func (panicking) StepName() string { return "panicking" }
func (panicking) Execute(ctx context.Context, se *model.StepExecution) error {
	panic("boom")
}

func TestExecutor_RunsStepsAndAggregatesOnce(t *testing.T) {
	steps := []port.Step{
		listStep("a", []int{1, 2, 3}),
		listStep("b", []int{4, 5}),
		listStep("c", []int{6, 7, 8, 9}),
	}

	calls := 0
	var written int
	results, err := partition.NewExecutor(0).Run(context.Background(), steps, func(results []partition.Result) {
		calls++
		for _, r := range results {
			written += r.Execution.Counters.WriteCount
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 9, written)
	require.Len(t, results, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, results[i].StepName)
		assert.Equal(t, model.BatchStatusCompleted, results[i].Execution.Status)
	}
}

func TestExecutor_FailuresDoNotStopOtherSteps(t *testing.T) {
	steps := []port.Step{
		listStep("ok", []int{1, 2}),
		listStep("bad", []int{1, 2, 3}, "2"),
		listStep("also-ok", []int{5}),
	}

	results, err := partition.NewExecutor(1).Run(context.Background(), steps, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 'bad'")
	assert.NotContains(t, err.Error(), "step 'ok'")

	assert.Equal(t, model.BatchStatusCompleted, results[0].Execution.Status)
	assert.Equal(t, model.BatchStatusFailed, results[1].Execution.Status)
	assert.Equal(t, model.BatchStatusCompleted, results[2].Execution.Status)
	assert.Error(t, results[1].Err)
}

func TestExecutor_LimitsConcurrency(t *testing.T) {
	var running, peak int32
	steps := make([]port.Step, 0, 6)
	for _, name := range []string{"g1", "g2", "g3", "g4", "g5", "g6"} {
		steps = append(steps, &gate{name: name, running: &running, peak: &peak})
	}

	_, err := partition.NewExecutor(2).Run(context.Background(), steps, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(1))
}

func TestExecutor_RejectsDuplicateStepNames(t *testing.T) {
	called := false
	_, err := partition.NewExecutor(0).Run(context.Background(),
		[]port.Step{listStep("same", []int{1}), listStep("same", []int{2})},
		func([]partition.Result) { called = true })
	assert.ErrorContains(t, err, "more than once")
	assert.False(t, called)
}

func TestExecutor_RecoversPanickingStep(t *testing.T) {
	results, err := partition.NewExecutor(0).Run(context.Background(), []port.Step{panicking{}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, model.BatchStatusFailed, results[0].Execution.Status)
}

func rangeWorker(failOn ...string) partition.WorkerFactory {
	return func(workerName string, ec model.ExecutionContext) (port.Step, error) {
		lo, ok := ec.GetInt64(partitioner.MinKey)
		if !ok {
			return nil, errors.New("partition has no min")
		}
		hi, _ := ec.GetInt64(partitioner.MaxKey)
		var items []int
		for v := lo; v <= hi; v++ {
			items = append(items, int(v))
		}
		return listStep(workerName, items, failOn...), nil
	}
}

func TestPartitionStep_AggregatesWorkerCounters(t *testing.T) {
	p, err := partitioner.NewRangePartitioner(1, 10)
	require.NoError(t, err)
	step := partition.NewPartitionStep("load", p, 3, rangeWorker(), partition.WithMaxConcurrency(2))

	se := model.NewStepExecution("load")
	require.NoError(t, step.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 10, se.Counters.ReadCount)
	assert.Equal(t, 10, se.Counters.WriteCount)
	for _, name := range []string{"load:partition0", "load:partition1", "load:partition2"} {
		_, ok := se.ExecutionContext.Get(name)
		assert.True(t, ok, name)
	}
}

func TestPartitionStep_FailsWhenAWorkerFails(t *testing.T) {
	p, err := partitioner.NewRangePartitioner(1, 6)
	require.NoError(t, err)
	step := partition.NewPartitionStep("load", p, 2, rangeWorker("5"))

	se := model.NewStepExecution("load")
	err = step.Execute(context.Background(), se)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	require.NotEmpty(t, se.Failures)
	assert.Contains(t, se.Failures[0], "load:partition1")
}

func TestPartitionStep_FailsWhenAWorkerCannotBeBuilt(t *testing.T) {
	step := partition.NewPartitionStep("load", partitioner.NewSimplePartitioner(), 2, rangeWorker())

	se := model.NewStepExecution("load")
	err := step.Execute(context.Background(), se)
	assert.ErrorContains(t, err, "failed to build worker")
	assert.Equal(t, model.BatchStatusFailed, se.Status)
}
