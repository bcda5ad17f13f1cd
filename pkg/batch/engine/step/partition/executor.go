// Package partition runs independent steps, or the partitions of one step, concurrently.
//
// Every step runs with its own StepExecution on its own goroutine. Steps share no
// state during execution; the caller sees all of them together once they have
// finished, through the aggregate callback.
package partition

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const module = "partition"

// Result is the outcome of one step run by the Executor.
type Result struct {
	StepName  string
	Execution *model.StepExecution
	// Err is what the step returned: the fatal cause for FAILED, the context error for STOPPED.
	Err error
}

// AggregateFunc receives every result, in the order the steps were given.
type AggregateFunc func(results []Result)

// Executor runs steps concurrently.
type Executor struct {
	maxConcurrency int
}

// NewExecutor creates an Executor running at most maxConcurrency steps at a time.
// Zero or less runs every step at once.
func NewExecutor(maxConcurrency int) *Executor {
	return &Executor{maxConcurrency: maxConcurrency}
}

// Run executes steps and waits for all of them. A failing step does not cancel the
// others; cancelling ctx stops every step at its next item boundary.
//
// aggregate, when not nil, is called exactly once on the calling goroutine after
// the last step has finished. The returned error combines the errors of all steps
// that did not complete.
func (e *Executor) Run(ctx context.Context, steps []port.Step, aggregate AggregateFunc) ([]Result, error) {
	seen := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if _, dup := seen[s.StepName()]; dup {
			return nil, exception.NewBatchErrorf(module, "step '%s' is listed more than once", s.StepName())
		}
		seen[s.StepName()] = struct{}{}
	}

	results := make([]Result, len(steps))
	var g errgroup.Group
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	logger.Debugf("Partition executor: running %d steps (max concurrency %d).", len(steps), e.maxConcurrency)
	for i, s := range steps {
		g.Go(func() error {
			results[i] = runStep(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	if aggregate != nil {
		aggregate(results)
	}

	var merr *multierror.Error
	for _, r := range results {
		if r.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("step '%s': %w", r.StepName, r.Err))
		}
	}
	return results, merr.ErrorOrNil()
}

func runStep(ctx context.Context, s port.Step) (r Result) {
	se := model.NewStepExecution(s.StepName())
	r = Result{StepName: s.StepName(), Execution: se}
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("Partition executor: step '%s' panicked: %v\n%s", r.StepName, p, debug.Stack())
			r.Err = exception.NewBatchErrorf(module, "step '%s' panicked: %v", r.StepName, p)
			if !se.Status.IsFinished() {
				se.MarkAsFailed(r.Err)
			}
		}
	}()
	r.Err = s.Execute(ctx, se)
	return r
}
