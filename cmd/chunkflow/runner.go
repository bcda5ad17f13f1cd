package main

import (
	"context"
	"sync/atomic"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// stepSelection names the steps to run. Empty means every configured step.
type stepSelection []string

// runOutcome carries the result of the run out of the Fx application.
type runOutcome struct {
	failed atomic.Bool
}

// ExitCode is 1 when a step did not complete.
func (o *runOutcome) ExitCode() int {
	if o.failed.Load() {
		return 1
	}
	return 0
}

func startSteps(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	stepFactory *factory.StepFactory,
	executor *partition.Executor,
	selection stepSelection,
	outcome *runOutcome,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in step execution: %v", r)
						outcome.failed.Store(true)
					}
					logger.Infof("Requesting application shutdown after step completion.")
					if err := shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()
				if err := runSteps(appCtx, stepFactory, executor, selection); err != nil {
					logger.Errorf("Run failed: %v", err)
					outcome.failed.Store(true)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}

func runSteps(ctx context.Context, f *factory.StepFactory, executor *partition.Executor, selection stepSelection) error {
	steps, err := buildSteps(f, selection)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		logger.Warnf("No steps are configured.")
		return nil
	}
	logger.Infof("Running %d step(s).", len(steps))
	_, err = executor.Run(ctx, steps, logSummary)
	return err
}

func buildSteps(f *factory.StepFactory, selection stepSelection) ([]port.Step, error) {
	if len(selection) == 0 {
		return f.CreateSteps()
	}
	steps := make([]port.Step, 0, len(selection))
	for _, name := range selection {
		s, err := f.Build(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func logSummary(results []partition.Result) {
	var total model.Counters
	completed := 0
	for _, r := range results {
		se := r.Execution
		total.Add(se.Counters)
		if se.Status == model.BatchStatusCompleted {
			completed++
		}
		logger.Infof("Step '%s' finished with status %s (read=%d, written=%d, filtered=%d, skipped=%d).",
			r.StepName, se.Status, se.Counters.ReadCount, se.Counters.WriteCount, se.Counters.FilterCount, se.Counters.SkipCount())
	}
	logger.Infof("%d of %d step(s) completed. Total read=%d, written=%d, skipped=%d.",
		completed, len(results), total.ReadCount, total.WriteCount, total.SkipCount())
}
