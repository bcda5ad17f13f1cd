package partition

import (
	"context"
	"fmt"
	"sort"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// WorkerFactory builds the worker step of one partition.
type WorkerFactory func(workerName string, partition model.ExecutionContext) (port.Step, error)

// WorkerName returns the step name of a partition's worker. Workers checkpoint under this name.
func WorkerName(stepName, partitionName string) string {
	return fmt.Sprintf("%s:%s", stepName, partitionName)
}

// PartitionStep is a controller step: it asks a Partitioner for partitions, runs one
// worker step per partition on an Executor and folds the worker counters into its
// own StepExecution.
type PartitionStep struct {
	name           string
	partitioner    port.Partitioner
	gridSize       int
	newWorker      WorkerFactory
	executor       *Executor
	stepRepository repository.StepExecution
	listeners      []port.StepExecutionListener
}

// Option configures a PartitionStep.
type Option func(*PartitionStep)

// WithMaxConcurrency bounds the number of workers running at once.
func WithMaxConcurrency(n int) Option {
	return func(s *PartitionStep) { s.executor = NewExecutor(n) }
}

// WithStepRepository persists the controller StepExecution.
func WithStepRepository(r repository.StepExecution) Option {
	return func(s *PartitionStep) { s.stepRepository = r }
}

// WithListeners registers listeners notified before and after the controller runs.
func WithListeners(listeners ...port.StepExecutionListener) Option {
	return func(s *PartitionStep) { s.listeners = append(s.listeners, listeners...) }
}

// NewPartitionStep creates a PartitionStep.
func NewPartitionStep(name string, partitioner port.Partitioner, gridSize int, newWorker WorkerFactory, opts ...Option) *PartitionStep {
	s := &PartitionStep{
		name:        name,
		partitioner: partitioner,
		gridSize:    gridSize,
		newWorker:   newWorker,
		executor:    NewExecutor(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StepName returns the controller step name.
func (s *PartitionStep) StepName() string {
	return s.name
}

// Execute partitions the input, runs the workers and aggregates their executions.
// The controller is FAILED if any worker failed, STOPPED if any worker stopped and
// COMPLETED otherwise.
func (s *PartitionStep) Execute(ctx context.Context, se *model.StepExecution) error {
	logger.Infof("PartitionStep '%s' executing (GridSize: %d).", s.name, s.gridSize)

	se.MarkAsStarted()
	if s.stepRepository != nil {
		if err := s.stepRepository.SaveStepExecution(ctx, se); err != nil {
			if updateErr := s.stepRepository.UpdateStepExecution(ctx, se); updateErr != nil {
				se.MarkAsFailed(err)
				return exception.NewBatchError(s.name, "failed to persist StepExecution", err, false, false)
			}
		}
	}
	for _, l := range s.listeners {
		l.BeforeStep(ctx, se)
	}

	err := s.run(ctx, se)

	for _, l := range s.listeners {
		l.AfterStep(ctx, se)
	}
	if s.stepRepository != nil {
		if updateErr := s.stepRepository.UpdateStepExecution(ctx, se); updateErr != nil {
			logger.Errorf("PartitionStep '%s': failed to update StepExecution: %v", s.name, updateErr)
		}
	}
	logger.Infof("PartitionStep '%s' finished. ExitStatus: %s, read=%d, written=%d",
		s.name, se.ExitStatus, se.Counters.ReadCount, se.Counters.WriteCount)
	return err
}

func (s *PartitionStep) run(ctx context.Context, se *model.StepExecution) error {
	partitions, err := s.partitioner.Partition(ctx, s.gridSize)
	if err != nil {
		err = exception.NewBatchError(s.name, "failed to execute Partitioner", err, false, false)
		se.MarkAsFailed(err)
		return err
	}
	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	logger.Infof("PartitionStep '%s': Partitioner returned %d partitions.", s.name, len(names))

	workers := make([]port.Step, 0, len(names))
	for _, name := range names {
		workerName := WorkerName(s.name, name)
		w, buildErr := s.newWorker(workerName, partitions[name].Copy())
		if buildErr != nil {
			err = exception.NewBatchError(s.name, fmt.Sprintf("failed to build worker '%s'", workerName), buildErr, false, false)
			se.MarkAsFailed(err)
			return err
		}
		se.ExecutionContext.Put(workerName, map[string]interface{}(partitions[name].Copy()))
		workers = append(workers, w)
	}

	var failed, stopped bool
	results, runErr := s.executor.Run(ctx, workers, func(results []Result) {
		se.Counters = model.Counters{RuleCounts: make(map[string]int)}
		for _, r := range results {
			se.Counters.Add(r.Execution.Counters)
			switch r.Execution.Status {
			case model.BatchStatusCompleted:
			case model.BatchStatusStopped:
				stopped = true
			default:
				failed = true
				for _, f := range r.Execution.Failures {
					se.AddFailureException(fmt.Errorf("%s: %s", r.StepName, f))
				}
			}
		}
	})

	switch {
	case results == nil && runErr != nil:
		se.MarkAsFailed(runErr)
		return runErr
	case failed:
		err = exception.NewBatchError(s.name, "one or more partitions failed", runErr, false, false)
		se.MarkAsFailed(nil)
		return err
	case stopped:
		se.MarkAsStopped()
		return runErr
	default:
		se.MarkAsCompleted()
		return nil
	}
}

var _ port.Step = (*PartitionStep)(nil)
