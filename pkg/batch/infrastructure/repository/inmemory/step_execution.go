package inmemory

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// SaveStepExecution persists a new StepExecution.
// It returns an error if a StepExecution with the same ID already exists.
func (r *InMemoryStepRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[stepExecution.ID]; exists {
		return fmt.Errorf("StepExecution with ID %s already exists", stepExecution.ID)
	}
	r.stepExecutions[stepExecution.ID] = stepExecution.Clone()
	return nil
}

// UpdateStepExecution updates an existing StepExecution.
// It returns ErrStepExecutionNotFound if the StepExecution was never saved.
func (r *InMemoryStepRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[stepExecution.ID]; !exists {
		return fmt.Errorf("update of StepExecution %s: %w", stepExecution.ID, repository.ErrStepExecutionNotFound)
	}
	r.stepExecutions[stepExecution.ID] = stepExecution.Clone()
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
func (r *InMemoryStepRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stepExecution, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return stepExecution.Clone(), nil
}

// FindLatestStepExecution returns the execution of stepName with the latest StartTime.
func (r *InMemoryStepRepository) FindLatestStepExecution(ctx context.Context, stepName string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.StepExecution
	for _, se := range r.stepExecutions {
		if se.StepName != stepName {
			continue
		}
		if latest == nil || se.StartTime.After(latest.StartTime) {
			latest = se
		}
	}
	if latest == nil {
		return nil, repository.ErrStepExecutionNotFound
	}
	return latest.Clone(), nil
}
