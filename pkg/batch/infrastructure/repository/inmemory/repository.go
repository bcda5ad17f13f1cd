// Package inmemory provides an in-memory implementation of the StepRepository interface.
// It stores step executions and checkpoints in maps, suitable for testing and
// for steps whose restartability does not need to survive the process.
package inmemory

import (
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// InMemoryStepRepository is an in-memory implementation of repository.StepRepository.
// Stored records are deep copies, so callers cannot mutate them after saving.
type InMemoryStepRepository struct {
	stepExecutions map[string]*model.StepExecution
	checkpointData map[string]*model.CheckpointData // keyed by step name
	mu             sync.RWMutex
}

// NewInMemoryStepRepository creates and initializes a new instance of InMemoryStepRepository.
func NewInMemoryStepRepository() *InMemoryStepRepository {
	return &InMemoryStepRepository{
		stepExecutions: make(map[string]*model.StepExecution),
		checkpointData: make(map[string]*model.CheckpointData),
	}
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryStepRepository) Close() error {
	return nil
}

var _ repository.StepRepository = (*InMemoryStepRepository)(nil)
