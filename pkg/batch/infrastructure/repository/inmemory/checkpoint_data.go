package inmemory

import (
	"context"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// SaveCheckpointData persists checkpoint data, replacing any previous checkpoint of the same step.
// The in-memory store has no transaction to join; the write is visible immediately.
func (r *InMemoryStepRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkpointData[data.StepName] = data.Clone()
	return nil
}

// FindCheckpointData finds the checkpoint of the named step.
// It returns ErrCheckpointDataNotFound if the step has none.
func (r *InMemoryStepRepository) FindCheckpointData(ctx context.Context, stepName string) (*model.CheckpointData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.checkpointData[stepName]
	if !ok {
		return nil, repository.ErrCheckpointDataNotFound
	}
	return data.Clone(), nil
}

// DeleteCheckpointData removes the checkpoint of the named step, if any.
func (r *InMemoryStepRepository) DeleteCheckpointData(ctx context.Context, stepName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.checkpointData, stepName)
	return nil
}
