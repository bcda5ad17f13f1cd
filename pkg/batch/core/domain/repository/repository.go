package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// CheckpointDataRepository persists the committed boundary of a step.
// SaveCheckpointData must join the transaction carried by ctx, if the implementation supports one,
// so the checkpoint and the chunk's writes commit together.
type CheckpointDataRepository interface {
	SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error

	FindCheckpointData(ctx context.Context, stepName string) (*model.CheckpointData, error)

	DeleteCheckpointData(ctx context.Context, stepName string) error
}

// ErrCheckpointDataNotFound is returned when a step has no stored checkpoint.
var ErrCheckpointDataNotFound = errors.New("checkpoint data not found")

func init() {
	exception.RegisterErrorType("ErrCheckpointDataNotFound", ErrCheckpointDataNotFound)
}

// StepRepository combines the stores a chunk step needs.
type StepRepository interface {
	StepExecution
	CheckpointDataRepository

	Close() error
}
