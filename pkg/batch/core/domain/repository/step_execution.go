package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// ErrStepExecutionNotFound is returned when no step execution matches the lookup.
var ErrStepExecutionNotFound = errors.New("step execution not found")

func init() {
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
}

// StepExecution stores step execution records.
type StepExecution interface {
	// SaveStepExecution persists a new step execution.
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// UpdateStepExecution updates an existing step execution.
	// Implementations that version records return an optimistic locking failure on a stale Version.
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// FindStepExecutionByID retrieves a step execution by its ID.
	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)

	// FindLatestStepExecution returns the most recently started execution of the named step.
	FindLatestStepExecution(ctx context.Context, stepName string) (*model.StepExecution, error)
}
