// Package sql provides the GORM-backed StepRepository. Checkpoints are written
// through the chunk transaction carried by the context, so a chunk's items and
// its checkpoint commit together when both live in the same database.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SQLStepRepository implements repository.StepRepository on a named database connection.
type SQLStepRepository struct {
	dbResolver database.DBConnectionResolver
	dbName     string
}

var _ repository.StepRepository = (*SQLStepRepository)(nil)

// NewSQLStepRepository creates a repository on the connection named dbName, e.g. "metadata".
func NewSQLStepRepository(dbResolver database.DBConnectionResolver, dbName string) *SQLStepRepository {
	return &SQLStepRepository{dbResolver: dbResolver, dbName: dbName}
}

func (r *SQLStepRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("SQLStepRepository", fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err, false, true)
	}
	return conn, nil
}

// getTxExecutor returns the transaction carried by ctx, or the connection itself outside a chunk.
func (r *SQLStepRepository) getTxExecutor(ctx context.Context) (tx.TxExecutor, error) {
	if t, ok := tx.FromContext(ctx); ok {
		return t, nil
	}
	return r.getDBConnection(ctx)
}

// Migrate creates or updates the step execution and checkpoint tables.
func (r *SQLStepRepository) Migrate(ctx context.Context) error {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	db, ok := gormadapter.DBFrom(conn)
	if !ok {
		return fmt.Errorf("SQLStepRepository: connection '%s' does not support migrations", r.dbName)
	}
	if err := db.WithContext(ctx).AutoMigrate(&StepExecutionEntity{}, &CheckpointDataEntity{}); err != nil {
		return exception.NewBatchError("SQLStepRepository.Migrate", "failed to migrate chunkflow tables", err, false, false)
	}
	logger.Infof("SQLStepRepository: tables migrated on '%s'.", r.dbName)
	return nil
}

// SaveStepExecution inserts a new step execution. A duplicate ID is an error.
func (r *SQLStepRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLStepRepository.SaveStepExecution"
	entity := fromDomainStepExecution(stepExecution)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	if _, err := executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save StepExecution (ID: %s)", stepExecution.ID), err, false, true)
	}
	return nil
}

// UpdateStepExecution overwrites the row whose version matches and increments Version.
// A stale Version yields an optimistic locking failure and leaves Version unchanged.
func (r *SQLStepRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLStepRepository.UpdateStepExecution"

	originalVersion := stepExecution.Version
	stepExecution.Version++
	stepExecution.LastUpdated = time.Now()
	entity := fromDomainStepExecution(stepExecution)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		stepExecution.Version = originalVersion
		return err
	}
	rowsAffected, err := executor.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(), map[string]interface{}{"version": originalVersion})
	if err != nil {
		stepExecution.Version = originalVersion
		return exception.NewBatchError(op, fmt.Sprintf("failed to update StepExecution (ID: %s)", stepExecution.ID), err, false, true)
	}
	if rowsAffected == 0 {
		stepExecution.Version = originalVersion
		if _, findErr := r.FindStepExecutionByID(ctx, stepExecution.ID); errors.Is(findErr, repository.ErrStepExecutionNotFound) {
			return fmt.Errorf("update of StepExecution %s: %w", stepExecution.ID, repository.ErrStepExecutionNotFound)
		}
		return exception.NewOptimisticLockingFailureException(op, fmt.Sprintf("StepExecution (ID: %s) with version %d not found for update", stepExecution.ID, originalVersion), nil)
	}
	return nil
}

// FindStepExecutionByID retrieves a step execution by its ID.
func (r *SQLStepRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	return r.findStepExecution(ctx, "SQLStepRepository.FindStepExecutionByID", map[string]interface{}{"id": executionID}, "")
}

// FindLatestStepExecution returns the execution of stepName with the latest start time.
func (r *SQLStepRepository) FindLatestStepExecution(ctx context.Context, stepName string) (*model.StepExecution, error) {
	return r.findStepExecution(ctx, "SQLStepRepository.FindLatestStepExecution", map[string]interface{}{"step_name": stepName}, "start_time DESC")
}

func (r *SQLStepRepository) findStepExecution(ctx context.Context, op string, query map[string]interface{}, orderBy string) (*model.StepExecution, error) {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var entities []StepExecutionEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, query, orderBy, 0, 1); err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrStepExecutionNotFound
		}
		return nil, exception.NewBatchError(op, "failed to find StepExecution", err, false, true)
	}
	if len(entities) == 0 {
		return nil, repository.ErrStepExecutionNotFound
	}
	return toDomainStepExecution(&entities[0]), nil
}

// SaveCheckpointData upserts the checkpoint of data.StepName inside the chunk transaction, if any.
func (r *SQLStepRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	const op = "SQLStepRepository.SaveCheckpointData"
	if data.LastUpdated.IsZero() {
		data.LastUpdated = time.Now()
	}
	entity := fromDomainCheckpointData(data)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	if _, err := executor.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"step_name"}, checkpointUpdateColumns); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save CheckpointData for step '%s'", data.StepName), err, false, true)
	}
	return nil
}

// FindCheckpointData returns the checkpoint of stepName or ErrCheckpointDataNotFound.
func (r *SQLStepRepository) FindCheckpointData(ctx context.Context, stepName string) (*model.CheckpointData, error) {
	const op = "SQLStepRepository.FindCheckpointData"
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var entities []CheckpointDataEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"step_name": stepName}, "", 0, 1); err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrCheckpointDataNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find CheckpointData for step '%s'", stepName), err, false, true)
	}
	if len(entities) == 0 {
		return nil, repository.ErrCheckpointDataNotFound
	}
	return toDomainCheckpointData(&entities[0]), nil
}

// DeleteCheckpointData removes the checkpoint of stepName, if any.
func (r *SQLStepRepository) DeleteCheckpointData(ctx context.Context, stepName string) error {
	const op = "SQLStepRepository.DeleteCheckpointData"
	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	entity := &CheckpointDataEntity{StepName: stepName}
	if _, err := executor.ExecuteUpdate(ctx, entity, "DELETE", entity.TableName(), map[string]interface{}{"step_name": stepName}); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to delete CheckpointData for step '%s'", stepName), err, false, true)
	}
	return nil
}

// Close is a no-op; the connection belongs to its provider.
func (r *SQLStepRepository) Close() error {
	return nil
}
