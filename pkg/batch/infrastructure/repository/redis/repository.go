// Package redis provides a StepRepository on Redis. Records are stored as JSON
// under a configurable key prefix. Redis cannot join a SQL chunk transaction, so
// a checkpoint saved here is visible as soon as SaveCheckpointData returns.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RedisStepRepository implements repository.StepRepository on a Redis client.
type RedisStepRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ repository.StepRepository = (*RedisStepRepository)(nil)

// NewRedisStepRepository creates a repository whose keys all start with prefix.
func NewRedisStepRepository(rdb redis.UniversalClient, prefix string) *RedisStepRepository {
	return &RedisStepRepository{rdb: rdb, prefix: prefix}
}

// NewClient parses a redis:// URL and pings the server.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// Key helpers
func (r *RedisStepRepository) stepExecutionKey(id string) string {
	return fmt.Sprintf("%sstep_execution:%s", r.prefix, id)
}

func (r *RedisStepRepository) stepIndexKey(stepName string) string {
	return fmt.Sprintf("%sstep_executions:%s", r.prefix, stepName)
}

func (r *RedisStepRepository) checkpointKey(stepName string) string {
	return fmt.Sprintf("%scheckpoint:%s", r.prefix, stepName)
}

// SaveStepExecution stores a new step execution and indexes it by start time.
func (r *RedisStepRepository) SaveStepExecution(ctx context.Context, se *model.StepExecution) error {
	const op = "RedisStepRepository.SaveStepExecution"
	data, err := json.Marshal(se)
	if err != nil {
		return exception.NewBatchError(op, "failed to marshal StepExecution", err, false, false)
	}

	ok, err := r.rdb.SetNX(ctx, r.stepExecutionKey(se.ID), data, 0).Result()
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save StepExecution (ID: %s)", se.ID), err, false, true)
	}
	if !ok {
		return fmt.Errorf("StepExecution with ID %s already exists", se.ID)
	}

	if err := r.rdb.ZAdd(ctx, r.stepIndexKey(se.StepName), redis.Z{
		Score:  float64(se.StartTime.UnixNano()),
		Member: se.ID,
	}).Err(); err != nil {
		return exception.NewBatchError(op, "failed to index StepExecution", err, false, true)
	}
	return nil
}

// UpdateStepExecution overwrites the stored execution when its version matches, then increments Version.
func (r *RedisStepRepository) UpdateStepExecution(ctx context.Context, se *model.StepExecution) error {
	const op = "RedisStepRepository.UpdateStepExecution"
	key := r.stepExecutionKey(se.ID)

	originalVersion := se.Version
	se.Version++
	se.LastUpdated = time.Now()
	data, err := json.Marshal(se)
	if err != nil {
		se.Version = originalVersion
		return exception.NewBatchError(op, "failed to marshal StepExecution", err, false, false)
	}

	err = r.rdb.Watch(ctx, func(txn *redis.Tx) error {
		current, err := txn.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("update of StepExecution %s: %w", se.ID, repository.ErrStepExecutionNotFound)
		}
		if err != nil {
			return err
		}
		var stored struct{ Version int }
		if err := json.Unmarshal(current, &stored); err != nil {
			return err
		}
		if stored.Version != originalVersion {
			return exception.NewOptimisticLockingFailureException(op, fmt.Sprintf("StepExecution (ID: %s) with version %d not found for update", se.ID, originalVersion), nil)
		}
		_, err = txn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if err != nil {
		se.Version = originalVersion
		if errors.Is(err, redis.TxFailedErr) {
			return exception.NewOptimisticLockingFailureException(op, fmt.Sprintf("StepExecution (ID: %s) was modified concurrently", se.ID), err)
		}
		return err
	}
	return nil
}

// FindStepExecutionByID retrieves a step execution by its ID.
func (r *RedisStepRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	data, err := r.rdb.Get(ctx, r.stepExecutionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrStepExecutionNotFound
	}
	if err != nil {
		return nil, exception.NewBatchError("RedisStepRepository.FindStepExecutionByID", "failed to get StepExecution", err, false, true)
	}
	var se model.StepExecution
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, fmt.Errorf("failed to unmarshal StepExecution %s: %w", id, err)
	}
	if se.Counters.RuleCounts == nil {
		se.Counters.RuleCounts = make(map[string]int)
	}
	return &se, nil
}

// FindLatestStepExecution returns the execution of stepName with the latest start time.
func (r *RedisStepRepository) FindLatestStepExecution(ctx context.Context, stepName string) (*model.StepExecution, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.stepIndexKey(stepName), 0, 0).Result()
	if err != nil {
		return nil, exception.NewBatchError("RedisStepRepository.FindLatestStepExecution", "zrevrange failed", err, false, true)
	}
	if len(ids) == 0 {
		return nil, repository.ErrStepExecutionNotFound
	}
	return r.FindStepExecutionByID(ctx, ids[0])
}

// SaveCheckpointData replaces the checkpoint of data.StepName.
func (r *RedisStepRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	const op = "RedisStepRepository.SaveCheckpointData"
	if data.LastUpdated.IsZero() {
		data.LastUpdated = time.Now()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return exception.NewBatchError(op, "failed to marshal CheckpointData", err, false, false)
	}
	if err := r.rdb.Set(ctx, r.checkpointKey(data.StepName), payload, 0).Err(); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save CheckpointData for step '%s'", data.StepName), err, false, true)
	}
	return nil
}

// FindCheckpointData returns the checkpoint of stepName or ErrCheckpointDataNotFound.
func (r *RedisStepRepository) FindCheckpointData(ctx context.Context, stepName string) (*model.CheckpointData, error) {
	payload, err := r.rdb.Get(ctx, r.checkpointKey(stepName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrCheckpointDataNotFound
	}
	if err != nil {
		return nil, exception.NewBatchError("RedisStepRepository.FindCheckpointData", "failed to get CheckpointData", err, false, true)
	}
	var cd model.CheckpointData
	if err := json.Unmarshal(payload, &cd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CheckpointData for step '%s': %w", stepName, err)
	}
	if cd.ReaderContext == nil {
		cd.ReaderContext = model.NewExecutionContext()
	}
	if cd.WriterContext == nil {
		cd.WriterContext = model.NewExecutionContext()
	}
	if cd.Counters.RuleCounts == nil {
		cd.Counters.RuleCounts = make(map[string]int)
	}
	return &cd, nil
}

// DeleteCheckpointData removes the checkpoint of stepName, if any.
func (r *RedisStepRepository) DeleteCheckpointData(ctx context.Context, stepName string) error {
	return r.rdb.Del(ctx, r.checkpointKey(stepName)).Err()
}

// Close closes the client.
func (r *RedisStepRepository) Close() error {
	return r.rdb.Close()
}
