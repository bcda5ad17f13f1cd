package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	redisrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/redis"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// newRepository connects to REDIS_URL; tests are skipped without it.
func newRepository(t *testing.T) *redisrepo.RedisStepRepository {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := redisrepo.NewClient(ctx, url)
	require.NoError(t, err)

	prefix := "chunkflow:test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		_ = rdb.Close()
	})
	return redisrepo.NewRedisStepRepository(rdb, prefix)
}

func TestRedisStepExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	older := model.NewStepExecution("importStep")
	older.StartTime = older.StartTime.Add(-time.Hour)
	se := model.NewStepExecution("importStep")
	require.NoError(t, repo.SaveStepExecution(ctx, older))
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	assert.Error(t, repo.SaveStepExecution(ctx, se))

	stale := se.Clone()
	se.Counters.ReadCount = 10
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	assert.Equal(t, 1, se.Version)

	err := repo.UpdateStepExecution(ctx, stale)
	assert.ErrorIs(t, err, exception.ErrOptimisticLockingFailure)
	assert.Equal(t, 0, stale.Version)

	latest, err := repo.FindLatestStepExecution(ctx, "importStep")
	require.NoError(t, err)
	assert.Equal(t, se.ID, latest.ID)
	assert.Equal(t, 10, latest.Counters.ReadCount)

	_, err = repo.FindStepExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
}

func TestRedisCheckpoints(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	_, err := repo.FindCheckpointData(ctx, "importStep")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)

	se := model.NewStepExecution("importStep")
	se.Cursor.Position = 20
	reader := model.NewExecutionContext()
	reader.Put("position", 20)
	require.NoError(t, repo.SaveCheckpointData(ctx, model.NewCheckpointData(se, reader, model.NewExecutionContext())))

	cp, err := repo.FindCheckpointData(ctx, "importStep")
	require.NoError(t, err)
	assert.EqualValues(t, 20, cp.Position)
	position, ok := cp.ReaderContext.GetInt("position")
	assert.True(t, ok)
	assert.Equal(t, 20, position)

	require.NoError(t, repo.DeleteCheckpointData(ctx, "importStep"))
	_, err = repo.FindCheckpointData(ctx, "importStep")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)
}
