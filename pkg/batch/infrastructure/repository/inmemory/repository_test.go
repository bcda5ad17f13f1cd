package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
)

func TestStepExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStepRepository()

	se := model.NewStepExecution("importStep")
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	assert.Error(t, repo.SaveStepExecution(ctx, se))

	se.MarkAsStarted()
	se.Counters.ReadCount = 7
	require.NoError(t, repo.UpdateStepExecution(ctx, se))

	found, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, found.Status)
	assert.Equal(t, 7, found.Counters.ReadCount)

	found.Counters.ReadCount = 100
	again, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, again.Counters.ReadCount)

	_, err = repo.FindStepExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
	assert.ErrorIs(t, repo.UpdateStepExecution(ctx, model.NewStepExecution("other")), repository.ErrStepExecutionNotFound)
}

func TestFindLatestStepExecution(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStepRepository()

	older := model.NewStepExecution("importStep")
	older.StartTime = time.Now().Add(-time.Hour)
	newer := model.NewStepExecution("importStep")
	require.NoError(t, repo.SaveStepExecution(ctx, older))
	require.NoError(t, repo.SaveStepExecution(ctx, newer))
	require.NoError(t, repo.SaveStepExecution(ctx, model.NewStepExecution("exportStep")))

	latest, err := repo.FindLatestStepExecution(ctx, "importStep")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	_, err = repo.FindLatestStepExecution(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
}

func TestCheckpointKeyedByStepName(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStepRepository()

	se := model.NewStepExecution("importStep")
	se.Cursor.Position = 10
	se.PersistentUserData.Append([]string{"a", "b"})
	reader := model.NewExecutionContext()
	reader.Put("position", int64(10))

	require.NoError(t, repo.SaveCheckpointData(ctx, model.NewCheckpointData(se, reader, nil)))
	reader.Put("position", int64(99))

	next := model.NewStepExecution("importStep")
	data, err := repo.FindCheckpointData(ctx, next.StepName)
	require.NoError(t, err)
	assert.Equal(t, int64(10), data.Position)
	assert.Equal(t, se.ID, data.StepExecutionID)
	assert.Equal(t, []string{"a", "b"}, data.PersistentUserData.ItemIDs())
	v, _ := data.ReaderContext.GetInt64("position")
	assert.Equal(t, int64(10), v)

	require.NoError(t, repo.DeleteCheckpointData(ctx, "importStep"))
	_, err = repo.FindCheckpointData(ctx, "importStep")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)
}
