package factory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	"github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

func newFactory(cfg *config.Config) (*factory.StepFactory, *item.ListWriter[any]) {
	f := factory.NewStepFactory(cfg, nil, nil, nil)
	item.RegisterItemBuilders(f)
	logging.RegisterLoggingListenerBuilders(f)
	partitioner.RegisterPartitionerBuilders(f)

	capture := item.NewListWriter[any]()
	f.RegisterComponentBuilder("capture", func(_ *config.Config, _ database.DBConnectionResolver, _ map[string]interface{}) (interface{}, error) {
		return capture, nil
	})
	// rangeReader reads the integers min..max of its properties.
	f.RegisterComponentBuilder("rangeReader", func(_ *config.Config, _ database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props struct {
			Min int `yaml:"min"`
			Max int `yaml:"max"`
		}
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		var items []any
		for v := props.Min; v <= props.Max; v++ {
			items = append(items, v)
		}
		return item.NewListReader(items), nil
	})
	return f, capture
}

func TestCreateStep_BuildsConfiguredChunkStep(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Steps["numbers"] = config.StepConfig{
		Reader: config.ComponentRef{Ref: "listReader", Properties: map[string]interface{}{"count": 10}},
		Processor: config.ComponentRef{Ref: "failingItemProcessor", Properties: map[string]interface{}{
			"fail_on": []interface{}{"3"},
			"message": "rejected",
		}},
		Writer:         config.ComponentRef{Ref: "capture"},
		CommitInterval: 4,
		SkippableExceptionRules: []config.RuleConfig{
			{Name: "rejected-items", Match: "rejected", Limit: 5},
		},
		Listeners: []string{"logging"},
	}
	f, capture := newFactory(cfg)

	step, err := f.CreateStep("numbers")
	require.NoError(t, err)
	assert.Equal(t, "numbers", step.StepName())
	assert.Equal(t, 4, step.CommitInterval())

	se, err := step.RunStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 1, se.Counters.ProcessSkipCount)
	assert.Equal(t, 9, se.Counters.WriteCount)
	assert.Equal(t, []any{0, 1, 2, 4, 5, 6, 7, 8, 9}, capture.Items())
}

func TestCreateStep_InheritsBatchDefaults(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Batch.CommitInterval = 7
	cfg.Chunkflow.Steps["defaults"] = config.StepConfig{
		Reader: config.ComponentRef{Ref: "noOpItemReader"},
		Writer: config.ComponentRef{Ref: "noOpItemWriter"},
	}
	f, _ := newFactory(cfg)

	step, err := f.CreateStep("defaults")
	require.NoError(t, err)
	assert.Equal(t, 7, step.CommitInterval())
}

func TestCreateStep_ReportsConfigurationErrors(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Steps["unknownReader"] = config.StepConfig{
		Reader: config.ComponentRef{Ref: "missing"},
		Writer: config.ComponentRef{Ref: "listWriter"},
	}
	cfg.Chunkflow.Steps["wrongRole"] = config.StepConfig{
		Reader: config.ComponentRef{Ref: "listWriter"},
		Writer: config.ComponentRef{Ref: "listWriter"},
	}
	cfg.Chunkflow.Steps["unknownListener"] = config.StepConfig{
		Reader:    config.ComponentRef{Ref: "listReader"},
		Writer:    config.ComponentRef{Ref: "listWriter"},
		Listeners: []string{"nope"},
	}
	cfg.Chunkflow.Steps["badMode"] = config.StepConfig{
		Reader:           config.ComponentRef{Ref: "listReader"},
		Writer:           config.ComponentRef{Ref: "listWriter"},
		FailurePointMode: "sideways",
	}
	f, _ := newFactory(cfg)

	_, err := f.CreateStep("unknownReader")
	assert.ErrorContains(t, err, "reader 'missing' is not registered")
	_, err = f.CreateStep("wrongRole")
	assert.ErrorContains(t, err, "is not an ItemReader")
	_, err = f.CreateStep("unknownListener")
	assert.ErrorContains(t, err, "listener 'nope' is not registered")
	_, err = f.CreateStep("badMode")
	assert.Error(t, err)
	_, err = f.CreateStep("absent")
	assert.ErrorContains(t, err, "is not configured")

	_, err = f.CreateSteps()
	assert.Error(t, err)
}

func TestBuild_PartitionedStep(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Batch.MaxConcurrency = 2
	cfg.Chunkflow.Steps["ranges"] = config.StepConfig{
		Reader:         config.ComponentRef{Ref: "rangeReader"},
		Writer:         config.ComponentRef{Ref: "capture"},
		CommitInterval: 2,
		Partition: config.PartitionConfig{
			GridSize: 3,
			Partitioner: config.ComponentRef{Ref: "rangePartitioner", Properties: map[string]interface{}{
				"min": 1,
				"max": 9,
			}},
		},
	}
	f, capture := newFactory(cfg)

	steps, err := f.CreateSteps()
	require.NoError(t, err)
	require.Len(t, steps, 1)
	step, ok := steps[0].(*partition.PartitionStep)
	require.True(t, ok)

	se := model.NewStepExecution(step.StepName())
	require.NoError(t, step.Execute(context.Background(), se))
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 9, se.Counters.WriteCount)
	assert.ElementsMatch(t, []any{1, 2, 3, 4, 5, 6, 7, 8, 9}, capture.Items())
}

func TestBuild_PartitionedStepRequiresPartitioner(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Steps["ranges"] = config.StepConfig{
		Reader:    config.ComponentRef{Ref: "rangeReader"},
		Writer:    config.ComponentRef{Ref: "capture"},
		Partition: config.PartitionConfig{GridSize: 2, Partitioner: config.ComponentRef{Ref: "listReader"}},
	}
	f, _ := newFactory(cfg)

	_, err := f.Build("ranges")
	assert.ErrorContains(t, err, "is not a Partitioner")
}

type sourceRow struct {
	ID    int `gorm:"primaryKey"`
	Kind  string
	Value string
}

func (sourceRow) TableName() string { return "source" }

type targetRow struct {
	ID    int `gorm:"primaryKey"`
	Kind  string
	Value string
}

func (targetRow) TableName() string { return "target" }

func TestBuild_DatabaseStepCommitsCheckpointWithItems(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewConfig()
	cfg.Chunkflow.Checkpoint.Store = config.CheckpointStoreSQL
	resolver := test.NewSQLiteResolver(t, cfg, "metadata")

	db := test.GormDB(t, resolver, "metadata")
	require.NoError(t, db.AutoMigrate(&sourceRow{}, &targetRow{}))
	rows := []sourceRow{
		{ID: 1, Kind: "a", Value: "one"},
		{ID: 2, Kind: "b", Value: "two"},
		{ID: 3, Kind: "a", Value: "three"},
		{ID: 4, Kind: "a", Value: "four"},
		{ID: 5, Kind: "b", Value: "five"},
	}
	require.NoError(t, db.Create(&rows).Error)

	repo := sqlrepo.NewSQLStepRepository(resolver, "metadata")
	require.NoError(t, repo.Migrate(ctx))

	cfg.Chunkflow.Steps["copy"] = config.StepConfig{
		Reader: config.ComponentRef{Ref: "gormPagingReader", Properties: map[string]interface{}{
			"table":     "source",
			"order_by":  "id",
			"page_size": 2,
		}},
		Writer:         config.ComponentRef{Ref: "gormUpsertWriter", Properties: map[string]interface{}{"table": "target"}},
		CommitInterval: 2,
	}
	f := factory.NewStepFactory(cfg, repo, nil, nil).
		WithDBResolver(resolver).
		WithTransactionManagerFactory(gormadapter.NewGormTransactionManagerFactory(resolver))
	reader.RegisterReaderBuilders(f)
	writer.RegisterWriterBuilders(f)

	step, err := f.Build("copy")
	require.NoError(t, err)
	se := model.NewStepExecution("copy")
	require.NoError(t, step.Execute(ctx, se))
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 5, se.Counters.WriteCount)

	var copied []targetRow
	require.NoError(t, db.Order("id").Find(&copied).Error)
	require.Len(t, copied, 5)
	assert.Equal(t, "five", copied[4].Value)

	data, err := repo.FindCheckpointData(ctx, "copy")
	require.NoError(t, err)
	assert.True(t, data.Completed)
	offset, ok := data.ReaderContext.GetInt("source.offset")
	require.True(t, ok)
	assert.Equal(t, 5, offset)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, data.PersistentUserData.ItemIDs())

	stored, err := repo.FindLatestStepExecution(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
}

func TestBuild_FileStepSkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewConfig()
	resolver := test.NewLocalStorageResolver(t, cfg, "files")
	conn, err := resolver.ResolveStorageConnection(ctx, "files")
	require.NoError(t, err)
	require.NoError(t, conn.Upload(ctx, "in", "events.jsonl",
		strings.NewReader("{\"id\":1}\n{\"id\":2}\n{broken\n{\"id\":4}\n{\"id\":5}\n")))

	cfg.Chunkflow.Steps["export"] = config.StepConfig{
		Reader: config.ComponentRef{Ref: "jsonLinesReader", Properties: map[string]interface{}{
			"storage_ref": "files",
			"bucket":      "in",
			"object":      "events.jsonl",
		}},
		Writer: config.ComponentRef{Ref: "jsonLinesWriter", Properties: map[string]interface{}{
			"storage_ref": "files",
			"bucket":      "out",
			"prefix":      "events",
		}},
		CommitInterval: 2,
		SkippableExceptionRules: []config.RuleConfig{
			{Name: "malformed", Match: "invalid character", Limit: 1},
		},
	}
	f := factory.NewStepFactory(cfg, nil, nil, nil)
	reader.RegisterStorageReaderBuilders(f, resolver)
	writer.RegisterStorageWriterBuilders(f, resolver)

	step, err := f.Build("export")
	require.NoError(t, err)
	se := model.NewStepExecution("export")
	require.NoError(t, step.Execute(ctx, se))
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 4, se.Counters.WriteCount)
	assert.Equal(t, 1, se.Counters.ReadSkipCount)

	var parts []string
	require.NoError(t, conn.ListObjects(ctx, "out", "", func(name string) error {
		parts = append(parts, name)
		return nil
	}))
	assert.NotEmpty(t, parts)
}
