package reader_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

type sourceRow struct {
	ID    int `gorm:"primaryKey"`
	Kind  string
	Value string
}

func (sourceRow) TableName() string { return "source" }

func newResolver(t *testing.T) (*config.Config, database.DBConnectionResolver) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Chunkflow.Database["metadata"] = map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(t.TempDir(), "reader.db"),
	}
	resolver := gormadapter.NewGormDBConnectionResolver(gormadapter.ResolverParams{
		DBProviders: []database.DBProvider{sqlite.NewProvider(cfg)},
		Cfg:         cfg,
	})
	t.Cleanup(func() { _ = resolver.CloseAll() })

	conn, err := resolver.ResolveDBConnection(context.Background(), "metadata")
	require.NoError(t, err)
	db, ok := gormadapter.DBFrom(conn)
	require.True(t, ok)
	require.NoError(t, db.AutoMigrate(&sourceRow{}))
	rows := []sourceRow{
		{ID: 1, Kind: "a", Value: "one"},
		{ID: 2, Kind: "b", Value: "two"},
		{ID: 3, Kind: "a", Value: "three"},
		{ID: 4, Kind: "a", Value: "four"},
		{ID: 5, Kind: "b", Value: "five"},
	}
	require.NoError(t, db.Create(&rows).Error)
	return cfg, resolver
}

func readAll[T any](t *testing.T, r port.ItemReader[T]) []T {
	t.Helper()
	var out []T
	for {
		v, err := r.Read(context.Background())
		if err != nil {
			require.ErrorIs(t, err, port.ErrNoMoreItems)
			return out
		}
		out = append(out, v)
	}
}

func TestPagingReaderResumesFromExecutionContext(t *testing.T) {
	ctx := context.Background()
	_, resolver := newResolver(t)

	r, err := reader.NewGormPagingReader[map[string]interface{}](resolver, "metadata", "src",
		reader.PagingOptions{Table: "source", OrderBy: "id", PageSize: 2})
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	var ids []string
	for i := 0; i < 3; i++ {
		m, err := r.Read(ctx)
		require.NoError(t, err)
		ids = append(ids, reader.Row(m).ItemID())
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	ec, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	offset, ok := ec.GetInt("src.offset")
	require.True(t, ok)
	assert.Equal(t, 3, offset)
	require.NoError(t, r.Close(ctx))

	require.NoError(t, r.Open(ctx, ec))
	rest := readAll[map[string]interface{}](t, r)
	require.Len(t, rest, 2)
	assert.Equal(t, "4", reader.Row(rest[0]).ItemID())
	assert.Equal(t, "5", reader.Row(rest[1]).ItemID())
}

func TestPagingReaderTypedWithWhere(t *testing.T) {
	ctx := context.Background()
	_, resolver := newResolver(t)

	r, err := reader.NewGormPagingReader[sourceRow](resolver, "metadata", "typed",
		reader.PagingOptions{OrderBy: "id DESC", Where: map[string]interface{}{"kind": "a"}, PageSize: 10})
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, nil))

	rows := readAll[sourceRow](t, r)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{4, 3, 1}, []int{rows[0].ID, rows[1].ID, rows[2].ID})
}

func TestPagingReaderRequiresOrder(t *testing.T) {
	_, err := reader.NewGormPagingReader[sourceRow](nil, "metadata", "x", reader.PagingOptions{OrderBy: "id"})
	assert.Error(t, err)

	_, resolver := newResolver(t)
	_, err = reader.NewGormPagingReader[sourceRow](resolver, "metadata", "x", reader.PagingOptions{})
	assert.ErrorContains(t, err, "order_by")
}

func TestPagingReaderBuilderProducesRows(t *testing.T) {
	ctx := context.Background()
	cfg, resolver := newResolver(t)

	c, err := reader.NewGormPagingReaderBuilder()(cfg, resolver, map[string]interface{}{
		"table":     "source",
		"order_by":  "id",
		"page_size": "2",
		"where":     map[string]interface{}{"kind": "b"},
	})
	require.NoError(t, err)
	r, ok := c.(port.ItemReader[any])
	require.True(t, ok)
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	items := readAll[any](t, r)
	require.Len(t, items, 2)
	row, ok := items[0].(reader.Row)
	require.True(t, ok)
	assert.Equal(t, "2", port.ItemID(row))

	_, err = reader.NewGormPagingReaderBuilder()(cfg, resolver, map[string]interface{}{"order_by": "id"})
	assert.ErrorContains(t, err, "table is required")
}

func TestPagingReaderReadsKeyRangeFromBuilderProperties(t *testing.T) {
	ctx := context.Background()
	cfg, resolver := newResolver(t)

	c, err := reader.NewGormPagingReaderBuilder()(cfg, resolver, map[string]interface{}{
		"table":        "source",
		"order_by":     "id",
		"range_column": "id",
		"min":          int64(2),
		"max":          int64(4),
	})
	require.NoError(t, err)
	r := c.(port.ItemReader[any])
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	var ids []string
	for _, it := range readAll[any](t, r) {
		ids = append(ids, port.ItemID(it))
	}
	assert.Equal(t, []string{"2", "3", "4"}, ids)
}
