package writer_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

type doc map[string]interface{}

func (d doc) Values() map[string]interface{} { return d }

func TestJSONLinesWriter_WritesOnePartPerChunk(t *testing.T) {
	ctx := context.Background()
	resolver := test.NewLocalStorageResolver(t, config.NewConfig(), "files")
	w, err := writer.NewJSONLinesWriter[any](resolver, "files", "export", "out", "export/orders")
	require.NoError(t, err)
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))

	require.NoError(t, w.Write(ctx, nil, []any{doc{"id": 1}, doc{"id": 2}}))
	require.NoError(t, w.Write(ctx, nil, []any{"plain"}))
	require.NoError(t, w.Write(ctx, nil, nil))

	ec, err := w.GetExecutionContext(ctx)
	require.NoError(t, err)
	parts, _ := ec.GetInt("export.parts")
	written, _ := ec.GetInt("export.written")
	assert.Equal(t, 2, parts)
	assert.Equal(t, 3, written)
	require.NoError(t, w.Close(ctx))

	conn, err := resolver.ResolveStorageConnection(ctx, "files")
	require.NoError(t, err)
	var names []string
	require.NoError(t, conn.ListObjects(ctx, "out", "export/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"export/orders-000000.jsonl", "export/orders-000001.jsonl"}, names)

	rc, err := conn.Download(ctx, "out", w.PartName(0))
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":1}\n{\"id\":2}\n", string(body))
}

func TestJSONLinesWriter_RestartReplacesUncommittedPart(t *testing.T) {
	ctx := context.Background()
	resolver := test.NewLocalStorageResolver(t, config.NewConfig(), "files")
	w, err := writer.NewJSONLinesWriter[any](resolver, "files", "export", "out", "export/orders")
	require.NoError(t, err)

	committed := model.NewExecutionContext()
	committed.Put("export.parts", 1)
	committed.Put("export.written", 2)
	require.NoError(t, w.Open(ctx, committed))
	require.NoError(t, w.Write(ctx, nil, []any{doc{"id": 3}}))
	require.NoError(t, w.Close(ctx))

	require.NoError(t, w.Open(ctx, committed))
	require.NoError(t, w.Write(ctx, nil, []any{doc{"id": 4}}))

	conn, err := resolver.ResolveStorageConnection(ctx, "files")
	require.NoError(t, err)
	rc, err := conn.Download(ctx, "out", "export/orders-000001.jsonl")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":4}\n", string(body))
}

func TestJSONLinesWriter_RequiresPrefix(t *testing.T) {
	_, err := writer.NewJSONLinesWriter[any](test.NewLocalStorageResolver(t, config.NewConfig()), "files", "x", "", "")
	assert.Error(t, err)
}
