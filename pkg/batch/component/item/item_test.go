package item_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

func TestListReaderRestartsAtStoredPosition(t *testing.T) {
	ctx := context.Background()
	r := item.NewListReader([]string{"a", "b", "c"})
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	v, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	ec, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))

	// JSON-backed stores hand positions back as float64.
	restored := model.NewExecutionContext()
	pos, _ := ec.GetInt(item.ListReaderPositionKey)
	restored.Put(item.ListReaderPositionKey, float64(pos))

	r2 := item.NewListReader([]string{"a", "b", "c"})
	require.NoError(t, r2.Open(ctx, restored))
	for _, want := range []string{"b", "c"} {
		v, err := r2.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	_, err = r2.Read(ctx)
	assert.ErrorIs(t, err, port.ErrNoMoreItems)
}

func TestListReaderRejectsPositionPastEnd(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.Put(item.ListReaderPositionKey, 4)
	err := item.NewListReader([]int{1, 2}).Open(context.Background(), ec)
	assert.Error(t, err)
}

func TestExcludingProcessorFilters(t *testing.T) {
	ctx := context.Background()
	p := item.NewExcludingItemProcessor[int]("2")

	out, err := p.Process(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, out)

	out, err = p.Process(ctx, 2)
	assert.True(t, port.IsFiltered(out, err))
}

func TestFailingProcessorOnce(t *testing.T) {
	ctx := context.Background()
	p := item.NewFailingItemProcessor[int]("bad row", true, "3")

	_, err := p.Process(ctx, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad row: 3")

	out, err := p.Process(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, out)

	always := item.NewFailingItemProcessor[int]("", false, "3")
	_, err = always.Process(ctx, 3)
	assert.Error(t, err)
	_, err = always.Process(ctx, 3)
	assert.Error(t, err)
}

func TestListWriterKeepsChunks(t *testing.T) {
	ctx := context.Background()
	w := item.NewListWriter[int]()
	t0 := tx.Tx(nil)
	require.NoError(t, w.Write(ctx, t0, []int{1, 2}))
	require.NoError(t, w.Write(ctx, t0, []int{3}))

	assert.Equal(t, [][]int{{1, 2}, {3}}, w.Chunks())
	assert.Equal(t, []int{1, 2, 3}, w.Items())
}

func TestExecutionContextWriterCountSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	w := item.NewExecutionContextItemWriter[int]("")
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, w.Write(ctx, nil, []int{1, 2, 3}))

	ec, err := w.GetExecutionContext(ctx)
	require.NoError(t, err)

	w2 := item.NewExecutionContextItemWriter[int]("")
	require.NoError(t, w2.Open(ctx, ec))
	require.NoError(t, w2.Write(ctx, nil, []int{4}))
	assert.Equal(t, 4, w2.Count())
}

func TestUserDataRecorder(t *testing.T) {
	ctx := context.Background()
	r := item.NewInMemoryUserDataRecorder()
	require.NoError(t, r.Append(ctx, "s", []string{"1", "2"}))
	require.NoError(t, r.Append(ctx, "s", []string{"3"}))
	assert.Equal(t, [][]string{{"1", "2"}, {"3"}}, r.Entries("s"))
	assert.Empty(t, r.Entries("other"))
}

func TestBuildersDecodeProperties(t *testing.T) {
	ctx := context.Background()
	c, err := item.NewListReaderBuilder()(nil, nil, map[string]interface{}{"count": "3"})
	require.NoError(t, err)
	r, ok := c.(port.ItemReader[any])
	require.True(t, ok)
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	var got []interface{}
	for {
		v, err := r.Read(ctx)
		if err != nil {
			assert.ErrorIs(t, err, port.ErrNoMoreItems)
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []interface{}{0, 1, 2}, got)

	c, err = item.NewFailingItemProcessorBuilder()(nil, nil, map[string]interface{}{
		"fail_on": []interface{}{1},
		"message": "flaky",
		"once":    "true",
	})
	require.NoError(t, err)
	p, ok := c.(port.ItemProcessor[any, any])
	require.True(t, ok)
	_, err = p.Process(ctx, 1)
	assert.ErrorContains(t, err, "flaky")
	_, err = p.Process(ctx, 1)
	assert.NoError(t, err)
}
