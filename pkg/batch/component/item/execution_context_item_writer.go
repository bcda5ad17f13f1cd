package item

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultWriteCountKey is the key ExecutionContextItemWriter counts under when none is given.
const DefaultWriteCountKey = "writer.write_count"

// ExecutionContextItemWriter counts written items in its ExecutionContext.
// The writer context is stored with every checkpoint, so the count survives a restart
// and is rolled back with the chunk it belongs to.
type ExecutionContextItemWriter[I any] struct {
	ec  model.ExecutionContext
	key string
}

// NewExecutionContextItemWriter creates a new instance of ExecutionContextItemWriter.
func NewExecutionContextItemWriter[I any](key string) *ExecutionContextItemWriter[I] {
	if key == "" {
		key = DefaultWriteCountKey
	}
	return &ExecutionContextItemWriter[I]{
		ec:  model.NewExecutionContext(),
		key: key,
	}
}

// Open restores the count from ec.
func (w *ExecutionContextItemWriter[I]) Open(ctx context.Context, ec model.ExecutionContext) error {
	w.ec = ec.Copy()
	return nil
}

// Write adds len(items) to the count.
func (w *ExecutionContextItemWriter[I]) Write(ctx context.Context, t tx.Tx, items []I) error {
	current, _ := w.ec.GetInt(w.key)
	w.ec.Put(w.key, current+len(items))
	logger.Debugf("ExecutionContextItemWriter: '%s' is now %d.", w.key, current+len(items))
	return nil
}

func (w *ExecutionContextItemWriter[I]) Close(ctx context.Context) error {
	return nil
}

func (w *ExecutionContextItemWriter[I]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return w.ec.Copy(), nil
}

// Count returns the current count.
func (w *ExecutionContextItemWriter[I]) Count() int {
	n, _ := w.ec.GetInt(w.key)
	return n
}

var _ port.ItemWriter[any] = (*ExecutionContextItemWriter[any])(nil)
