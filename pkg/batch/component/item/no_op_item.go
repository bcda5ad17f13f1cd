package item

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NoOpItemReader is an implementation of [port.ItemReader] that is always exhausted.
type NoOpItemReader[O any] struct {
	ec model.ExecutionContext
}

// NewNoOpItemReader creates a new instance of [NoOpItemReader].
func NewNoOpItemReader[O any]() port.ItemReader[O] {
	return &NoOpItemReader[O]{
		ec: model.NewExecutionContext(),
	}
}

// Open keeps ec so that it is checkpointed unchanged.
func (r *NoOpItemReader[O]) Open(ctx context.Context, ec model.ExecutionContext) error {
	logger.Debugf("NoOpItemReader: Open called.")
	r.ec = ec.Copy()
	return nil
}

// Read always returns [port.ErrNoMoreItems].
func (r *NoOpItemReader[O]) Read(ctx context.Context) (O, error) {
	var zero O
	return zero, port.ErrNoMoreItems
}

func (r *NoOpItemReader[O]) Close(ctx context.Context) error {
	return nil
}

func (r *NoOpItemReader[O]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return r.ec.Copy(), nil
}

// NoOpItemWriter is an implementation of [port.ItemWriter] that discards every chunk.
type NoOpItemWriter[I any] struct {
	ec model.ExecutionContext
}

// NewNoOpItemWriter creates a new instance of [NoOpItemWriter].
func NewNoOpItemWriter[I any]() port.ItemWriter[I] {
	return &NoOpItemWriter[I]{
		ec: model.NewExecutionContext(),
	}
}

func (w *NoOpItemWriter[I]) Open(ctx context.Context, ec model.ExecutionContext) error {
	logger.Debugf("NoOpItemWriter: Open called.")
	w.ec = ec.Copy()
	return nil
}

// Write discards items.
func (w *NoOpItemWriter[I]) Write(ctx context.Context, t tx.Tx, items []I) error {
	logger.Debugf("NoOpItemWriter: Write called with %d items.", len(items))
	return nil
}

func (w *NoOpItemWriter[I]) Close(ctx context.Context) error {
	return nil
}

func (w *NoOpItemWriter[I]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return w.ec.Copy(), nil
}
