// Package item provides in-memory readers, processors and writers for chunk steps.
package item

import (
	"context"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListReaderPositionKey is the ExecutionContext key holding the index of the next item.
const ListReaderPositionKey = "list.position"

// ListReader reads the items of a slice in order. Its position is restartable.
type ListReader[T any] struct {
	items []T
	pos   int
}

// NewListReader creates a ListReader over items. The slice is not copied.
func NewListReader[T any](items []T) *ListReader[T] {
	return &ListReader[T]{items: items}
}

// Open positions the reader at the index stored in ec, or at the first item.
func (r *ListReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.pos = 0
	if p, ok := ec.GetInt(ListReaderPositionKey); ok {
		if p < 0 || p > len(r.items) {
			return fmt.Errorf("list position %d out of range [0, %d]", p, len(r.items))
		}
		r.pos = p
	}
	logger.Debugf("ListReader: opened at position %d of %d.", r.pos, len(r.items))
	return nil
}

// Read returns the next item, or port.ErrNoMoreItems at the end of the list.
func (r *ListReader[T]) Read(ctx context.Context) (T, error) {
	if r.pos >= len(r.items) {
		var zero T
		return zero, port.ErrNoMoreItems
	}
	item := r.items[r.pos]
	r.pos++
	return item, nil
}

func (r *ListReader[T]) Close(ctx context.Context) error {
	return nil
}

// GetExecutionContext returns the index of the next item.
func (r *ListReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(ListReaderPositionKey, r.pos)
	return ec, nil
}

var _ port.ItemReader[any] = (*ListReader[any])(nil)
