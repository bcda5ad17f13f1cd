// Package partitioner provides the partitioners of partitioned steps.
package partitioner

import (
	"context"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const module = "partitioner"

// Keys written by the partitioners into each partition context.
const (
	PartitionIndexKey = "partition_index"
	GridSizeKey       = "grid_size"
	MinKey            = "min"
	MaxKey            = "max"
)

// PartitionName returns the name of the i-th partition.
func PartitionName(i int) string {
	return fmt.Sprintf("partition%d", i)
}

// SimplePartitioner returns gridSize partitions that only carry their index.
// Workers decide for themselves which part of the input an index stands for.
type SimplePartitioner struct{}

// NewSimplePartitioner creates a new instance of SimplePartitioner.
func NewSimplePartitioner() *SimplePartitioner {
	return &SimplePartitioner{}
}

// Partition implements port.Partitioner.
func (p *SimplePartitioner) Partition(ctx context.Context, gridSize int) (map[string]model.ExecutionContext, error) {
	if gridSize < 1 {
		return nil, exception.NewBatchErrorf(module, "grid size must be positive, got %d", gridSize)
	}
	logger.Debugf("SimplePartitioner: Generating %d partitions.", gridSize)
	partitions := make(map[string]model.ExecutionContext, gridSize)
	for i := 0; i < gridSize; i++ {
		ec := model.NewExecutionContext()
		ec.Put(PartitionIndexKey, i)
		ec.Put(GridSizeKey, gridSize)
		partitions[PartitionName(i)] = ec
	}
	return partitions, nil
}

// RangePartitioner splits the inclusive range [Min, Max] into contiguous sub-ranges of
// near-equal size. It returns fewer than gridSize partitions when the range is smaller
// than the grid.
type RangePartitioner struct {
	Min int64
	Max int64
}

// NewRangePartitioner creates a RangePartitioner over [min, max].
func NewRangePartitioner(min, max int64) (*RangePartitioner, error) {
	if max < min {
		return nil, exception.NewBatchErrorf(module, "range max %d is below min %d", max, min)
	}
	return &RangePartitioner{Min: min, Max: max}, nil
}

// Partition implements port.Partitioner. Each context holds "min" and "max".
func (p *RangePartitioner) Partition(ctx context.Context, gridSize int) (map[string]model.ExecutionContext, error) {
	if gridSize < 1 {
		return nil, exception.NewBatchErrorf(module, "grid size must be positive, got %d", gridSize)
	}
	span := p.Max - p.Min + 1
	if int64(gridSize) > span {
		gridSize = int(span)
	}
	size, rest := span/int64(gridSize), span%int64(gridSize)

	partitions := make(map[string]model.ExecutionContext, gridSize)
	lo := p.Min
	for i := 0; i < gridSize; i++ {
		n := size
		if int64(i) < rest {
			n++
		}
		ec := model.NewExecutionContext()
		ec.Put(PartitionIndexKey, i)
		ec.Put(MinKey, lo)
		ec.Put(MaxKey, lo+n-1)
		partitions[PartitionName(i)] = ec
		lo += n
	}
	logger.Debugf("RangePartitioner: [%d, %d] split into %d partitions.", p.Min, p.Max, gridSize)
	return partitions, nil
}

var (
	_ port.Partitioner = (*SimplePartitioner)(nil)
	_ port.Partitioner = (*RangePartitioner)(nil)
)
