package item

import (
	"context"
	"fmt"
	"strings"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// PassThroughItemProcessor is an implementation of [port.ItemProcessor] that returns the input item as the output item as is.
type PassThroughItemProcessor[T any] struct{}

// NewPassThroughItemProcessor creates a new instance of [PassThroughItemProcessor].
func NewPassThroughItemProcessor[T any]() port.ItemProcessor[T, T] {
	return &PassThroughItemProcessor[T]{}
}

// Process returns the input item as is.
func (p *PassThroughItemProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	return item, nil
}

// FilterItemProcessor filters the items a predicate rejects.
type FilterItemProcessor[T any] struct {
	accept func(T) bool
}

// NewFilterItemProcessor creates a processor keeping the items accept returns true for.
func NewFilterItemProcessor[T any](accept func(T) bool) *FilterItemProcessor[T] {
	return &FilterItemProcessor[T]{accept: accept}
}

// NewExcludingItemProcessor filters the items whose fmt.Sprint form is one of values.
func NewExcludingItemProcessor[T any](values ...string) *FilterItemProcessor[T] {
	excluded := make(map[string]struct{}, len(values))
	for _, v := range values {
		excluded[v] = struct{}{}
	}
	return NewFilterItemProcessor(func(item T) bool {
		_, ok := excluded[fmt.Sprint(item)]
		return !ok
	})
}

// Process returns port.ErrItemFiltered for rejected items.
func (p *FilterItemProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	if !p.accept(item) {
		logger.Debugf("FilterItemProcessor: item %v filtered.", item)
		var zero T
		return zero, port.ErrItemFiltered
	}
	return item, nil
}

// FailingItemProcessor fails on selected items with a fixed message.
// When once is set each selected item fails only the first time it is processed,
// which is how a transient failure looks to a retry rule.
type FailingItemProcessor[T any] struct {
	failOn  map[string]struct{}
	message string
	once    bool

	mu     sync.Mutex
	failed map[string]bool
}

// NewFailingItemProcessor creates a processor failing on the items whose fmt.Sprint form is one of failOn.
func NewFailingItemProcessor[T any](message string, once bool, failOn ...string) *FailingItemProcessor[T] {
	if strings.TrimSpace(message) == "" {
		message = "item processing failed"
	}
	set := make(map[string]struct{}, len(failOn))
	for _, v := range failOn {
		set[v] = struct{}{}
	}
	return &FailingItemProcessor[T]{failOn: set, message: message, once: once, failed: make(map[string]bool)}
}

func (p *FailingItemProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	key := fmt.Sprint(item)
	if _, ok := p.failOn[key]; ok {
		p.mu.Lock()
		already := p.failed[key]
		p.failed[key] = true
		p.mu.Unlock()
		if !p.once || !already {
			var zero T
			return zero, fmt.Errorf("%s: %s", p.message, key)
		}
	}
	return item, nil
}

var (
	_ port.ItemProcessor[any, any] = (*PassThroughItemProcessor[any])(nil)
	_ port.ItemProcessor[any, any] = (*FilterItemProcessor[any])(nil)
	_ port.ItemProcessor[any, any] = (*FailingItemProcessor[any])(nil)
)
