// Package reader provides database and file item readers.
package reader

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const module = "reader"

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 100

// Row is one database row read into a map. Its item id is the "id" column when present.
type Row map[string]interface{}

// ItemID implements port.Identifiable.
func (r Row) ItemID() string {
	if v, ok := r["id"]; ok {
		return fmt.Sprint(v)
	}
	return fmt.Sprint(map[string]interface{}(r))
}

// Values returns the row as a plain map, as the GORM writer expects it.
func (r Row) Values() map[string]interface{} {
	return r
}

// PagingOptions selects the rows a GormPagingReader reads.
type PagingOptions struct {
	// Table is required when T does not map to a table by itself.
	Table string
	// OrderBy must give the rows a stable total order, e.g. "id".
	OrderBy string
	// Where holds equality conditions combined with AND.
	Where    map[string]interface{}
	// Range restricts the read to an inclusive key range, as assigned to a partition worker.
	Range    *KeyRange
	PageSize int
}

// KeyRange is an inclusive range of an integer column.
type KeyRange struct {
	Column string
	Min    int64
	Max    int64
}

// GormPagingReader reads a table page by page with LIMIT and OFFSET.
// The number of rows consumed is its restart position.
type GormPagingReader[T any] struct {
	resolver database.DBConnectionResolver
	dbName   string
	name     string
	opts     PagingOptions

	db      *gorm.DB
	page    []T
	pageIdx int
	offset  int
	last    bool
}

// NewGormPagingReader creates a reader on the named connection. name keys its execution context.
func NewGormPagingReader[T any](resolver database.DBConnectionResolver, dbName, name string, opts PagingOptions) (*GormPagingReader[T], error) {
	if resolver == nil {
		return nil, exception.NewBatchErrorf(module, "GormPagingReader '%s': no database resolver", name)
	}
	if opts.OrderBy == "" {
		return nil, exception.NewBatchErrorf(module, "GormPagingReader '%s': order_by is required for a restartable read", name)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &GormPagingReader[T]{resolver: resolver, dbName: dbName, name: name, opts: opts}, nil
}

func (r *GormPagingReader[T]) offsetKey() string {
	return r.name + ".offset"
}

// Open resolves the connection and resumes at the offset stored in ec.
func (r *GormPagingReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := r.resolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("GormPagingReader '%s': failed to resolve connection '%s'", r.name, r.dbName), err, false, false)
	}
	db, ok := gormadapter.DBFrom(conn)
	if !ok {
		return exception.NewBatchErrorf(module, "GormPagingReader '%s': connection '%s' is not a GORM connection", r.name, r.dbName)
	}
	r.db = db
	r.page, r.pageIdx, r.last = nil, 0, false
	r.offset = 0
	if off, ok := ec.GetInt(r.offsetKey()); ok {
		r.offset = off
	}
	logger.Infof("GormPagingReader '%s': opened at offset %d.", r.name, r.offset)
	return nil
}

// Read returns the next row, fetching a page when the current one is used up.
func (r *GormPagingReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.db == nil {
		return zero, exception.NewBatchError(module, fmt.Sprintf("GormPagingReader '%s': reader not opened", r.name), errors.New("reader not initialized"), false, false)
	}
	if r.pageIdx >= len(r.page) {
		if r.last {
			return zero, port.ErrNoMoreItems
		}
		if err := r.fetch(ctx); err != nil {
			return zero, err
		}
		if len(r.page) == 0 {
			return zero, port.ErrNoMoreItems
		}
	}
	item := r.page[r.pageIdx]
	r.pageIdx++
	r.offset++
	return item, nil
}

func (r *GormPagingReader[T]) fetch(ctx context.Context) error {
	q := r.db.WithContext(ctx)
	if r.opts.Table != "" {
		q = q.Table(r.opts.Table)
	} else {
		q = q.Model(new(T))
	}
	if len(r.opts.Where) > 0 {
		q = q.Where(r.opts.Where)
	}
	if kr := r.opts.Range; kr != nil {
		col := clause.Column{Name: kr.Column}
		q = q.Where(clause.Gte{Column: col, Value: kr.Min}).Where(clause.Lte{Column: col, Value: kr.Max})
	}
	var page []T
	err := q.Order(r.opts.OrderBy).Offset(r.offset).Limit(r.opts.PageSize).Find(&page).Error
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("GormPagingReader '%s': failed to fetch page at offset %d", r.name, r.offset), err, false, true)
	}
	logger.Debugf("GormPagingReader '%s': fetched %d rows at offset %d.", r.name, len(page), r.offset)
	r.page, r.pageIdx = page, 0
	r.last = len(page) < r.opts.PageSize
	return nil
}

// Close drops the current page. The connection stays with its provider.
func (r *GormPagingReader[T]) Close(ctx context.Context) error {
	r.page, r.pageIdx, r.db = nil, 0, nil
	return nil
}

// GetExecutionContext returns the number of rows consumed.
func (r *GormPagingReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.offsetKey(), r.offset)
	return ec, nil
}

var _ port.ItemReader[map[string]interface{}] = (*GormPagingReader[map[string]interface{}])(nil)
