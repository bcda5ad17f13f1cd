package reader

import (
	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// PagingReaderProperties configures the "gormPagingReader" component.
type PagingReaderProperties struct {
	// Name keys the reader position; it defaults to Table.
	Name        string                 `yaml:"name"`
	DatabaseRef string                 `yaml:"database_ref"`
	Table       string                 `yaml:"table"`
	OrderBy     string                 `yaml:"order_by"`
	Where       map[string]interface{} `yaml:"where"`
	PageSize    int                    `yaml:"page_size"`
	// RangeColumn, Min and Max restrict the read to min <= range_column <= max.
	// Partitioners supply min and max per worker.
	RangeColumn string `yaml:"range_column"`
	Min         *int64 `yaml:"min"`
	Max         *int64 `yaml:"max"`
}

// NewGormPagingReaderBuilder creates the builder of the "gormPagingReader" component.
// Rows are read as Row values.
func NewGormPagingReaderBuilder() factory.ComponentBuilder {
	return func(cfg *config.Config, resolver database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props PagingReaderProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		if props.Table == "" {
			return nil, exception.NewBatchErrorf(module, "gormPagingReader: table is required")
		}
		if props.Name == "" {
			props.Name = props.Table
		}
		if props.DatabaseRef == "" && cfg != nil {
			props.DatabaseRef = cfg.Chunkflow.Checkpoint.DatabaseRef
		}
		opts := PagingOptions{
			Table:    props.Table,
			OrderBy:  props.OrderBy,
			Where:    props.Where,
			PageSize: props.PageSize,
		}
		if props.RangeColumn != "" && props.Min != nil && props.Max != nil {
			opts.Range = &KeyRange{Column: props.RangeColumn, Min: *props.Min, Max: *props.Max}
		}
		r, err := NewGormPagingReader[map[string]interface{}](resolver, props.DatabaseRef, props.Name, opts)
		if err != nil {
			return nil, err
		}
		return item.Map(r, func(m map[string]interface{}) any { return Row(m) }), nil
	}
}

// JSONLinesReaderProperties configures the "jsonLinesReader" component.
type JSONLinesReaderProperties struct {
	// Name keys the reader position; it defaults to the object or prefix.
	Name       string `yaml:"name"`
	StorageRef string `yaml:"storage_ref"`
	Bucket     string `yaml:"bucket"`
	Object     string `yaml:"object"`
	Prefix     string `yaml:"prefix"`
}

// NewJSONLinesReaderBuilder creates the builder of the "jsonLinesReader" component.
// Documents are read as Row values.
func NewJSONLinesReaderBuilder(resolver storage.ConnectionResolver) factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props JSONLinesReaderProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		if props.StorageRef == "" {
			return nil, exception.NewBatchErrorf(module, "jsonLinesReader: storage_ref is required")
		}
		if props.Name == "" {
			props.Name = props.Object
			if props.Name == "" {
				props.Name = props.Prefix
			}
		}
		r, err := NewJSONLinesReader[map[string]interface{}](resolver, props.StorageRef, props.Name, ObjectSelector{
			Bucket: props.Bucket,
			Object: props.Object,
			Prefix: props.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return item.Map(r, func(m map[string]interface{}) any { return Row(m) }), nil
	}
}

// RegisterReaderBuilders registers the database readers with f.
func RegisterReaderBuilders(f *factory.StepFactory) {
	f.RegisterComponentBuilder("gormPagingReader", NewGormPagingReaderBuilder())
}

// RegisterStorageReaderBuilders registers the file readers with f.
func RegisterStorageReaderBuilders(f *factory.StepFactory, resolver storage.ConnectionResolver) {
	f.RegisterComponentBuilder("jsonLinesReader", NewJSONLinesReaderBuilder(resolver))
}

// BuilderParams are the dependencies of the reader registration.
type BuilderParams struct {
	fx.In
	Factory         *factory.StepFactory
	StorageResolver storage.ConnectionResolver `optional:"true"`
}

func registerBuilders(p BuilderParams) {
	RegisterReaderBuilders(p.Factory)
	if p.StorageResolver != nil {
		RegisterStorageReaderBuilders(p.Factory, p.StorageResolver)
	}
}

// Module registers the readers. The file readers need a storage.ConnectionResolver.
var Module = fx.Options(
	fx.Invoke(registerBuilders),
)
