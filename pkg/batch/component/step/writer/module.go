package writer

import (
	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// UpsertWriterProperties configures the "gormUpsertWriter" component.
type UpsertWriterProperties struct {
	Name            string   `yaml:"name"`
	DatabaseRef     string   `yaml:"database_ref"`
	Table           string   `yaml:"table"`
	ConflictColumns []string `yaml:"conflict_columns"`
	UpdateColumns   []string `yaml:"update_columns"`
	BulkSize        int      `yaml:"bulk_size"`
}

// NewGormUpsertWriterBuilder creates the builder of the "gormUpsertWriter" component.
func NewGormUpsertWriterBuilder() factory.ComponentBuilder {
	return func(cfg *config.Config, resolver database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props UpsertWriterProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		if props.Table == "" {
			return nil, exception.NewBatchErrorf(module, "gormUpsertWriter: table is required")
		}
		if len(props.ConflictColumns) == 0 {
			props.ConflictColumns = []string{"id"}
		}
		if props.Name == "" {
			props.Name = props.Table
		}
		if props.DatabaseRef == "" && cfg != nil {
			props.DatabaseRef = cfg.Chunkflow.Checkpoint.DatabaseRef
		}
		return NewGormUpsertWriter[any](resolver, props.DatabaseRef, props.Name, UpsertOptions{
			Table:           props.Table,
			ConflictColumns: props.ConflictColumns,
			UpdateColumns:   props.UpdateColumns,
			BulkSize:        props.BulkSize,
		}), nil
	}
}

// JSONLinesWriterProperties configures the "jsonLinesWriter" component.
type JSONLinesWriterProperties struct {
	// Name keys the writer position; it defaults to Prefix.
	Name       string `yaml:"name"`
	StorageRef string `yaml:"storage_ref"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
}

// NewJSONLinesWriterBuilder creates the builder of the "jsonLinesWriter" component.
func NewJSONLinesWriterBuilder(resolver storage.ConnectionResolver) factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props JSONLinesWriterProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		if props.StorageRef == "" {
			return nil, exception.NewBatchErrorf(module, "jsonLinesWriter: storage_ref is required")
		}
		if props.Name == "" {
			props.Name = props.Prefix
		}
		return NewJSONLinesWriter[any](resolver, props.StorageRef, props.Name, props.Bucket, props.Prefix)
	}
}

// RegisterWriterBuilders registers the database writers with f.
func RegisterWriterBuilders(f *factory.StepFactory) {
	f.RegisterComponentBuilder("gormUpsertWriter", NewGormUpsertWriterBuilder())
}

// RegisterStorageWriterBuilders registers the file writers with f.
func RegisterStorageWriterBuilders(f *factory.StepFactory, resolver storage.ConnectionResolver) {
	f.RegisterComponentBuilder("jsonLinesWriter", NewJSONLinesWriterBuilder(resolver))
}

// BuilderParams are the dependencies of the writer registration.
type BuilderParams struct {
	fx.In
	Factory         *factory.StepFactory
	StorageResolver storage.ConnectionResolver `optional:"true"`
}

func registerBuilders(p BuilderParams) {
	RegisterWriterBuilders(p.Factory)
	if p.StorageResolver != nil {
		RegisterStorageWriterBuilders(p.Factory, p.StorageResolver)
	}
}

// Module registers the writers. The file writers need a storage.ConnectionResolver.
var Module = fx.Options(
	fx.Invoke(registerBuilders),
)
