package item

import (
	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListReaderProperties configures the "listReader" component.
// Items takes precedence; otherwise Count generates the integers 0..Count-1.
type ListReaderProperties struct {
	Items []interface{} `yaml:"items"`
	Count int           `yaml:"count"`
}

// FilterProperties configures the "filterItemProcessor" component.
type FilterProperties struct {
	Exclude []string `yaml:"exclude"`
}

// FailingProperties configures the "failingItemProcessor" component.
type FailingProperties struct {
	FailOn  []string `yaml:"fail_on"`
	Message string   `yaml:"message"`
	Once    bool     `yaml:"once"`
}

// ExecutionContextWriterProperties configures the "executionContextItemWriter" component.
type ExecutionContextWriterProperties struct {
	Key string `yaml:"key"`
}

// NewListReaderBuilder creates the builder of the "listReader" component.
func NewListReaderBuilder() factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props ListReaderProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		items := props.Items
		if items == nil {
			items = make([]interface{}, props.Count)
			for i := range items {
				items[i] = i
			}
		}
		return NewListReader(items), nil
	}
}

// NewNoOpItemReaderBuilder creates the builder of the "noOpItemReader" component.
func NewNoOpItemReaderBuilder() factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, _ map[string]interface{}) (interface{}, error) {
		return NewNoOpItemReader[any](), nil
	}
}

// NewPassThroughItemProcessorBuilder creates the builder of the "passThroughItemProcessor" component.
func NewPassThroughItemProcessorBuilder() factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, _ map[string]interface{}) (interface{}, error) {
		return NewPassThroughItemProcessor[any](), nil
	}
}

// NewFilterItemProcessorBuilder creates the builder of the "filterItemProcessor" component.
func NewFilterItemProcessorBuilder() factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props FilterProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		return NewExcludingItemProcessor[any](props.Exclude...), nil
	}
}

// NewFailingItemProcessorBuilder creates the builder of the "failingItemProcessor" component.
func NewFailingItemProcessorBuilder() factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props FailingProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		return NewFailingItemProcessor[any](props.Message, props.Once, props.FailOn...), nil
	}
}

// NewListWriterBuilder creates the builder of the "listWriter" component.
func NewListWriterBuilder() factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, _ map[string]interface{}) (interface{}, error) {
		return NewListWriter[any](), nil
	}
}

// NewNoOpItemWriterBuilder creates the builder of the "noOpItemWriter" component.
func NewNoOpItemWriterBuilder() factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, _ map[string]interface{}) (interface{}, error) {
		return NewNoOpItemWriter[any](), nil
	}
}

// NewExecutionContextItemWriterBuilder creates the builder of the "executionContextItemWriter" component.
func NewExecutionContextItemWriterBuilder() factory.ComponentBuilder {
	return func(_ *config.Config, _ database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props ExecutionContextWriterProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		return NewExecutionContextItemWriter[any](props.Key), nil
	}
}

// RegisterItemBuilders registers the in-memory components with f.
func RegisterItemBuilders(f *factory.StepFactory) {
	f.RegisterComponentBuilder("listReader", NewListReaderBuilder())
	f.RegisterComponentBuilder("noOpItemReader", NewNoOpItemReaderBuilder())
	f.RegisterComponentBuilder("passThroughItemProcessor", NewPassThroughItemProcessorBuilder())
	f.RegisterComponentBuilder("filterItemProcessor", NewFilterItemProcessorBuilder())
	f.RegisterComponentBuilder("failingItemProcessor", NewFailingItemProcessorBuilder())
	f.RegisterComponentBuilder("listWriter", NewListWriterBuilder())
	f.RegisterComponentBuilder("noOpItemWriter", NewNoOpItemWriterBuilder())
	f.RegisterComponentBuilder("executionContextItemWriter", NewExecutionContextItemWriterBuilder())
	logger.Debugf("In-memory item components were registered with the StepFactory.")
}

// Module registers the in-memory item components.
var Module = fx.Options(
	fx.Invoke(RegisterItemBuilders),
)
