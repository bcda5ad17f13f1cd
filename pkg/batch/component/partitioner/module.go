package partitioner

import (
	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RangeProperties configures the "rangePartitioner" component.
type RangeProperties struct {
	Min *int64 `yaml:"min"`
	Max *int64 `yaml:"max"`
}

// RegisterPartitionerBuilders registers "simplePartitioner" and "rangePartitioner" with f.
func RegisterPartitionerBuilders(f *factory.StepFactory) {
	f.RegisterComponentBuilder("simplePartitioner", func(_ *config.Config, _ database.DBConnectionResolver, _ map[string]interface{}) (interface{}, error) {
		return NewSimplePartitioner(), nil
	})
	f.RegisterComponentBuilder("rangePartitioner", func(_ *config.Config, _ database.DBConnectionResolver, properties map[string]interface{}) (interface{}, error) {
		var props RangeProperties
		if err := configbinder.BindProperties(properties, &props); err != nil {
			return nil, err
		}
		if props.Min == nil || props.Max == nil {
			return nil, exception.NewBatchErrorf(module, "rangePartitioner: min and max are required")
		}
		return NewRangePartitioner(*props.Min, *props.Max)
	})
}

// Module registers the partitioners.
var Module = fx.Options(
	fx.Invoke(RegisterPartitionerBuilders),
)
