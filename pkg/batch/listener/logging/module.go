package logging

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// RegisterLoggingListenerBuilders registers the logging listeners with f.
// "logging" registers all four; the others register one listener each.
func RegisterLoggingListenerBuilders(f *factory.StepFactory) {
	f.RegisterListenerBuilder("logging", func(_ *config.Config, stepName string) (interface{}, error) {
		return NewLoggingListener(stepName), nil
	})
	f.RegisterListenerBuilder("loggingStepListener", func(_ *config.Config, _ string) (interface{}, error) {
		return NewLoggingStepListener(), nil
	})
	f.RegisterListenerBuilder("loggingChunkListener", func(_ *config.Config, _ string) (interface{}, error) {
		return NewLoggingChunkListener(), nil
	})
	f.RegisterListenerBuilder("loggingSkipListener", func(_ *config.Config, stepName string) (interface{}, error) {
		return NewLoggingSkipListener(stepName), nil
	})
	f.RegisterListenerBuilder("loggingRetryListener", func(_ *config.Config, stepName string) (interface{}, error) {
		return NewLoggingRetryListener(stepName), nil
	})
	logger.Debugf("Logging listeners were registered with the StepFactory.")
}

// Module registers the logging listeners.
var Module = fx.Options(
	fx.Invoke(RegisterLoggingListenerBuilders),
)
