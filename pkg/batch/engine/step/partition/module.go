package partition

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// NewExecutorFromConfig creates the Executor used to run the configured steps,
// bounded by chunkflow.batch.max_concurrency.
func NewExecutorFromConfig(cfg *config.Config) *Executor {
	return NewExecutor(cfg.Chunkflow.Batch.MaxConcurrency)
}

// Module provides the Executor.
var Module = fx.Options(
	fx.Provide(NewExecutorFromConfig),
)
