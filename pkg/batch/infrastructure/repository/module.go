// Package repository selects the StepRepository implementation named by chunkflow.checkpoint.store.
package repository

import (
	"fmt"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/redis"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
)

// ModuleFor returns the Fx module of the configured checkpoint store.
func ModuleFor(store string) (fx.Option, error) {
	switch store {
	case "", config.CheckpointStoreInMemory:
		return inmemory.Module, nil
	case config.CheckpointStoreSQL:
		return sql.Module, nil
	case config.CheckpointStoreRedis:
		return redis.Module, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint store %q", store)
	}
}
