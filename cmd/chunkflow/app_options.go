package main

import (
	"context"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	"github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository"
	batchlistener "github.com/tigerroll/chunkflow/pkg/batch/listener"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// GetApplicationOptions builds the Fx options of the runner. The configuration is loaded
// once up front to select the checkpoint store module.
func GetApplicationOptions(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, steps stepSelection, outcome *runOutcome) ([]fx.Option, error) {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	storeModule, err := repository.ModuleFor(cfg.Chunkflow.Checkpoint.Store)
	if err != nil {
		return nil, err
	}

	var options []fx.Option
	options = append(options, fx.Supply(
		embeddedConfig,
		fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
		steps,
		outcome,
	))
	options = append(options, logger.Module)
	options = append(options, config.Module)
	options = append(options, gormadapter.Module)
	options = append(options, sqlite.Module, postgres.Module, mysql.Module)
	options = append(options, fx.Provide(func(tf gormadapter.TransactionManagerFactory) factory.TransactionManagerFactory {
		return tf
	}))
	options = append(options, storage.Module, local.Module)
	options = append(options, storeModule)
	options = append(options, metrics.Module)
	options = append(options, factory.Module)
	options = append(options, item.Module)
	options = append(options, reader.Module)
	options = append(options, writer.Module)
	options = append(options, partitioner.Module)
	options = append(options, batchlistener.Module)
	options = append(options, partition.Module)
	options = append(options, fx.Invoke(fx.Annotate(startSteps, fx.ParamTags("", "", "", "", "", "", `name:"appCtx"`))))

	return options, nil
}
