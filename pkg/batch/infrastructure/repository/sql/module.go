package sql

import (
	"context"

	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// StepRepositoryParams defines the dependencies of NewStepRepository.
type StepRepositoryParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	DBResolver database.DBConnectionResolver
	Cfg        *config.Config
}

// NewStepRepository creates the repository on chunkflow.checkpoint.database_ref
// and migrates its tables on start when auto_migrate is set.
func NewStepRepository(p StepRepositoryParams) *SQLStepRepository {
	dbName := p.Cfg.Chunkflow.Checkpoint.DatabaseRef
	if dbName == "" {
		dbName = "metadata"
	}
	repo := NewSQLStepRepository(p.DBResolver, dbName)
	if p.Cfg.Chunkflow.Checkpoint.AutoMigrate {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return repo.Migrate(ctx)
			},
		})
	}
	return repo
}

// Module provides SQLStepRepository as the repository.StepRepository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewStepRepository,
			fx.As(new(repository.StepRepository)),
		),
	),
)
