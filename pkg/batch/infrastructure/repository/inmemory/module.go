package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// Module is an Fx module that provides InMemoryStepRepository as a repository.StepRepository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryStepRepository,
			fx.As(new(repository.StepRepository)),
		),
	),
)
