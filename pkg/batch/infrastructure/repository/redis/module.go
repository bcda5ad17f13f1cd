package redis

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// NewStepRepository connects to chunkflow.checkpoint.redis_url and closes the client on stop.
func NewStepRepository(lc fx.Lifecycle, cfg *config.Config) (*RedisStepRepository, error) {
	cp := cfg.Chunkflow.Checkpoint
	rdb, err := NewClient(context.Background(), cp.RedisURL)
	if err != nil {
		return nil, err
	}
	repo := NewRedisStepRepository(rdb, cp.KeyPrefix)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return repo.Close()
		},
	})
	return repo, nil
}

// Module provides RedisStepRepository as the repository.StepRepository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewStepRepository,
			fx.As(new(repository.StepRepository)),
		),
	),
)
