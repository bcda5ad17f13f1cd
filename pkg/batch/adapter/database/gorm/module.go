package gorm

import (
	"context"

	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
)

// Module provides the connection resolver and the transaction manager factory.
// Concrete providers come from the sqlite, postgres and mysql sub-packages.
var Module = fx.Options(
	fx.Provide(NewGormDBConnectionResolver),
	fx.Provide(func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r }),
	fx.Provide(NewGormTransactionManagerFactory),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.CloseAll()
			},
		})
	}),
)
