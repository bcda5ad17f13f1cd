package storage

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the ConnectionResolver. Providers come from sub-packages such as local.
var Module = fx.Options(
	fx.Provide(NewConnectionResolver),
	fx.Provide(func(r *DefaultConnectionResolver) ConnectionResolver { return r }),
	fx.Invoke(func(lc fx.Lifecycle, r *DefaultConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.CloseAll()
			},
		})
	}),
)
