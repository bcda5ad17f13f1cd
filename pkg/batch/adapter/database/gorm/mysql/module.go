package mysql

import (
	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
)

// Module registers the MySQL DBProvider in the db_providers group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
		),
	),
)
