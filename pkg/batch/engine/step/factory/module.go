package factory

import (
	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// StepFactoryParams defines the dependencies of the StepFactory.
// The database collaborators are optional so that in-memory applications need no database module.
type StepFactoryParams struct {
	fx.In
	Cfg            *config.Config
	StepRepository repository.StepRepository
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
	DBResolver     database.DBConnectionResolver   `optional:"true"`
	TxFactory      TransactionManagerFactory       `optional:"true"`
	UserData       port.PersistentUserDataRecorder `optional:"true"`
}

// NewStepFactoryFromParams creates the StepFactory from Fx dependencies.
func NewStepFactoryFromParams(p StepFactoryParams) *StepFactory {
	f := NewStepFactory(p.Cfg, p.StepRepository, p.MetricRecorder, p.Tracer)
	if p.DBResolver != nil {
		f.WithDBResolver(p.DBResolver)
	}
	if p.TxFactory != nil {
		f.WithTransactionManagerFactory(p.TxFactory)
	}
	if p.UserData != nil {
		f.WithPersistentUserDataRecorder(p.UserData)
	}
	return f
}

// Module provides the StepFactory. Component and listener packages register their builders with it.
var Module = fx.Options(
	fx.Provide(NewStepFactoryFromParams),
)
