// Package listener aggregates the listener modules.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/notification"
)

// Module aggregates all listener modules.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
	notification.Module,
)
