package metrics

import (
	"go.uber.org/fx"
)

// Module replaces the provided MetricRecorder with the asynchronous wrapper when it is enabled.
var Module = fx.Options(
	fx.Decorate(NewAsyncMetricRecorderWrapper),
)
