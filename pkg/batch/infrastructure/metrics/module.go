package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewMetricRecorder returns the Prometheus recorder when chunkflow.metrics.enabled is set,
// serving it on chunkflow.metrics.address if configured, and the no-op recorder otherwise.
func NewMetricRecorder(lc fx.Lifecycle, cfg *config.MetricsConfig) metrics.MetricRecorder {
	if !cfg.Enabled {
		return metrics.NewNoOpMetricRecorder()
	}
	recorder := NewPrometheusRecorder(cfg.Namespace)
	if cfg.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(recorder.GetRegistry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Errorf("Metrics: server on %s stopped: %v", cfg.Address, err)
					}
				}()
				logger.Infof("Metrics: serving /metrics on %s", cfg.Address)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}
	return recorder
}

// NewTracer returns an OpenTelemetry tracer on the global provider when chunkflow.metrics.tracing is set.
func NewTracer(cfg *config.MetricsConfig) metrics.Tracer {
	if !cfg.Tracing {
		return metrics.NewNoOpTracer()
	}
	return NewOpenTelemetryTracer(otel.GetTracerProvider(), cfg.TracerName)
}

// Module provides the MetricRecorder and Tracer selected by chunkflow.metrics.
var Module = fx.Options(
	fx.Provide(NewMetricRecorder),
	fx.Provide(NewTracer),
)
