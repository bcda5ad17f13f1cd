package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
// This allows other Fx components to depend only on the logging configuration.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Chunkflow.System.Logging
}

// NewCheckpointConfigProvider extracts and provides *CheckpointConfig from *Config.
func NewCheckpointConfigProvider(cfg *Config) *CheckpointConfig {
	return &cfg.Chunkflow.Checkpoint
}

// NewMetricsConfigProvider extracts and provides *MetricsConfig from *Config.
func NewMetricsConfigProvider(cfg *Config) *MetricsConfig {
	return &cfg.Chunkflow.Metrics
}

// Module provides *Config, loaded from the supplied EmbeddedConfig, and its sections.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewCheckpointConfigProvider),
	fx.Provide(NewMetricsConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)
