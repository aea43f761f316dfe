package observability

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/reservio/internal/config"
	"github.com/smallbiznis/reservio/internal/observability/logger"
	"github.com/smallbiznis/reservio/internal/observability/metrics"
	"github.com/smallbiznis/reservio/internal/observability/tracing"
)

// Module wires logging, tracing and metrics for the application.
var Module = fx.Module("observability",
	fx.Provide(
		provideConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		provideHTTPMetrics,
	),
)

func provideConfig(cfg config.Config) Config {
	return LoadConfig(cfg)
}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

func provideHTTPMetrics(cfg Config) *metrics.HTTPMetrics {
	return metrics.NewHTTPMetrics(cfg.ServiceName)
}
