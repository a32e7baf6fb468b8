package observability

import (
	"strings"

	"github.com/smallbiznis/contextswitch/internal/config"
	"github.com/smallbiznis/contextswitch/internal/observability/logger"
	"github.com/smallbiznis/contextswitch/internal/observability/metrics"
	"github.com/smallbiznis/contextswitch/internal/observability/tracing"
)

// Config is the telemetry view of the application config. Logger, tracer
// and meter settings are all derived from it.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	Telemetry config.TelemetryConfig
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "contextswitch"
	}
	return Config{
		ServiceName: name,
		Environment: strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:     strings.TrimSpace(cfg.AppVersion),
		Telemetry:   cfg.Telemetry,
	}
}

// Debug turns on verbose request logging and stack traces outside production.
func (c Config) Debug() bool {
	if c.Telemetry.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.Telemetry.LogLevel,
		Format:              c.Telemetry.LogFormat,
		Debug:               c.Debug(),
		SamplingInitial:     c.Telemetry.LogSampleInitial,
		SamplingThereafter:  c.Telemetry.LogSampleAfter,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.Telemetry.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.Telemetry.OtelEndpoint,
		ExporterProtocol: c.Telemetry.OtelProtocol,
		SamplingRatio:    c.Telemetry.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.Telemetry.OtelEnabled,
		ExporterEndpoint: c.Telemetry.OtelEndpoint,
		ExporterProtocol: c.Telemetry.OtelProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
