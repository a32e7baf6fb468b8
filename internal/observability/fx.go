package observability

import (
	"github.com/smallbiznis/contextswitch/internal/observability/logger"
	"github.com/smallbiznis/contextswitch/internal/observability/metrics"
	"github.com/smallbiznis/contextswitch/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.NewMeteringMetrics,
	),
	// the tracer provider must exist before the first request span
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(metrics.SchedulerWithConfig),
)
