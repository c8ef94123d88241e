package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics installs a meter provider backed by the Prometheus exporter.
// It returns the /metrics handler and the provider's shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return promhttp.Handler(), provider.Shutdown, nil
}

// RunMetrics records run outcomes and solver fallbacks.
type RunMetrics struct {
	runs      metric.Int64Counter
	duration  metric.Float64Histogram
	fallbacks metric.Int64Counter
}

// NewRunMetrics registers the engine's instruments on meter. A nil meter
// uses the global provider.
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	if meter == nil {
		meter = otel.Meter(tracerName)
	}
	runs, err := meter.Int64Counter("optimization_runs_total",
		metric.WithDescription("Optimization runs by type and final status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("optimization_run_duration_seconds",
		metric.WithDescription("Wall-clock duration of optimization runs"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("dispatch_solver_fallbacks_total",
		metric.WithDescription("Dispatch runs that fell back to the greedy solver"))
	if err != nil {
		return nil, err
	}
	return &RunMetrics{runs: runs, duration: duration, fallbacks: fallbacks}, nil
}

func (m *RunMetrics) RunFinished(ctx context.Context, runType, status, errorKind string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("type", runType),
		attribute.String("status", status),
		attribute.String("error_kind", errorKind),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("type", runType)))
}

func (m *RunMetrics) SolverFallback(ctx context.Context, solver string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("solver", solver)))
}
