package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/aviral-bhardwaj/laktory/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name reported for this orchestrator instance.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (development, staging, production).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// RunMetrics holds OpenTelemetry metric instruments for pipeline runs.
type RunMetrics struct {
	nodeTotal       metric.Int64Counter
	nodeDuration    metric.Float64Histogram
	nodeActive      metric.Int64UpDownCounter
	rowsWritten     metric.Int64Counter
	rowsQuarantined metric.Int64Counter
	errorTotal      metric.Int64Counter
}

// NewRunMetrics creates metric instruments on the given meter.
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	nodeTotal, err := meter.Int64Counter("node.runs.total",
		metric.WithDescription("Total number of node executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating node.runs.total counter: %w", err)
	}

	nodeDuration, err := meter.Float64Histogram("node.run.duration",
		metric.WithDescription("Duration of node executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating node.run.duration histogram: %w", err)
	}

	nodeActive, err := meter.Int64UpDownCounter("node.runs.active",
		metric.WithDescription("Number of currently executing nodes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating node.runs.active gauge: %w", err)
	}

	rowsWritten, err := meter.Int64Counter("rows.written.total",
		metric.WithDescription("Total rows written to sinks"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rows.written.total counter: %w", err)
	}

	rowsQuarantined, err := meter.Int64Counter("rows.quarantined.total",
		metric.WithDescription("Total rows routed to quarantine sinks"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rows.quarantined.total counter: %w", err)
	}

	errorTotal, err := meter.Int64Counter("error.total",
		metric.WithDescription("Total errors by type and component"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating error.total counter: %w", err)
	}

	return &RunMetrics{
		nodeTotal:       nodeTotal,
		nodeDuration:    nodeDuration,
		nodeActive:      nodeActive,
		rowsWritten:     rowsWritten,
		rowsQuarantined: rowsQuarantined,
		errorTotal:      errorTotal,
	}, nil
}

// RecordNodeStart increments the active node count.
func (m *RunMetrics) RecordNodeStart(ctx context.Context) {
	m.nodeActive.Add(ctx, 1)
}

// RecordNodeEnd decrements active nodes and records the completed execution.
func (m *RunMetrics) RecordNodeEnd(ctx context.Context, pipeline, node, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("node", node),
		attribute.String("status", status),
	)
	m.nodeActive.Add(ctx, -1)
	m.nodeTotal.Add(ctx, 1, attrs)
	m.nodeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("node", node),
	))
}

// RecordRowsWritten records rows written to a sink.
func (m *RunMetrics) RecordRowsWritten(ctx context.Context, pipeline, node string, rows int64) {
	m.rowsWritten.Add(ctx, rows, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("node", node),
	))
}

// RecordRowsQuarantined records rows routed to a quarantine sink.
func (m *RunMetrics) RecordRowsQuarantined(ctx context.Context, pipeline, node string, rows int64) {
	m.rowsQuarantined.Add(ctx, rows, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("node", node),
	))
}

// RecordError records an error by type and component.
func (m *RunMetrics) RecordError(ctx context.Context, errType, component string) {
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", errType),
		attribute.String("component", component),
	))
}
