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

	"github.com/kbukum/flowkit/logger"
)

// Item outcome statuses recorded by StageMetrics.
const (
	StatusOK       = "ok"
	StatusFaulted  = "faulted"
	StatusUnrouted = "unrouted"
)

// MeterConfig configures the OTLP metric exporter.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Insecure       bool
	// Interval is the export period; 0 keeps the SDK default.
	Interval time.Duration
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
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

// StageMetrics holds the instruments recorded by pipeline stages.
type StageMetrics struct {
	itemTotal         metric.Int64Counter
	itemDuration      metric.Float64Histogram
	inFlight          metric.Int64UpDownCounter
	faultTotal        metric.Int64Counter
	doubleResolutions metric.Int64Counter
	stateChanges      metric.Int64Counter
}

// NewStageMetrics creates stage instruments on the given meter.
func NewStageMetrics(meter metric.Meter) (*StageMetrics, error) {
	itemTotal, err := meter.Int64Counter("dataflow.stage.items",
		metric.WithDescription("Items processed by a stage, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.stage.items counter: %w", err)
	}

	itemDuration, err := meter.Float64Histogram("dataflow.stage.duration",
		metric.WithDescription("Transform duration per item in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.stage.duration histogram: %w", err)
	}

	inFlight, err := meter.Int64UpDownCounter("dataflow.stage.inflight",
		metric.WithDescription("Transforms currently running in a stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.stage.inflight counter: %w", err)
	}

	faultTotal, err := meter.Int64Counter("dataflow.stage.faults",
		metric.WithDescription("Items faulted by a stage, by error code"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.stage.faults counter: %w", err)
	}

	doubleResolutions, err := meter.Int64Counter("dataflow.handle.double_resolution",
		metric.WithDescription("Attempts to resolve an already resolved completion handle"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.handle.double_resolution counter: %w", err)
	}

	stateChanges, err := meter.Int64Counter("dataflow.stage.state_changes",
		metric.WithDescription("Stage lifecycle transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dataflow.stage.state_changes counter: %w", err)
	}

	return &StageMetrics{
		itemTotal:         itemTotal,
		itemDuration:      itemDuration,
		inFlight:          inFlight,
		faultTotal:        faultTotal,
		doubleResolutions: doubleResolutions,
		stateChanges:      stateChanges,
	}, nil
}

// RecordStart increments the in-flight count of a stage.
func (m *StageMetrics) RecordStart(ctx context.Context, stage string) {
	m.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordItem decrements in-flight and records the item outcome.
func (m *StageMetrics) RecordItem(ctx context.Context, stage, status string, duration time.Duration) {
	stageAttr := attribute.String("stage", stage)
	m.inFlight.Add(ctx, -1, metric.WithAttributes(stageAttr))
	m.itemTotal.Add(ctx, 1, metric.WithAttributes(stageAttr, attribute.String("status", status)))
	m.itemDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(stageAttr))
}

// RecordFault records an item fault by error code.
func (m *StageMetrics) RecordFault(ctx context.Context, stage, code string) {
	m.faultTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("code", code),
	))
}

// RecordDoubleResolution records a rejected second resolution of a handle.
func (m *StageMetrics) RecordDoubleResolution(ctx context.Context, stage string) {
	m.doubleResolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordStateChange records a stage lifecycle transition.
func (m *StageMetrics) RecordStateChange(ctx context.Context, stage, state string) {
	m.stateChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("state", state),
	))
}
