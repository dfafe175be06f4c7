package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/veldtlabs/veldt/internal/llm"

// Metrics holds gateway request metrics.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the gateway.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"veldt.llm.request_duration_seconds",
		metric.WithDescription("Duration of provider requests in seconds, labeled by model and operation (complete, embed)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"veldt.llm.errors_total",
		metric.WithDescription("Total provider request errors by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

func (m *Metrics) record(ctx context.Context, model, operation string, start time.Time, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("operation", operation),
	}
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// ObserveComplete instruments a completion call.
func (m *Metrics) ObserveComplete(ctx context.Context, model string, fn func() (string, Usage, error)) (string, Usage, error) {
	start := time.Now()
	text, usage, err := fn()
	m.record(ctx, model, "complete", start, err)
	return text, usage, err
}

// ObserveEmbed instruments an embedding call.
func (m *Metrics) ObserveEmbed(ctx context.Context, model string, fn func() ([]float32, error)) ([]float32, error) {
	start := time.Now()
	vec, err := fn()
	m.record(ctx, model, "embed", start, err)
	return vec, err
}
