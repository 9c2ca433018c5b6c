// Package telemetry wires OpenTelemetry tracer and meter providers. When
// disabled every helper is backed by no-op providers.
package telemetry

import (
	"context"

	"github.com/raaihank/doc-sentinel/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/raaihank/doc-sentinel"

// Provider exposes the tracer, the meter and the engine's instruments
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	entitiesDetected metric.Int64Counter
	exports          metric.Int64Counter
	residualLeaks    metric.Int64Counter
	jobs             metric.Int64Counter
	jobDuration      metric.Float64Histogram

	shutdownFuncs []func(context.Context) error
}

// NewProvider configures OTLP/HTTP exporters, or no-op providers when disabled
func NewProvider(ctx context.Context, cfg config.TelemetryConfig, version string) (*Provider, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:       true,
		tracer:        tp.Tracer(instrumentationName),
		meter:         mp.Meter(instrumentationName),
		shutdownFuncs: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}
	p.initInstruments()
	return p, nil
}

// NewNoop returns a disabled provider
func NewNoop() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  metricnoop.NewMeterProvider().Meter(""),
	}
	p.initInstruments()
	return p
}

func (p *Provider) initInstruments() {
	// Instrument errors are ignored; telemetry is best-effort.
	p.entitiesDetected, _ = p.meter.Int64Counter("docsentinel_entities_detected_total")
	p.exports, _ = p.meter.Int64Counter("docsentinel_exports_total")
	p.residualLeaks, _ = p.meter.Int64Counter("docsentinel_residual_leaks_total")
	p.jobs, _ = p.meter.Int64Counter("docsentinel_jobs_total")
	p.jobDuration, _ = p.meter.Float64Histogram("docsentinel_job_duration_ms")
}

// Tracer returns the tracer
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Shutdown flushes providers
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	for _, fn := range p.shutdownFuncs {
		_ = fn(ctx)
	}
}

// RecordDetections counts entities produced by one detector source
func (p *Provider) RecordDetections(ctx context.Context, source string, n int) {
	if p == nil || n == 0 {
		return
	}
	p.entitiesDetected.Add(ctx, int64(n), metric.WithAttributes(attribute.String("docsentinel.source", source)))
}

// RecordExport counts an export attempt by outcome state
func (p *Provider) RecordExport(ctx context.Context, outcome string, leaks int) {
	if p == nil {
		return
	}
	p.exports.Add(ctx, 1, metric.WithAttributes(attribute.String("docsentinel.outcome", outcome)))
	if leaks > 0 {
		p.residualLeaks.Add(ctx, int64(leaks))
	}
}

// RecordJob counts a finished job
func (p *Provider) RecordJob(ctx context.Context, kind string, success bool, durMs float64) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("docsentinel.job_kind", kind),
		attribute.Bool("docsentinel.success", success),
	)
	p.jobs.Add(ctx, 1, attrs)
	p.jobDuration.Record(ctx, durMs, attrs)
}
