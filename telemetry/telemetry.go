// Package telemetry wires OpenTelemetry tracing and metrics into the engine
// and registers itself with core's global MetricsRegistry slot so
// core.ProductionLogger instances created before Init still emit metrics
// once it runs (grounded on the teacher's telemetry package / registry
// pattern; otel.go and registry.go are the structural template).
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/lalo-ai/lalocore/core"
)

// Config controls telemetry bootstrap.
type Config struct {
	ServiceName    string
	OTLPEndpoint   string // empty => stdout exporter, useful for local/demo runs
	MetricsEnabled bool
}

var (
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
)

// Init bootstraps the global tracer/meter providers and registers a
// MetricsRegistry implementation with core, so core.ProductionLogger
// instances created earlier light up metrics retroactively.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		spanExporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: building otlp trace exporter: %w", err)
		}
	} else {
		spanExporter, err = stdouttrace.New(stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("telemetry: building stdout trace exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	tracerProvider = tp
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer("github.com/lalo-ai/lalocore")

	var mp *sdkmetric.MeterProvider
	if cfg.MetricsEnabled && cfg.OTLPEndpoint != "" {
		metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: building otlp metric exporter: %w", err)
		}
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		)
	} else {
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	}
	meterProvider = mp
	otel.SetMeterProvider(mp)
	meter = mp.Meter("github.com/lalo-ai/lalocore")

	registry, err := newOTelMetricsRegistry(meter)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building metrics registry: %w", err)
	}
	core.SetMetricsRegistry(registry)

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return shutdown, nil
}

// Telemetry adapts the global tracer into core.Telemetry, the interface
// every component (inference, tools, router, planner, orchestrator,
// workflow, handler) accepts.
type Telemetry struct{}

var _ core.Telemetry = (*Telemetry)(nil)

func (Telemetry) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	t := tracer
	if t == nil {
		t = otel.Tracer("github.com/lalo-ai/lalocore")
	}
	ctx, span := t.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (Telemetry) RecordMetric(name string, value float64, labels map[string]string) {
	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		kvs := make([]string, 0, len(labels)*2)
		for k, v := range labels {
			kvs = append(kvs, k, v)
		}
		registry.Gauge(name, value, kvs...)
	}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

// baggage is a tiny in-process trace-id-to-fields map used by
// MetricsRegistry.GetBaggage; production deployments would derive this from
// the span context instead, but the engine only needs request-id
// correlation for log lines, matching the teacher's lightweight approach.
var (
	baggageMu sync.RWMutex
	baggage   = map[string]map[string]string{}
)

// WithRequestID associates a request id with the context's trace id for log
// correlation (spec §8 scenario 3: fallback_attempts correlated to a
// request).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	span := trace.SpanContextFromContext(ctx)
	if !span.IsValid() {
		return ctx
	}
	baggageMu.Lock()
	baggage[span.TraceID().String()] = map[string]string{"request_id": requestID}
	baggageMu.Unlock()
	return ctx
}
