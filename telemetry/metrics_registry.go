package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/lalo-ai/lalocore/core"
)

// otelMetricsRegistry implements core.MetricsRegistry on top of an
// OpenTelemetry Meter, registered globally via core.SetMetricsRegistry so
// core.ProductionLogger and every component's RecordMetric calls flow into
// the same OTLP pipeline.
type otelMetricsRegistry struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

func newOTelMetricsRegistry(meter metric.Meter) (*otelMetricsRegistry, error) {
	return &otelMetricsRegistry{
		meter:      meter,
		counters:   map[string]metric.Float64Counter{},
		gauges:     map[string]metric.Float64Gauge{},
		histograms: map[string]metric.Float64Histogram{},
	}, nil
}

var _ core.MetricsRegistry = (*otelMetricsRegistry)(nil)

func (r *otelMetricsRegistry) counter(name string) metric.Float64Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c, err := r.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	r.counters[name] = c
	return c
}

func (r *otelMetricsRegistry) gauge(name string) metric.Float64Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g, err := r.meter.Float64Gauge(name)
	if err != nil {
		return nil
	}
	r.gauges[name] = g
	return g
}

func (r *otelMetricsRegistry) histogram(name string) metric.Float64Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	r.histograms[name] = h
	return h
}

func toAttrs(labels ...string) []attrKV {
	out := make([]attrKV, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		out = append(out, attrKV{labels[i], labels[i+1]})
	}
	return out
}

type attrKV struct{ K, V string }

func (r *otelMetricsRegistry) Counter(name string, labels ...string) {
	r.EmitWithContext(context.Background(), name, 1.0, labels...)
}

func (r *otelMetricsRegistry) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	c := r.counter(name)
	if c == nil {
		return
	}
	c.Add(ctx, value, metric.WithAttributes(attrsFromKV(toAttrs(labels...))...))
}

func (r *otelMetricsRegistry) Gauge(name string, value float64, labels ...string) {
	g := r.gauge(name)
	if g == nil {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(attrsFromKV(toAttrs(labels...))...))
}

func (r *otelMetricsRegistry) Histogram(name string, value float64, labels ...string) {
	h := r.histogram(name)
	if h == nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(attrsFromKV(toAttrs(labels...))...))
}

// GetBaggage returns request-correlation fields stashed by WithRequestID.
func (r *otelMetricsRegistry) GetBaggage(ctx context.Context) map[string]string {
	span := spanTraceID(ctx)
	if span == "" {
		return nil
	}
	baggageMu.RLock()
	defer baggageMu.RUnlock()
	return baggage[span]
}
