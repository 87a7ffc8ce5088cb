package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Telemetry owns the meter and tracer providers installed by [Setup] and the
// Prometheus registry their metrics are scraped from.
type Telemetry struct {
	registry *prometheus.Registry
	closers  []func(context.Context) error
}

type setupConfig struct {
	version     string
	exporter    sdktrace.SpanExporter
	sampleRatio float64
	runtime     bool
}

// SetupOption tunes [Setup].
type SetupOption func(*setupConfig)

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) SetupOption {
	return func(c *setupConfig) { c.version = v }
}

// WithSpanExporter batches finished spans to exp. Without one, spans are
// still created (so trace IDs reach logs and X-Correlation-ID) but dropped.
func WithSpanExporter(exp sdktrace.SpanExporter) SetupOption {
	return func(c *setupConfig) { c.exporter = exp }
}

// WithTraceSampleRatio samples root spans at ratio r in [0,1]. Default: 1.
func WithTraceSampleRatio(r float64) SetupOption {
	return func(c *setupConfig) { c.sampleRatio = r }
}

// WithoutRuntimeCollectors skips the Go runtime and process collectors.
func WithoutRuntimeCollectors() SetupOption {
	return func(c *setupConfig) { c.runtime = false }
}

// Setup installs global OTel providers for serviceName. Metrics go to a
// private Prometheus registry exposed by [Telemetry.MetricsHandler]; the W3C
// trace-context propagator is registered globally.
//
// Setup must run before the first [DefaultMetrics] call, otherwise the
// default instruments bind to the no-op provider.
func Setup(ctx context.Context, serviceName string, opts ...SetupOption) (*Telemetry, error) {
	sc := setupConfig{sampleRatio: 1, runtime: true}
	for _, o := range opts {
		o(&sc)
	}
	if serviceName == "" {
		serviceName = "moonlit"
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(sc.version),
	))
	if err != nil {
		return nil, err
	}

	t := &Telemetry{registry: prometheus.NewRegistry()}
	if sc.runtime {
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(t.registry))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	t.closers = append(t.closers, mp.Shutdown)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sc.sampleRatio))),
	}
	if sc.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(sc.exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.closers = append(t.closers, tp.Shutdown)

	return t, nil
}

// MetricsHandler serves the registry in the Prometheus text format.
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Registry exposes the underlying registry for extra collectors.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

// Shutdown flushes pending spans and stops both providers. Safe to call more
// than once; later calls are no-ops.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	closers := t.closers
	t.closers = nil

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
