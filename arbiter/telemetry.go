package arbiter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Telemetry bundles the tracer and meter providers and the Prometheus scrape
// handler mounted at GET /metrics.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	MetricsHandler http.Handler
}

// SetupTelemetry wires a Prometheus metrics reader and, in dev mode, a stdout
// span exporter (no collector required), and installs the tracer and meter
// providers as the process-global providers. Outside dev mode the tracer
// provider has no exporter.
func SetupTelemetry(serviceName string, devMode bool) (*Telemetry, error) {
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(serviceName))

	var tp *sdktrace.TracerProvider
	if devMode {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	} else {
		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus metrics exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(promExporter), metric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Telemetry{
		TracerProvider: tp,
		MeterProvider:  mp,
		MetricsHandler: promhttp.Handler(),
	}, nil
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.TracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return t.MeterProvider.Shutdown(ctx)
}
