// Package telemetry wires ambient OpenTelemetry tracing and metrics for
// the governance core. Nothing in here gates a decision: spans and
// counters describe what already happened, after the fact, for an
// operator's dashboard rather than for the Decision Orchestrator itself.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/voriongit/vorion-sub013"

// Shutdown flushes and tears down any exporters Init started. It is a
// no-op when Init ran without an OTLP endpoint.
type Shutdown func(ctx context.Context) error

// Init registers a TracerProvider and MeterProvider exporting to an
// OTLP/gRPC collector at endpoint. An empty endpoint leaves the global
// no-op providers in place, so Tracer()/Meter() calls stay cheap in
// local/dev runs that have nothing to export to.
func Init(ctx context.Context, serviceName, endpoint string) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

// Tracer returns the governance core's tracer. Safe to call before or
// after Init; before Init (or with no endpoint configured) spans are
// recorded by the global no-op provider and cost nothing.
func Tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

// Meter returns the governance core's meter, same no-op-by-default
// behavior as Tracer.
func Meter() metric.Meter { return otel.Meter(instrumentationName) }
