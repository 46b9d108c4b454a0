// Package telemetry configures OpenTelemetry tracing for evaluation cycles.
// Custom span attributes use the `skywatch.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/skywatch/skywatch/scheduler"

// Tracer returns the package-level tracer
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider installs an OTLP gRPC trace provider. An empty endpoint
// disables tracing. The returned function flushes and shuts down the provider.
func InitTraceProvider(ctx context.Context, endpoint, serviceName, version string, insecure bool) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartCycleSpan creates the parent span for one evaluation cycle
func StartCycleSpan(ctx context.Context, trigger string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "cycle.run",
		trace.WithAttributes(attribute.String("skywatch.trigger", trigger)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndCycleSpan records the cycle totals and ends the span
func EndCycleSpan(span trace.Span, groups, failed, triggered int) {
	span.SetAttributes(
		attribute.Int("skywatch.groups", groups),
		attribute.Int("skywatch.groups_failed", failed),
		attribute.Int("skywatch.alerts_triggered", triggered),
	)
	span.End()
}

// StartLocationSpan creates a child span for one location group
func StartLocationSpan(ctx context.Context, location string, alerts int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "cycle.location",
		trace.WithAttributes(
			attribute.String("skywatch.location", location),
			attribute.Int("skywatch.alerts", alerts),
		),
	)
}

// EndLocationSpan marks the span failed when err is set and ends it
func EndLocationSpan(span trace.Span, err error, errorKind string, triggered int) {
	span.SetAttributes(attribute.Int("skywatch.alerts_triggered", triggered))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errorKind != "" {
			span.SetAttributes(attribute.String("skywatch.error_kind", errorKind))
		}
	}
	span.End()
}
