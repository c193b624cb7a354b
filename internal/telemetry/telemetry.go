// Package telemetry wires request tracing for the queue server.
package telemetry

import (
	"context"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

type ShutdownFunc func(context.Context) error

// Setup exports spans over OTLP/gRPC when OTEL_EXPORTER_OTLP_ENDPOINT is set
// and leaves the global no-op provider in place otherwise.
// QUEUE_TRACE_RATIO samples a fraction of root spans (default 1).
func Setup(serviceName string, logger *zap.Logger) ShutdownFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }
	}

	ctx := context.Background()
	options := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure, _ := strconv.ParseBool(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, options...)
	if err != nil {
		logger.Warn("trace exporter unavailable, tracing disabled", zap.Error(err))
		return func(context.Context) error { return nil }
	}

	attrs, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		logger.Warn("trace resource incomplete", zap.Error(err))
	}

	ratio := sampleRatio(os.Getenv("QUEUE_TRACE_RATIO"))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(attrs),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)
	logger.Info("tracing enabled", zap.String("endpoint", endpoint), zap.Float64("ratio", ratio))
	return provider.Shutdown
}

func sampleRatio(raw string) float64 {
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1
	}
	return ratio
}
