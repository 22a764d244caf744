// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tracing installs the OpenTelemetry tracer provider that receives
// the spans recorded around backend requests.
//
// Export is off by default. When enabled, spans are batched and sent to an
// OTLP/HTTP collector such as Jaeger on port 4318.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

// DefaultEndpoint is the collector address used when none is configured.
const DefaultEndpoint = "localhost:4318"

// DefaultServiceName identifies this client in the collector.
const DefaultServiceName = "uoechat"

// Options configures span export.
type Options struct {
	// Enabled turns on export. When false Init installs nothing.
	Enabled bool

	// Endpoint is the collector host:port.
	Endpoint string

	// Insecure sends spans over plain HTTP.
	Insecure bool

	// SampleRatio is the fraction of root traces kept, 0 to 1. Zero keeps none.
	SampleRatio float64

	ServiceName    string
	ServiceVersion string

	Logger *zap.Logger
}

// ShutdownFunc flushes buffered spans and stops the exporter.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs a global tracer provider that exports over OTLP/HTTP.
// With export disabled it returns a no-op ShutdownFunc and leaves the
// global provider alone.
func Init(ctx context.Context, opts Options) (ShutdownFunc, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("tracing")

	if !opts.Enabled {
		log.Debug("tracing disabled")
		return noopShutdown, nil
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}

	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return noopShutdown, fmt.Errorf("create OTLP exporter for %s: %w", opts.Endpoint, err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(opts.ServiceName)}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(opts.ServiceVersion))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, attrs...)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing enabled",
		zap.String("endpoint", opts.Endpoint),
		zap.Bool("insecure", opts.Insecure),
		zap.Float64("sample_ratio", opts.SampleRatio))

	return tp.Shutdown, nil
}
