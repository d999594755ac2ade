// Package telemetry provides OpenTelemetry tracing setup and process memory sampling.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// TracerName is the instrumentation scope used for crawl spans.
const TracerName = "github.com/JakeFAU/sitemap-crawler"

// TracingOptions configures the tracer provider.
type TracingOptions struct {
	ServiceName string
	// SampleRatio is the fraction of root spans kept. Values outside (0, 1) keep all.
	SampleRatio float64
	// Processors receive finished spans, typically an exporter's batch processor.
	Processors []sdktrace.SpanProcessor
}

// NewTracerProvider installs a global tracer provider and W3C propagators so
// crawl spans reach Pub/Sub message attributes. Child spans follow their
// parent's sampling decision.
func NewTracerProvider(ctx context.Context, opts TracingOptions) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	root := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		root = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(root)),
	}
	for _, p := range opts.Processors {
		providerOpts = append(providerOpts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
