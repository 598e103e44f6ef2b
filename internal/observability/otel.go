// Package observability wires OpenTelemetry tracing for the notes service.
// Spans come from otelgin on the HTTP side, the gorm tracing plugin on the
// storage side, and the reply generation pipeline in between.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-notes-backend/internal/config"
)

// Replaced in tests.
var (
	newExporter = otlptracegrpc.New
	newResource = serviceResource
)

func serviceResource(ctx context.Context, serviceName, version string, attrs ...attribute.KeyValue) (*resource.Resource, error) {
	base := []attribute.KeyValue{semconv.ServiceName(serviceName), semconv.ServiceVersion(version)}
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(append(base, attrs...)...),
	)
}

// Resource attribute keys describing how replies are produced.
const (
	AttrGenerationProvider = attribute.Key("notes.generation.provider")
	AttrDBDriver           = attribute.Key("notes.db.driver")
)

// ResourceAttrs returns the service-level attributes recorded on every span.
func ResourceAttrs(cfg config.Config) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrGenerationProvider.String(cfg.Generation.Provider),
		AttrDBDriver.String(cfg.DB.Driver),
	}
}

// SetupOTel installs a batching OTLP/gRPC tracer provider and the W3C
// propagators as process globals, returning the provider's Shutdown. With
// tracing disabled nothing global changes and the shutdown is a no-op. On
// error the globals are left as they were.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string, attrs ...attribute.KeyValue) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(ctx, cfg.ServiceName, version, attrs...)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	exp, err := newExporter(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func exporterOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	transport := otlptracegrpc.WithInsecure()
	if !cfg.Insecure {
		transport = otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	}
	return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint), transport}
}

// Sampler returns a parent-based sampler for ratio. The bounds map to the
// always/never samplers so their descriptions are stable in traces.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
