// internal/telemetry/telemetry.go
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config controls trace export.
type Config struct {
	// OTLPEndpoint is an http(s) collector URL. Empty keeps the no-op provider.
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" validate:"omitempty,url"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Shutdown flushes and stops the provider installed by Setup.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs the global tracer provider. Without an endpoint it leaves
// the otel defaults in place and returns a no-op shutdown.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.OTLPEndpoint == "" {
		return noop, nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = "catalogsync"
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio == 0 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
