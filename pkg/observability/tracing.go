package observability

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-xray-sdk-go/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig holds tracing configuration
type TracingConfig struct {
	ServiceName string
	Environment string
	Endpoint    string
	SampleRate  float64
	Enabled     bool
}

// Tracer wraps an OpenTelemetry tracer. Under Lambda, spans are mirrored
// as X-Ray subsegments.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	xray     bool
}

// InitTracing sets up the global tracer provider. A disabled config
// returns a no-op tracer.
func InitTracing(ctx context.Context, cfg TracingConfig) (*Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "learngraph"
	}
	xrayActive := os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName), xray: xrayActive}, nil
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 0.1
		if cfg.Environment != "production" {
			cfg.SampleRate = 1
		}
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if strings.HasPrefix(cfg.Endpoint, "localhost:") || strings.HasPrefix(cfg.Endpoint, "127.0.0.1:") {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{provider: tp, tracer: tp.Tracer(cfg.ServiceName), xray: xrayActive}, nil
}

// NoopTracer returns a tracer that records nothing
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("learngraph")}
}

// TraceFunction runs fn inside a span named name
func (t *Tracer) TraceFunction(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	var seg *xray.Segment
	if t.xray {
		ctx, seg = xray.BeginSubsegment(ctx, name)
	}

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if seg != nil {
		seg.Close(err)
	}
	return err
}

// Shutdown flushes pending spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
