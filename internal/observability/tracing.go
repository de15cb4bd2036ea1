// Package observability provides OpenTelemetry tracing for sync runs.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/docsync-mcp/pkg/types"
)

const (
	// TracerName is the name used for the docsync tracer
	TracerName = "github.com/dshills/docsync-mcp"
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Environment    string  `mapstructure:"environment"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"` // empty disables export
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// DefaultTracingConfig returns a default tracing configuration
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "docsync",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global tracer provider exporting over OTLP gRPC.
// Returns a no-op provider if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSyncSpan starts the root span of one sync run
func StartSyncSpan(ctx context.Context, repositoryID, branch string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "sync",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("docsync.repository", repositoryID),
			attribute.String("docsync.branch", branch),
		),
	)
}

// StartStepSpan starts a child span for one pipeline step
func StartStepSpan(ctx context.Context, step types.SyncStep, items int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "sync."+string(step),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("docsync.step", string(step)),
			attribute.Int("docsync.items", items),
		),
	)
}

// RecordStepResult records per-step outcome counts
func RecordStepResult(span trace.Span, succeeded, failed int) {
	span.SetAttributes(
		attribute.Int("docsync.succeeded", succeeded),
		attribute.Int("docsync.failed", failed),
	)
}

// RecordSyncReport copies the report counters onto the sync span
func RecordSyncReport(span trace.Span, r *types.SyncReport) {
	span.SetAttributes(
		attribute.String("docsync.status", r.Status.String()),
		attribute.Int("docsync.new", r.New),
		attribute.Int("docsync.modified", r.Modified),
		attribute.Int("docsync.deleted", r.Deleted),
		attribute.Int("docsync.unchanged", r.Unchanged),
		attribute.Int("docsync.failed_paths", len(r.FailedPaths)),
		attribute.Int("docsync.chunks_written", r.ChunksWritten),
		attribute.Int64("docsync.elapsed_ms", r.Elapsed.Milliseconds()),
	)
	if r.Err != nil {
		RecordError(span, r.Err)
	}
}

// RecordError records an error on a span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
