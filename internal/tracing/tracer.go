// Package tracing provides OpenTelemetry integration for the delegation
// authorization service.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider manages OpenTelemetry tracing for the engine.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Config holds configuration for tracing.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// NewTracerProvider creates a new OpenTelemetry tracer provider backed by a
// stdout exporter, suitable for local and development environments.
func NewTracerProvider(cfg Config) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}, nil
}

// Tracer returns the underlying trace.Tracer, for components (like the
// Delegation Engine) that start their own spans rather than going
// through StartSpan.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a new span with the given name and attributes.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(time.Now()),
	)
}

// AddEvent adds an event to the current span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(time.Now()),
	)
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// Span names for the Delegation Engine's state-machine operations.
const (
	SpanCreateDelegation = "delegation.create"
	SpanApprove          = "delegation.approve"
	SpanDeny             = "delegation.deny"
	SpanMintAccess       = "delegation.mint_access"
	SpanRevoke           = "delegation.revoke"
	SpanIntrospect       = "delegation.introspect"
)

// Attribute keys attached to engine spans.
const (
	AttributeAgentID      = attribute.Key("delegation.agent_id")
	AttributeUserID       = attribute.Key("delegation.user_id")
	AttributeDelegationID = attribute.Key("delegation.id")
	AttributeStatus       = attribute.Key("delegation.status")
	AttributeError        = attribute.Key("delegation.error")
)
