package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerProviderStartsAndEndsSpans(t *testing.T) {
	tp, err := NewTracerProvider(Config{
		ServiceName:    "test-service",
		ServiceVersion: "0.0.1",
		Environment:    "test",
	})
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	ctx, span := tp.StartSpan(context.Background(), "test.span")
	assert.NotNil(t, span)
	AddEvent(span, "test.event")
	span.End()
	assert.NotNil(t, ctx)
}

func TestTracerAccessorReturnsUsableTracer(t *testing.T) {
	tp, err := NewTracerProvider(Config{ServiceName: "test-service"})
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	tracer := tp.Tracer()
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "direct.span")
	defer span.End()
	assert.NotNil(t, span)
}
