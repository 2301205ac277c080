package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanWithoutProvider(t *testing.T) {
	var empty context.Context
	ctx, span := StartSpan(empty, "test", "noop")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.Empty(t, GetTraceID(ctx))
}

func TestInitAndStartSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	require.NoError(t, Init("memstream-test", sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	require.NoError(t, Init("ignored"))

	ctx, span := StartSpan(context.Background(), "test", "transport.processInput",
		attribute.String("client_id", "conn-1"))
	traceID := GetTraceID(ctx)
	span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "transport.processInput", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("client_id", "conn-1"))

	// An existing trace id is kept.
	ctx = WithTraceID(context.Background(), "preset")
	ctx, child := StartSpan(ctx, "test", "child")
	child.End()
	assert.Equal(t, "preset", GetTraceID(ctx))
}

func TestShutdownWithoutInit(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}
