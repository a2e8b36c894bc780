package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceFields(t *testing.T) {
	assert.Nil(t, TraceFields(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	core, logs := observer.New(zap.InfoLevel)
	Ctx(ctx, zap.New(core)).Info("switch evaluated")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
		assert.Equal(t, sc.SpanID().String(), fields["span_id"])
	}
}
