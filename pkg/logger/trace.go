package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TraceFields 把当前 span 的 trace_id/span_id 带进日志，便于与链路对照
func TraceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// Ctx 返回附带链路字段的 logger
func Ctx(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = Logger
	}
	if fields := TraceFields(ctx); fields != nil {
		return l.With(fields...)
	}
	return l
}
