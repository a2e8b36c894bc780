package otel

import (
	"strings"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// keepNamedSampler 指定名字的 span 全量采样，其余按父 span 与比例采样
type keepNamedSampler struct {
	names    map[string]struct{}
	fallback sdktrace.Sampler
}

func NewSampler(ratio float64, alwaysSample ...string) sdktrace.Sampler {
	fallback := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	if len(alwaysSample) == 0 {
		return fallback
	}
	names := make(map[string]struct{}, len(alwaysSample))
	for _, n := range alwaysSample {
		names[n] = struct{}{}
	}
	return &keepNamedSampler{names: names, fallback: fallback}
}

func (s *keepNamedSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if _, ok := s.names[p.Name]; ok {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.RecordAndSample,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.fallback.ShouldSample(p)
}

func (s *keepNamedSampler) Description() string {
	names := make([]string, 0, len(s.names))
	for n := range s.names {
		names = append(names, n)
	}
	return "KeepNamed{" + strings.Join(names, ",") + "}+" + s.fallback.Description()
}
