package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Redis 相关指标，未初始化时为 noop
	redisCommandsTotal   metric.Int64Counter     = noop.Int64Counter{}
	redisCommandDuration metric.Float64Histogram = noop.Float64Histogram{}
	redisSetNXRejected   metric.Int64Counter     = noop.Int64Counter{}
)

// InitRedisMetrics 初始化 Redis 指标
func InitRedisMetrics(meter metric.Meter) error {
	var err error

	redisCommandsTotal, err = meter.Int64Counter(
		"redis.commands.total",
		metric.WithDescription("Total number of Redis commands"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return err
	}

	redisCommandDuration, err = meter.Float64Histogram(
		"redis.command.duration",
		metric.WithDescription("Redis command duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	if err != nil {
		return err
	}

	// lock 族为巡检锁竞争，notify 族为重复投递被拦截
	redisSetNXRejected, err = meter.Int64Counter(
		"redis.setnx.rejected",
		metric.WithDescription("SET NX calls that found the key already present"),
		metric.WithUnit("{command}"),
	)
	return err
}

// TracingHook 只记录命令名与键族，不记录参数值
type TracingHook struct {
	tracer trace.Tracer
	attrs  []attribute.KeyValue
}

func NewTracingHook(serviceName string, db int) *TracingHook {
	return &TracingHook{
		tracer: otel.Tracer(serviceName + ".redis"),
		attrs: []attribute.KeyValue{
			semconv.DBSystemRedis,
			semconv.DBRedisDBIndex(db),
		},
	}
}

func (th *TracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (th *TracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		family := keyFamily(cmd.Args())
		ctx, span := th.tracer.Start(ctx, "redis."+cmd.Name(),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
			trace.WithAttributes(
				semconv.DBOperation(cmd.Name()),
				attribute.String("redis.key_family", family),
			),
		)
		defer span.End()

		start := time.Now()
		err := next(ctx, cmd)

		status := statusOf(err)
		if status == "error" {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}

		attrs := metric.WithAttributes(
			attribute.String("redis.command", cmd.Name()),
			attribute.String("redis.key_family", family),
			attribute.String("redis.status", status),
		)
		redisCommandsTotal.Add(ctx, 1, attrs)
		redisCommandDuration.Record(ctx, time.Since(start).Seconds(), attrs)

		if b, ok := cmd.(*redis.BoolCmd); ok && err == nil && cmd.Name() == "set" && !b.Val() {
			redisSetNXRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("redis.key_family", family)))
		}
		return err
	}
}

func (th *TracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		family := "unknown"
		if len(cmds) > 0 {
			family = keyFamily(cmds[0].Args())
		}
		ctx, span := th.tracer.Start(ctx, "redis.pipeline",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
			trace.WithAttributes(
				attribute.Int("redis.pipeline.count", len(cmds)),
				attribute.String("redis.key_family", family),
			),
		)
		defer span.End()

		start := time.Now()
		err := next(ctx, cmds)

		status := statusOf(err)
		if status == "error" {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}

		attrs := metric.WithAttributes(
			attribute.String("redis.command", "pipeline"),
			attribute.String("redis.key_family", family),
			attribute.String("redis.status", status),
		)
		redisCommandsTotal.Add(ctx, 1, attrs)
		redisCommandDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		return err
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, redis.Nil):
		return "not_found"
	default:
		return "error"
	}
}

// keyFamily 键格式为 prefix:family:...，取第二段
func keyFamily(args []interface{}) string {
	if len(args) < 2 {
		return "none"
	}
	// EVAL/EVALSHA 的键在 numkeys 之后
	name, _ := args[0].(string)
	idx := 1
	if strings.HasPrefix(strings.ToLower(name), "eval") {
		idx = 3
	}
	if idx >= len(args) {
		return "none"
	}
	key, ok := args[idx].(string)
	if !ok {
		return "unknown"
	}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return "unknown"
	}
	return parts[1]
}

// InstrumentRedisClient 为 Redis 客户端添加 OpenTelemetry 支持
func InstrumentRedisClient(client redis.Cmdable, serviceName string, db int) redis.Cmdable {
	if cli, ok := client.(*redis.Client); ok {
		cli.AddHook(NewTracingHook(serviceName, db))
		return cli
	}
	return client
}
