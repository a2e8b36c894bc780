package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"LegacyVault/pkg/response"
)

var (
	// HTTP 相关指标，未初始化时为 noop
	httpServerRequestTotal   metric.Int64Counter       = noop.Int64Counter{}
	httpServerDuration       metric.Float64Histogram   = noop.Float64Histogram{}
	httpServerActiveRequests metric.Int64UpDownCounter = noop.Int64UpDownCounter{}
	httpServerErrorsTotal    metric.Int64Counter       = noop.Int64Counter{}
)

// toValidUTF8 统一清洗用户可控字符串，防止非法 UTF-8 触发指标/trace 序列化失败
func toValidUTF8(val string) string {
	return strings.ToValidUTF8(val, "")
}

// InitMetrics 初始化 HTTP 指标
func InitMetrics(meter metric.Meter) error {
	var err error

	httpServerRequestTotal, err = meter.Int64Counter(
		"http.server.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	httpServerDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	httpServerActiveRequests, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	// 按业务错误码统计，令牌猜测表现为 TOKEN_INVALID 与 RATE_LIMITED 增多
	httpServerErrorsTotal, err = meter.Int64Counter(
		"http.server.errors.total",
		metric.WithDescription("Error responses by domain error code"),
		metric.WithUnit("{response}"),
	)
	return err
}

// OpenTelemetryMiddleware 记录请求指标，并在 hertz tracing 创建的 span 上补充身份与错误码。
// 不记录完整 URL，查询串里可能带有令牌。
func OpenTelemetryMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		httpServerActiveRequests.Add(ctx, 1)
		defer httpServerActiveRequests.Add(ctx, -1)

		c.Next(ctx)

		method := toValidUTF8(string(c.Method()))
		route := toValidUTF8(c.FullPath())
		if route == "" {
			route = "unmatched"
		}
		status := c.Response.StatusCode()
		errCode := c.GetString(response.ErrorCodeKey)

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(semconv.HTTPRoute(route))
		// 认证中间件在本中间件之后执行，身份只能在 Next 返回后读取
		if userID, ok := GetUserID(ctx, c); ok {
			span.SetAttributes(attribute.String("enduser.id", toValidUTF8(userID)))
		}
		if errCode != "" {
			span.SetAttributes(attribute.String("legacyvault.error_code", errCode))
		}
		if status >= 500 {
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(lastErr)
			}
		}

		labels := metric.WithAttributes(
			semconv.HTTPMethod(method),
			semconv.HTTPRoute(route),
			semconv.HTTPStatusCode(status),
		)
		httpServerRequestTotal.Add(ctx, 1, labels)
		httpServerDuration.Record(ctx, time.Since(start).Seconds(), labels)
		if errCode != "" {
			httpServerErrorsTotal.Add(ctx, 1, metric.WithAttributes(
				semconv.HTTPRoute(route),
				attribute.String("error.code", errCode),
			))
		}
	}
}

// NewServerTracerConfig 创建 Hertz Server 的追踪配置
// 返回用于初始化 Hertz server 的配置选项和追踪中间件
func NewServerTracerConfig(opts ...hertztracing.Option) (config.Option, app.HandlerFunc) {
	tracer, cfg := hertztracing.NewServerTracer(opts...)
	return tracer, hertztracing.ServerMiddleware(cfg)
}
