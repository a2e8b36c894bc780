package middleware

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"LegacyVault/config"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/response"
)

var internalError = errors.Definition{Code: "INTERNAL_ERROR", Message: "Internal server error"}

// RecoverConfig recover 中间件配置
type RecoverConfig struct {
	// 是否启用堆栈追踪
	EnableStackTrace bool
	// 堆栈追踪级别（full, simple, none）
	StackTraceLevel string
	// 生产环境是否返回详细错误
	ExposeDetailsInProduction bool
	// 是否记录请求头
	LogRequestDetails bool
	// 是否在 span 中记录异常
	RecordInSpan bool
	// 严重错误回调
	OnSevereError func(ctx context.Context, c *app.RequestContext, err interface{}, stack []byte)
	IsProduction  bool
}

// NewRecoverConfig 需在 config.Load 之后调用
func NewRecoverConfig() RecoverConfig {
	return RecoverConfig{
		EnableStackTrace:  true,
		StackTraceLevel:   "simple",
		LogRequestDetails: true,
		RecordInSpan:      true,
		IsProduction:      config.Cfg.IsProduction(),
	}
}

func RecoverMiddleware() app.HandlerFunc {
	return RecoverMiddlewareWithConfig(NewRecoverConfig())
}

func RecoverMiddlewareWithConfig(cfg RecoverConfig) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				handlePanic(ctx, c, err, cfg)
			}
		}()

		c.Next(ctx)
	}
}

func handlePanic(ctx context.Context, c *app.RequestContext, err interface{}, cfg RecoverConfig) {
	var stack []byte
	if cfg.EnableStackTrace {
		stack = getStackTrace(cfg.StackTraceLevel)
	}

	logPanicWithRequest(ctx, c, err, stack, cfg)

	if cfg.RecordInSpan {
		span := trace.SpanFromContext(ctx)
		span.RecordError(fmt.Errorf("panic: %v", err))
		span.SetStatus(codes.Error, "panic recovered")
	}

	if cfg.OnSevereError != nil && isSeverePanic(err) {
		cfg.OnSevereError(ctx, c, err, stack)
	}

	writeErrorResponse(ctx, c, err, stack, cfg)
	c.Abort()
}

// writeErrorResponse 生产环境不返回 panic 内容
func writeErrorResponse(ctx context.Context, c *app.RequestContext, err interface{}, stack []byte, cfg RecoverConfig) {
	if cfg.IsProduction && !cfg.ExposeDetailsInProduction {
		response.Error(ctx, c, internalError)
		return
	}

	details := map[string]interface{}{
		"panic":     fmt.Sprintf("%v", err),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if cfg.EnableStackTrace {
		details["stack"] = string(stack)
	}
	response.ErrorWithDetails(ctx, c, internalError, details)
}

func getStackTrace(level string) []byte {
	var buf bytes.Buffer

	switch level {
	case "full":
		buf.Write(debug.Stack())
	case "simple":
		buf.WriteString("goroutine panic:\n")
		skip := 4 // 跳过 runtime 与 recover 相关的帧
		for i := skip; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fn := runtime.FuncForPC(pc)
			if fn == nil {
				continue
			}
			if strings.Contains(file, "/runtime/") {
				continue
			}
			buf.WriteString(fmt.Sprintf("  %s:%d\n    %s\n", file, line, fn.Name()))
		}
	}

	return buf.Bytes()
}

// sensitiveHeaders 不写入日志
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
}

func logPanicWithRequest(ctx context.Context, c *app.RequestContext, err interface{}, stack []byte, cfg RecoverConfig) {
	fields := []zap.Field{
		zap.String("panic", fmt.Sprintf("%v", err)),
		zap.String("route", c.FullPath()),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
		zap.String("client_ip", ClientIP(c)),
		zap.String("user_agent", string(c.UserAgent())),
	}
	// 查询串可能带令牌，只记录 path；链路 id 用于对照 trace
	fields = append(fields, logger.TraceFields(ctx)...)

	if userID, exists := GetUserID(ctx, c); exists {
		fields = append(fields, zap.String("user_id", userID))
	}

	// 请求体可能包含令牌明文，只记录请求头
	if cfg.LogRequestDetails {
		headers := make(map[string]string)
		c.Request.Header.VisitAll(func(key, value []byte) {
			k := string(key)
			if sensitiveHeaders[strings.ToLower(k)] {
				return
			}
			headers[k] = string(value)
		})
		fields = append(fields, zap.Any("headers", headers))
	}

	if cfg.EnableStackTrace {
		fields = append(fields, zap.ByteString("stack", stack))
	}

	if isSeverePanic(err) {
		logger.Logger.Error("[SEVERE PANIC DETECTED]", fields...)
		return
	}
	logger.Logger.Error("[PANIC RECOVERED]", fields...)
}

func isSeverePanic(err interface{}) bool {
	if err == nil {
		return false
	}

	errStr := fmt.Sprintf("%v", err)
	severePatterns := []string{
		"runtime: out of memory",
		"fatal error:",
		"concurrent map writes",
		"concurrent map read and map write",
		"runtime error: makeslice:",
		"all goroutines are asleep - deadlock!",
		"unexpected signal",
	}

	for _, pattern := range severePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
