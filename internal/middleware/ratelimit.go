package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"LegacyVault/internal/ratelimit"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/metrics"
	"LegacyVault/pkg/response"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// Scope 用于区分计数键与指标标签
	Scope string
	// 是否按所有者 ID 计数（需要认证）
	ByUserID bool
	// 是否按 IP 计数
	ByIP bool
}

// keys 同时按用户与 IP 计数时两者都要通过
func (cfg RateLimitConfig) keys(ctx context.Context, c *app.RequestContext) []string {
	var keys []string
	if cfg.ByUserID {
		if userID, exists := GetUserID(ctx, c); exists {
			keys = append(keys, cfg.Scope+":user:"+userID)
		}
	}
	if cfg.ByIP {
		keys = append(keys, cfg.Scope+":ip:"+ClientIP(c))
	}
	return keys
}

func setRateLimitHeaders(c *app.RequestContext, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	c.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining()))
	if !d.ResetAt.IsZero() {
		c.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// RateLimitMiddleware 计数后端不可用时放行并记录日志
func RateLimitMiddleware(limiter ratelimit.Limiter, cfg RateLimitConfig) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		keys := cfg.keys(ctx, c)
		if limiter == nil || len(keys) == 0 {
			c.Next(ctx)
			return
		}

		d, err := ratelimit.AllowAll(ctx, limiter, keys...)
		if err != nil {
			logger.Logger.Error("Failed to check rate limit",
				zap.String("scope", cfg.Scope),
				zap.Error(err),
			)
			c.Next(ctx)
			return
		}

		setRateLimitHeaders(c, d)
		if !d.Allowed {
			metrics.RecordRateLimited(ctx, cfg.Scope)
			if wait := time.Until(d.ResetAt); wait > 0 {
				c.Response.Header.Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			}
			response.Error(ctx, c, errors.RateLimited)
			c.Abort()
			return
		}

		c.Next(ctx)
	}
}

// APIRateLimitMiddleware 所有者 API 的通用限流
func APIRateLimitMiddleware(limiter ratelimit.Limiter) app.HandlerFunc {
	return RateLimitMiddleware(limiter, RateLimitConfig{
		Scope:    "api",
		ByUserID: true,
		ByIP:     true,
	})
}

