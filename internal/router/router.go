package router

import (
	"context"
	"net"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"

	"LegacyVault/internal/handler"
	"LegacyVault/internal/middleware"
	"LegacyVault/internal/ratelimit"
	"LegacyVault/internal/schedule"
	"LegacyVault/internal/service"
	"LegacyVault/internal/trigger"
	"LegacyVault/pkg/response"
)

type Dependencies struct {
	Switches *service.SwitchService
	Tokens   *service.TokenService
	Monitor  *schedule.Monitor
	Engine   *trigger.Engine

	// APILimiter 为 nil 时所有者接口不限流
	APILimiter ratelimit.Limiter
	// Auth 为 nil 时使用 JWT 中间件
	Auth app.HandlerFunc
	// RunCtx Monitor 通过接口启动时使用的进程级 context
	RunCtx context.Context
	// TrustedProxies 为空时忽略 X-Forwarded-For / X-Real-IP
	TrustedProxies []*net.IPNet
}

func Register(h *server.Hertz, d Dependencies) {
	h.SetClientIPFunc(middleware.ClientIPFunc(d.TrustedProxies))
	h.Use(middleware.ClientIPMiddleware(d.TrustedProxies))
	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.CORSMiddleware())
	h.Use(middleware.OpenTelemetryMiddleware())

	auth := d.Auth
	if auth == nil {
		auth = middleware.AuthMiddleware()
	}
	runCtx := d.RunCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	apiLimit := middleware.APIRateLimitMiddleware(d.APILimiter)

	h.GET("/healthz", func(ctx context.Context, c *app.RequestContext) {
		response.Success(ctx, c, map[string]string{"status": "ok"})
	})

	v1 := h.Group("/v1")

	// 开关
	switches := handler.NewSwitchHandler(d.Switches)
	sw := v1.Group("/switches", auth, apiLimit)
	{
		sw.POST("", switches.Create)
		sw.GET("", switches.List)
		sw.GET("/:id", switches.Get)
		sw.PUT("/:id", switches.UpdateConfig)
		sw.DELETE("/:id", switches.Delete)
		sw.POST("/:id/enable", switches.Enable)
		sw.POST("/:id/disable", switches.Disable)
		sw.POST("/:id/reset", switches.Reset)
		sw.POST("/:id/check-in", switches.CheckIn)
		sw.POST("/:id/holiday", switches.Holiday)
		sw.GET("/:id/audit", switches.Audit)
	}

	// 巡检控制只对运维账号开放
	if d.Monitor != nil {
		monitor := handler.NewMonitorHandler(runCtx, d.Monitor)
		mon := v1.Group("/monitor", auth, middleware.AdminOnly())
		{
			mon.GET("/status", monitor.Status)
			mon.POST("/start", monitor.Start)
			mon.POST("/stop", monitor.Stop)
			mon.POST("/force-check", monitor.ForceCheck)
			mon.POST("/config", monitor.UpdateConfig)
		}
	}

	// 触发评估
	evaluations := handler.NewEvaluationHandler(d.Engine)
	ev := v1.Group("/evaluations/:user_id", auth, apiLimit)
	{
		ev.POST("", evaluations.Trigger)
		ev.GET("", evaluations.History)
		ev.GET("/schedule", evaluations.GetSchedule)
		ev.PUT("/schedule", evaluations.PutSchedule)
		ev.PUT("/enabled", evaluations.SetEnabled)
		ev.GET("/triggers", evaluations.ListTriggers)
		ev.POST("/triggers", evaluations.RegisterTrigger)
		ev.DELETE("/triggers/:trigger_id", evaluations.RemoveTrigger)
		ev.POST("/signals", evaluations.ReportSignal)
	}

	// 紧急访问令牌；validate 与 usage 由令牌自身鉴权，限流在 TokenService 内完成
	tokens := handler.NewTokenHandler(d.Tokens)
	v1.POST("/tokens/validate", tokens.Validate)
	v1.POST("/tokens/:id/usage", tokens.Usage)

	tk := v1.Group("/tokens", auth, apiLimit)
	{
		tk.POST("", tokens.Generate)
		tk.GET("", tokens.List)
		tk.POST("/:id/revoke", tokens.Revoke)
		tk.POST("/:id/refresh", tokens.Refresh)
		tk.POST("/:id/activate", tokens.Activate)
		tk.GET("/:id/logs", tokens.Logs)
	}
}
