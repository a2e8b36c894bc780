package main

import (
	"context"
	"net"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"LegacyVault/config"
	"LegacyVault/internal/bootstrap"
	"LegacyVault/internal/middleware"
	"LegacyVault/internal/router"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/snowflake"
	"LegacyVault/pkg/token"
	"LegacyVault/storage"
)

func main() {
	config.MustLoad()

	// 日志部分
	logger.Init()
	defer logger.Sync()

	ctx, cancel := bootstrap.SignalContext("server")
	defer cancel()

	shutdownTelemetry := bootstrap.Telemetry(ctx, "server")
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Logger.Warn("Failed to flush telemetry", zap.Error(err))
		}
	}()
	if err := middleware.InitMetrics(otel.Meter("legacyvault/http")); err != nil {
		logger.Logger.Warn("Failed to initialize HTTP metrics", zap.Error(err))
	}

	// 初始化存储层，记得关闭外部连接
	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	if err := token.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize token package", zap.Error(err))
	} // token 在中间件前初始化，middleware 依赖 token

	if err := middleware.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize middlewares", zap.Error(err))
	}

	stores := bootstrap.NewStores()
	svc, err := bootstrap.NewServices(ctx, stores)
	if err != nil {
		logger.Logger.Fatal("Failed to initialize services", zap.Error(err))
	}

	// server 内置的 Monitor 默认跟随进程启动，也可以通过 /v1/monitor 控制
	monitor := bootstrap.NewMonitor(stores, svc)
	if config.Cfg.MonitorAutoStart {
		monitor.Start(ctx)
	}
	defer monitor.Stop()

	apiLimiter := bootstrap.NewLimiter(ctx, "api", config.Cfg.APIRateLimitPerMinute, time.Minute)
	trustedProxies, err := config.Cfg.TrustedProxyCIDRs()
	if err != nil {
		logger.Logger.Fatal("Invalid trusted proxy configuration", zap.Error(err))
	}

	logger.Logger.Info("Server starting",
		zap.String("service", config.Cfg.ServiceName),
		zap.String("port", config.Cfg.ServerPort),
		zap.String("environment", config.Cfg.Environment),
		zap.Bool("monitor_auto_start", config.Cfg.MonitorAutoStart),
		zap.Int("trusted_proxies", len(trustedProxies)),
	)

	addr := net.JoinHostPort(config.Cfg.ServerHost, config.Cfg.ServerPort)
	tracerOpt, tracerMw := middleware.NewServerTracerConfig()
	h := server.Default(server.WithHostPorts(addr), tracerOpt)
	h.Use(tracerMw)

	router.Register(h, router.Dependencies{
		Switches:       svc.Switches,
		Tokens:         svc.Tokens,
		Monitor:        monitor,
		Engine:         svc.Engine,
		APILimiter:     apiLimiter,
		RunCtx:         ctx,
		TrustedProxies: trustedProxies,
	})

	// 优雅关闭：在单独的 goroutine 中监听关闭信号并调用 Shutdown
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()

	logger.Logger.Info("HTTP server listening", zap.String("addr", addr))

	h.Spin()

	logger.Logger.Info("Server shutting down gracefully")
}
