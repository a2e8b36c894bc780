package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"LegacyVault/config"
	"LegacyVault/internal/bootstrap"
	"LegacyVault/internal/trigger"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/snowflake"
	"LegacyVault/storage"
)

// scheduler 独立运行 Monitor 与触发规则的定时评估，
// 与 server 内置 Monitor 同时部署时由 redis 锁保证同一开关单写
func main() {
	config.MustLoad()

	logger.Init()
	defer logger.Sync()

	ctx, cancel := bootstrap.SignalContext("scheduler")
	defer cancel()

	shutdownTelemetry := bootstrap.Telemetry(ctx, "scheduler")
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Logger.Warn("Failed to flush telemetry", zap.Error(err))
		}
	}()

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	// 考虑与 worker 和 server 作区分
	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	stores := bootstrap.NewStores()
	svc, err := bootstrap.NewServices(ctx, stores)
	if err != nil {
		logger.Logger.Fatal("Failed to initialize services for scheduler", zap.Error(err))
	}

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.String("environment", config.Cfg.Environment),
		zap.Duration("monitor_interval", config.Cfg.MonitorInterval()),
	)

	monitor := bootstrap.NewMonitor(stores, svc)
	monitor.Start(ctx)

	driver := trigger.NewDriver(svc.Engine, stores.Triggers, svc.Audit, logger.Named("trigger.driver"))
	driverInterval := time.Duration(config.Cfg.TriggerDriverSeconds) * time.Second
	if config.Cfg.Environment == "development" {
		driverInterval = time.Minute
		logger.Logger.Info("Trigger driver running in development mode with 1m interval")
	}
	go driver.Run(ctx, driverInterval)

	<-ctx.Done()

	monitor.Stop()
	logger.Logger.Info("Scheduler service shutting down gracefully")
}
