package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"LegacyVault/config"
	"LegacyVault/internal/bootstrap"
	"LegacyVault/internal/cache"
	"LegacyVault/internal/queue"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/sms"
	"LegacyVault/pkg/snowflake"
	"LegacyVault/pkg/webhook"
	"LegacyVault/storage"
	"LegacyVault/storage/redis"
)

const prefetch = 10

func main() {
	config.MustLoad()

	logger.Init()
	defer logger.Sync()

	ctx, cancel := bootstrap.SignalContext("worker")
	defer cancel()

	shutdownTelemetry := bootstrap.Telemetry(ctx, "worker")
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Logger.Warn("Failed to flush telemetry", zap.Error(err))
		}
	}()

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	var smsClient sms.Client
	if err := sms.Init(); err != nil {
		logger.Logger.Warn("Failed to initialize SMS service", zap.Error(err))
		logger.Logger.Info("SMS channel will be disabled, webhook delivery still works")
	} else {
		smsClient = sms.GetClient()
	}

	// 幂等标记需要跨 worker 共享，redis 不可用时退化为进程内
	var dedup cache.Deduper = cache.NewMemoryDeduper()
	if redis.Enabled() {
		dedup = cache.NewRedisDeduper(redis.Client(), redis.Key("notify", "sent"))
	}

	dispatcher := queue.NewDispatcher(
		smsClient,
		webhook.NewClient(time.Duration(config.Cfg.WebhookTimeout)*time.Second, config.Cfg.WebhookSecret, logger.Named("webhook")),
		dedup,
		queue.DispatcherConfig{
			SignName:        config.Cfg.SMSSignName,
			TemplateCode:    config.Cfg.SMSTemplateCode,
			RatePerSecond:   config.Cfg.NotifyRatePerSec,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		logger.Named("dispatcher"),
	)

	logger.Logger.Info("Worker service starting",
		zap.String("service", config.Cfg.ServiceName+"-worker"),
		zap.String("environment", config.Cfg.Environment),
		zap.String("queue", config.Cfg.NotifyQueue),
	)

	if err := dispatcher.Run(ctx, config.Cfg.NotifyQueue, prefetch); err != nil && ctx.Err() == nil {
		logger.Logger.Error("Notification consumer stopped", zap.Error(err))
	}

	logger.Logger.Info("Worker service shutting down gracefully")
}
