// Package bootstrap 组装 server、scheduler 与 worker 共用的基础设施。
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"LegacyVault/config"
	"LegacyVault/internal/cache"
	"LegacyVault/internal/queue"
	"LegacyVault/internal/ratelimit"
	"LegacyVault/internal/release"
	"LegacyVault/internal/repository"
	"LegacyVault/internal/schedule"
	"LegacyVault/internal/service"
	"LegacyVault/internal/trigger"
	dbotel "LegacyVault/pkg/database"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/metrics"
	mqotel "LegacyVault/pkg/mq"
	pkgotel "LegacyVault/pkg/otel"
	redisotel "LegacyVault/pkg/redis"
	"LegacyVault/pkg/token"
	"LegacyVault/storage/database"
	"LegacyVault/storage/redis"
)

// SignalContext 收到 SIGINT/SIGTERM 时取消
func SignalContext(component string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Logger.Info("Received shutdown signal",
				zap.String("component", component),
				zap.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Telemetry 未配置 OTLP_ENDPOINT 时只注册指标，导出为 noop
func Telemetry(ctx context.Context, component string) func(context.Context) error {
	shutdown := func(context.Context) error { return nil }

	if config.Cfg.OTLPEndpoint != "" {
		fn, err := pkgotel.InitOpenTelemetry(ctx, pkgotel.Config{
			ServiceName:    config.Cfg.ServiceName + "-" + component,
			ServiceVersion: "1.0.0",
			Environment:    config.Cfg.Environment,
			OTLPEndpoint:   config.Cfg.OTLPEndpoint,
			SampleRatio:    config.Cfg.OTLPSampler,
			AlwaysSample:   []string{schedule.ReleaseSpanName},
		})
		if err != nil {
			logger.Logger.Warn("Failed to initialize OpenTelemetry, continuing without export", zap.Error(err))
		} else {
			shutdown = fn
		}
	}

	meter := otel.Meter("legacyvault/" + component)
	if err := metrics.InitMetrics(); err != nil {
		logger.Logger.Warn("Failed to initialize domain metrics", zap.Error(err))
	}
	if err := dbotel.InitDatabaseMetrics(meter); err != nil {
		logger.Logger.Warn("Failed to initialize database metrics", zap.Error(err))
	}
	if err := redisotel.InitRedisMetrics(meter); err != nil {
		logger.Logger.Warn("Failed to initialize redis metrics", zap.Error(err))
	}
	if err := mqotel.InitMQMetrics(meter); err != nil {
		logger.Logger.Warn("Failed to initialize mq metrics", zap.Error(err))
	}
	return shutdown
}

// Stores PostgreSQL 持久化，调用前需 database.Init
type Stores struct {
	Switches  *repository.GormSwitchStore
	Tokens    *repository.GormTokenStore
	AccessLog *repository.GormAccessLogStore
	Triggers  *repository.GormTriggerStore
	Releases  *repository.GormReleaseStore
}

func NewStores() *Stores {
	db := database.DB()
	return &Stores{
		Switches:  repository.NewGormSwitchStore(db),
		Tokens:    repository.NewGormTokenStore(db),
		AccessLog: repository.NewGormAccessLogStore(db),
		Triggers:  repository.NewGormTriggerStore(db),
		Releases:  repository.NewGormReleaseStore(db),
	}
}

// NewLimiter 按配置选择计数后端；memory 后端随 ctx 停止清理
func NewLimiter(ctx context.Context, scope string, limit int, window time.Duration) ratelimit.Limiter {
	if config.Cfg.RateLimitBackend == "redis" && redis.Enabled() {
		return ratelimit.NewRedisLimiter(redis.Client(), redis.Key("ratelimit", scope), limit, window)
	}

	l := ratelimit.NewMemoryLimiter(limit, window, logger.Named("ratelimit."+scope))
	interval := time.Duration(config.Cfg.RateLimitCleanupInterval) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go l.StartCleanup(ctx, interval)
	return l
}

// Locker 多副本部署时用 redis 互斥巡检同一开关
func Locker() cache.Locker {
	if !redis.Enabled() {
		return nil
	}
	return cache.NewRedisLocker(redis.Client())
}

// Services 领域服务，server 与 scheduler 共用同一套组装
type Services struct {
	Audit    *release.StoreCollaborator
	Switches *service.SwitchService
	Tokens   *service.TokenService
	Engine   *trigger.Engine
}

func NewServices(ctx context.Context, stores *Stores) (*Services, error) {
	audit := release.NewStoreCollaborator(stores.Releases, logger.Named("release"))

	switches := service.NewSwitchService(stores.Switches, logger.Named("switch"),
		service.WithMaxHoliday(config.Cfg.MaxHolidayDuration()),
		service.WithComplianceLog(audit),
	)

	limiter := NewLimiter(ctx, "token", config.Cfg.TokenValidateMaxTries, config.Cfg.TokenValidateWindow())
	tokens := service.NewTokenService(
		stores.Tokens,
		stores.AccessLog,
		limiter,
		token.NewSigner(config.Cfg.TokenSigningSecret),
		logger.Named("token"),
		service.WithTokenLimits(config.Cfg.TokenDefaultExpireHrs, config.Cfg.TokenMaxExpireHrs, config.Cfg.TokenDefaultMaxUses),
		service.WithTokenComplianceLog(audit),
	)

	registry := trigger.DefaultRegistry()
	defaults, err := trigger.LoadDefaults(config.Cfg.TriggerRulesFile, registry)
	if err != nil {
		return nil, err
	}
	engine := trigger.NewEngine(stores.Switches, stores.Triggers, registry, logger.Named("trigger"),
		trigger.WithDefaults(defaults),
		trigger.WithHistoryRetention(config.Cfg.TriggerHistoryRetained),
	)

	return &Services{
		Audit:    audit,
		Switches: switches,
		Tokens:   tokens,
		Engine:   engine,
	}, nil
}

// NewMonitor 通知经 RabbitMQ 交给 worker 投递
func NewMonitor(stores *Stores, svc *Services) *schedule.Monitor {
	cfg := config.Cfg
	return schedule.NewMonitor(stores.Switches, schedule.Collaborators{
		Grants:    svc.Audit,
		Overrides: svc.Audit,
		Notifier:  queue.NewMQNotifier(cfg.NotifyExchange, cfg.NotifyQueue, logger.Named("notifier")),
		Tokens:    svc.Tokens,
		Audit:     svc.Audit,
	}, schedule.Config{
		Interval:                cfg.MonitorInterval(),
		Concurrency:             cfg.MonitorConcurrency,
		GrantDelayHours:         cfg.ReleaseGrantDelayHours,
		OverrideExpirationHours: cfg.ReleaseOverrideExpireHrs,
		LockTTL:                 time.Duration(cfg.MonitorLockSeconds) * time.Second,
	}, logger.Named("monitor"), schedule.WithLocker(Locker()))
}
