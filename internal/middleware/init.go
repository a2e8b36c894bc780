package middleware

import (
	"go.uber.org/zap"

	"LegacyVault/config"
	"LegacyVault/pkg/logger"
)

// Init 初始化依赖全局状态的中间件，需在 token.Init 之后调用
func Init() error {
	if err := initAuthMiddleware(); err != nil {
		logger.Logger.Error("Failed to initialize auth middleware", zap.Error(err))
		return err
	}

	SetAdmins(config.Cfg.AdminUserIDs)

	logger.Logger.Info("All middlewares initialized successfully",
		zap.Int("admins", len(config.Cfg.AdminUserIDs)),
	)
	return nil
}
