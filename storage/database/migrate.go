package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/logger"
)

// Migrate 运行数据库迁移，创建所有表
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")

	err := db.AutoMigrate(
		&model.DeadManSwitch{},
		&model.SwitchAuditEntry{},
		&model.ComplianceAuditEvent{},
		&model.EmergencyAccessToken{},
		&model.AccessLogEntry{},
		&model.TriggerDefinition{},
		&model.TriggerEvaluationResult{},
		&model.EvaluationSchedule{},
		&model.ExternalSignal{},
		&model.AccessGrant{},
		&model.EmergencyOverride{},
	)

	if err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully")
	return nil
}
