// Package repository 持久化接口，gorm 实现用于生产，内存实现用于测试和单机运行。
package repository

import (
	"context"
	"time"

	"LegacyVault/internal/model"
)

// SwitchStore 开关及其审计链。写入都带版本号比较，失败返回 errors.Conflict。
type SwitchStore interface {
	Create(ctx context.Context, sw *model.DeadManSwitch, entries []model.SwitchAuditEntry) error
	Get(ctx context.Context, id string) (*model.DeadManSwitch, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*model.DeadManSwitch, error)
	// ListMonitored 返回需要巡检的开关：未禁用，且触发后释放尚未完成
	ListMonitored(ctx context.Context) ([]*model.DeadManSwitch, error)
	// Save 在 expectedVersion 匹配时写入开关和新审计条目，成功后 sw.Version 自增
	Save(ctx context.Context, sw *model.DeadManSwitch, expectedVersion int64, entries []model.SwitchAuditEntry) error
	// Delete 删除开关，审计链保留
	Delete(ctx context.Context, sw *model.DeadManSwitch, expectedVersion int64, entries []model.SwitchAuditEntry) error
	AuditTrail(ctx context.Context, switchID string) ([]model.SwitchAuditEntry, error)
}

type TokenStore interface {
	Create(ctx context.Context, t *model.EmergencyAccessToken) error
	Get(ctx context.Context, id string) (*model.EmergencyAccessToken, error)
	// IncrementUses 原子地增加一次使用，已用尽或已撤销时返回 false。
	// entry 非空时与计数在同一事务写入，任一失败都不计次。
	IncrementUses(ctx context.Context, id string, now time.Time, entry *model.AccessLogEntry) (bool, error)
	Revoke(ctx context.Context, id string, at time.Time, reason string) error
	// Extend 只改 expires_at，已撤销时返回 false
	Extend(ctx context.Context, id string, expiresAt, now time.Time) (bool, error)
	// Activate 只设置 activated_at，已撤销或已激活时返回 false
	Activate(ctx context.Context, id string, at time.Time) (bool, error)
	ListBySwitch(ctx context.Context, switchID string) ([]*model.EmergencyAccessToken, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*model.EmergencyAccessToken, error)
}

type AccessLogStore interface {
	Append(ctx context.Context, e *model.AccessLogEntry) error
	ListByToken(ctx context.Context, tokenID string, limit int) ([]model.AccessLogEntry, error)
}

type TriggerStore interface {
	SaveDefinition(ctx context.Context, d *model.TriggerDefinition) error
	ListDefinitions(ctx context.Context, userID string) ([]model.TriggerDefinition, error)
	DeleteDefinition(ctx context.Context, userID, id string) error

	// AppendResults 追加评估结果，每个用户只保留最近 retain 条
	AppendResults(ctx context.Context, userID string, results []model.TriggerEvaluationResult, retain int) error
	// History 按时间倒序
	History(ctx context.Context, userID string, limit int) ([]model.TriggerEvaluationResult, error)

	UpsertSchedule(ctx context.Context, s *model.EvaluationSchedule) error
	// AdvanceSchedule 仅推进运行时间；read 之后计划被改动过则不写入，返回 false
	AdvanceSchedule(ctx context.Context, read model.EvaluationSchedule, lastRun, nextRun time.Time) (bool, error)
	GetSchedule(ctx context.Context, userID string) (*model.EvaluationSchedule, error)
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]model.EvaluationSchedule, error)

	AddSignal(ctx context.Context, s *model.ExternalSignal) error
	ListSignals(ctx context.Context, userID string, since time.Time) ([]model.ExternalSignal, error)
}

// ReleaseStore 触发后创建的授权、紧急覆盖和合规审计
type ReleaseStore interface {
	CreateGrant(ctx context.Context, g *model.AccessGrant) error
	ListGrants(ctx context.Context, switchID string) ([]model.AccessGrant, error)
	CreateOverride(ctx context.Context, o *model.EmergencyOverride) error
	ListOverrides(ctx context.Context, switchID string) ([]model.EmergencyOverride, error)
	AppendCompliance(ctx context.Context, e *model.ComplianceAuditEvent) error
	ListCompliance(ctx context.Context, subjectID string) ([]model.ComplianceAuditEvent, error)
}
