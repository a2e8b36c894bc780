package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
)

func notFound(err error, what, id string) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", errors.NotFound, what, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

// GormSwitchStore PostgreSQL 实现
type GormSwitchStore struct {
	db *gorm.DB
}

func NewGormSwitchStore(db *gorm.DB) *GormSwitchStore {
	return &GormSwitchStore{db: db}
}

func (s *GormSwitchStore) Create(ctx context.Context, sw *model.DeadManSwitch, entries []model.SwitchAuditEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sw).Error; err != nil {
			return fmt.Errorf("failed to create switch: %w", err)
		}
		if len(entries) > 0 {
			if err := tx.Create(&entries).Error; err != nil {
				return fmt.Errorf("failed to append audit entries: %w", err)
			}
		}
		return nil
	})
}

func (s *GormSwitchStore) Get(ctx context.Context, id string) (*model.DeadManSwitch, error) {
	var sw model.DeadManSwitch
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sw).Error; err != nil {
		return nil, notFound(err, "switch", id)
	}
	return &sw, nil
}

func (s *GormSwitchStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.DeadManSwitch, error) {
	var out []*model.DeadManSwitch
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list switches: %w", err)
	}
	return out, nil
}

func (s *GormSwitchStore) ListMonitored(ctx context.Context) ([]*model.DeadManSwitch, error) {
	var out []*model.DeadManSwitch
	err := s.db.WithContext(ctx).
		Where("state <> ?", model.SwitchStateDisabled).
		Where("NOT (state = ? AND release->>'completed_at' IS NOT NULL)", model.SwitchStateTriggered).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list monitored switches: %w", err)
	}
	return out, nil
}

func (s *GormSwitchStore) Save(ctx context.Context, sw *model.DeadManSwitch, expectedVersion int64, entries []model.SwitchAuditEntry) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sw.Version = expectedVersion + 1
		res := tx.Model(sw).
			Where("version = ?", expectedVersion).
			Select("*").
			Omit("created_at").
			Updates(sw)
		if res.Error != nil {
			return fmt.Errorf("failed to save switch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: switch %s version %d", errors.Conflict, sw.ID, expectedVersion)
		}
		if len(entries) > 0 {
			if err := tx.Create(&entries).Error; err != nil {
				return fmt.Errorf("failed to append audit entries: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		sw.Version = expectedVersion
	}
	return err
}

func (s *GormSwitchStore) Delete(ctx context.Context, sw *model.DeadManSwitch, expectedVersion int64, entries []model.SwitchAuditEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND version = ?", sw.ID, expectedVersion).Delete(&model.DeadManSwitch{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete switch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: switch %s version %d", errors.Conflict, sw.ID, expectedVersion)
		}
		if len(entries) > 0 {
			if err := tx.Create(&entries).Error; err != nil {
				return fmt.Errorf("failed to append audit entries: %w", err)
			}
		}
		return nil
	})
}

func (s *GormSwitchStore) AuditTrail(ctx context.Context, switchID string) ([]model.SwitchAuditEntry, error) {
	var out []model.SwitchAuditEntry
	if err := s.db.WithContext(ctx).Where("switch_id = ?", switchID).Order("seq").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return out, nil
}

// GormTokenStore 令牌
type GormTokenStore struct {
	db *gorm.DB
}

func NewGormTokenStore(db *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: db}
}

func (s *GormTokenStore) Create(ctx context.Context, t *model.EmergencyAccessToken) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

func (s *GormTokenStore) Get(ctx context.Context, id string) (*model.EmergencyAccessToken, error) {
	var t model.EmergencyAccessToken
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err, "token", id)
	}
	return &t, nil
}

// IncrementUses 条件更新保证并发下总次数不超过 max_uses
func (s *GormTokenStore) IncrementUses(ctx context.Context, id string, now time.Time, entry *model.AccessLogEntry) (bool, error) {
	consumed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.EmergencyAccessToken{}).
			Where("id = ? AND current_uses < max_uses AND revoked_at IS NULL", id).
			Updates(map[string]interface{}{
				"current_uses": gorm.Expr("current_uses + 1"),
				"updated_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to increment token uses: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if entry != nil {
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("failed to append access log: %w", err)
			}
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

func (s *GormTokenStore) Revoke(ctx context.Context, id string, at time.Time, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&model.EmergencyAccessToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"revoked_at":    at,
			"revoke_reason": reason,
			"updated_at":    at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to revoke token: %w", res.Error)
	}
	return nil
}

func (s *GormTokenStore) Extend(ctx context.Context, id string, expiresAt, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.EmergencyAccessToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"expires_at": expiresAt,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to extend token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormTokenStore) Activate(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.EmergencyAccessToken{}).
		Where("id = ? AND revoked_at IS NULL AND activated_at IS NULL", id).
		Updates(map[string]interface{}{
			"activated_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to activate token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormTokenStore) ListBySwitch(ctx context.Context, switchID string) ([]*model.EmergencyAccessToken, error) {
	var out []*model.EmergencyAccessToken
	if err := s.db.WithContext(ctx).Where("switch_id = ?", switchID).Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return out, nil
}

func (s *GormTokenStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.EmergencyAccessToken, error) {
	var out []*model.EmergencyAccessToken
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return out, nil
}

// GormAccessLogStore 访问日志
type GormAccessLogStore struct {
	db *gorm.DB
}

func NewGormAccessLogStore(db *gorm.DB) *GormAccessLogStore {
	return &GormAccessLogStore{db: db}
}

func (s *GormAccessLogStore) Append(ctx context.Context, e *model.AccessLogEntry) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to append access log: %w", err)
	}
	return nil
}

func (s *GormAccessLogStore) ListByToken(ctx context.Context, tokenID string, limit int) ([]model.AccessLogEntry, error) {
	var out []model.AccessLogEntry
	q := s.db.WithContext(ctx).Where("token_id = ?", tokenID).Order("occurred_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list access logs: %w", err)
	}
	return out, nil
}

// GormTriggerStore 触发规则相关
type GormTriggerStore struct {
	db *gorm.DB
}

func NewGormTriggerStore(db *gorm.DB) *GormTriggerStore {
	return &GormTriggerStore{db: db}
}

func (s *GormTriggerStore) SaveDefinition(ctx context.Context, d *model.TriggerDefinition) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "params", "enabled", "updated_at"}),
	}).Create(d).Error
	if err != nil {
		return fmt.Errorf("failed to save trigger definition: %w", err)
	}
	return nil
}

func (s *GormTriggerStore) ListDefinitions(ctx context.Context, userID string) ([]model.TriggerDefinition, error) {
	var out []model.TriggerDefinition
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list trigger definitions: %w", err)
	}
	return out, nil
}

func (s *GormTriggerStore) DeleteDefinition(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&model.TriggerDefinition{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete trigger definition: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: trigger %s", errors.NotFound, id)
	}
	return nil
}

func (s *GormTriggerStore) AppendResults(ctx context.Context, userID string, results []model.TriggerEvaluationResult, retain int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(results) > 0 {
			if err := tx.Create(&results).Error; err != nil {
				return fmt.Errorf("failed to append evaluation results: %w", err)
			}
		}
		if retain <= 0 {
			return nil
		}
		keep := tx.Model(&model.TriggerEvaluationResult{}).
			Select("id").
			Where("user_id = ?", userID).
			Order("evaluated_at DESC, id DESC").
			Limit(retain)
		err := tx.Where("user_id = ? AND id NOT IN (?)", userID, keep).
			Delete(&model.TriggerEvaluationResult{}).Error
		if err != nil {
			return fmt.Errorf("failed to trim evaluation history: %w", err)
		}
		return nil
	})
}

func (s *GormTriggerStore) History(ctx context.Context, userID string, limit int) ([]model.TriggerEvaluationResult, error) {
	var out []model.TriggerEvaluationResult
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("evaluated_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load evaluation history: %w", err)
	}
	return out, nil
}

func (s *GormTriggerStore) UpsertSchedule(ctx context.Context, sc *model.EvaluationSchedule) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"frequency", "enabled", "next_run_at", "last_run_at", "updated_at"}),
	}).Create(sc).Error
	if err != nil {
		return fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return nil
}

func (s *GormTriggerStore) AdvanceSchedule(ctx context.Context, read model.EvaluationSchedule, lastRun, nextRun time.Time) (bool, error) {
	// UpdateColumns 不改 updated_at，用户侧修改仍以它为准
	result := s.db.WithContext(ctx).Model(&model.EvaluationSchedule{}).
		Where("user_id = ? AND enabled = ? AND frequency = ? AND next_run_at = ? AND updated_at = ?",
			read.UserID, true, read.Frequency, read.NextRunAt, read.UpdatedAt).
		UpdateColumns(map[string]interface{}{
			"last_run_at": lastRun,
			"next_run_at": nextRun,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to advance schedule: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *GormTriggerStore) GetSchedule(ctx context.Context, userID string) (*model.EvaluationSchedule, error) {
	var sc model.EvaluationSchedule
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sc).Error; err != nil {
		return nil, notFound(err, "schedule", userID)
	}
	return &sc, nil
}

func (s *GormTriggerStore) DueSchedules(ctx context.Context, now time.Time, limit int) ([]model.EvaluationSchedule, error) {
	var out []model.EvaluationSchedule
	q := s.db.WithContext(ctx).Where("enabled = ? AND next_run_at <= ?", true, now).Order("next_run_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load due schedules: %w", err)
	}
	return out, nil
}

func (s *GormTriggerStore) AddSignal(ctx context.Context, sig *model.ExternalSignal) error {
	if err := s.db.WithContext(ctx).Create(sig).Error; err != nil {
		return fmt.Errorf("failed to add external signal: %w", err)
	}
	return nil
}

func (s *GormTriggerStore) ListSignals(ctx context.Context, userID string, since time.Time) ([]model.ExternalSignal, error) {
	var out []model.ExternalSignal
	if err := s.db.WithContext(ctx).Where("user_id = ? AND observed_at >= ?", userID, since).Order("observed_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list external signals: %w", err)
	}
	return out, nil
}

// GormReleaseStore 释放产物，按主键幂等写入
type GormReleaseStore struct {
	db *gorm.DB
}

func NewGormReleaseStore(db *gorm.DB) *GormReleaseStore {
	return &GormReleaseStore{db: db}
}

func (s *GormReleaseStore) CreateGrant(ctx context.Context, g *model.AccessGrant) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(g).Error; err != nil {
		return fmt.Errorf("failed to create access grant: %w", err)
	}
	return nil
}

func (s *GormReleaseStore) ListGrants(ctx context.Context, switchID string) ([]model.AccessGrant, error) {
	var out []model.AccessGrant
	if err := s.db.WithContext(ctx).Where("switch_id = ?", switchID).Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list access grants: %w", err)
	}
	return out, nil
}

func (s *GormReleaseStore) CreateOverride(ctx context.Context, o *model.EmergencyOverride) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(o).Error; err != nil {
		return fmt.Errorf("failed to create emergency override: %w", err)
	}
	return nil
}

func (s *GormReleaseStore) ListOverrides(ctx context.Context, switchID string) ([]model.EmergencyOverride, error) {
	var out []model.EmergencyOverride
	if err := s.db.WithContext(ctx).Where("switch_id = ?", switchID).Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list emergency overrides: %w", err)
	}
	return out, nil
}

func (s *GormReleaseStore) AppendCompliance(ctx context.Context, e *model.ComplianceAuditEvent) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to append compliance event: %w", err)
	}
	return nil
}

func (s *GormReleaseStore) ListCompliance(ctx context.Context, subjectID string) ([]model.ComplianceAuditEvent, error) {
	var out []model.ComplianceAuditEvent
	if err := s.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("occurred_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list compliance events: %w", err)
	}
	return out, nil
}
