package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"LegacyVault/internal/deadman"
	"LegacyVault/internal/model"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/release"
	"LegacyVault/internal/repository"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/snowflake"
)

// 版本冲突重试上限，冲突说明别的写入者（签到或巡检）刚提交过
const maxCommitAttempts = 5

type SwitchService struct {
	store      repository.SwitchStore
	audit      release.AuditLogger
	logger     *zap.Logger
	nowFn      func() time.Time
	idFn       func() (string, error)
	maxHoliday time.Duration
}

type SwitchOption func(*SwitchService)

func WithSwitchClock(nowFn func() time.Time) SwitchOption {
	return func(s *SwitchService) { s.nowFn = nowFn }
}

func WithSwitchIDs(idFn func() (string, error)) SwitchOption {
	return func(s *SwitchService) { s.idFn = idFn }
}

func WithMaxHoliday(d time.Duration) SwitchOption {
	return func(s *SwitchService) { s.maxHoliday = d }
}

// WithComplianceLog 开关生命周期事件同时写入合规审计
func WithComplianceLog(audit release.AuditLogger) SwitchOption {
	return func(s *SwitchService) { s.audit = audit }
}

func NewSwitchService(store repository.SwitchStore, logger *zap.Logger, opts ...SwitchOption) *SwitchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SwitchService{
		store:      store,
		logger:     logger,
		nowFn:      time.Now,
		idFn:       snowflake.NextString,
		maxHoliday: deadman.DefaultMaxHolidayDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSwitch 新开关处于 disabled，除非请求里要求立即启用
func (s *SwitchService) CreateSwitch(ctx context.Context, ownerID string, req dto.CreateSwitchRequest) (*model.DeadManSwitch, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", errors.InvalidRequest)
	}

	cfg := deadman.Normalize(req.Config, s.maxHoliday)
	if err := deadman.ValidateConfig(cfg, s.maxHoliday); err != nil {
		return nil, err
	}

	id, err := s.idFn()
	if err != nil {
		return nil, fmt.Errorf("failed to generate switch id: %w", err)
	}

	now := s.nowFn()
	actor := deadman.OwnerActor(ownerID)
	sw := &model.DeadManSwitch{
		ID:             id,
		OwnerID:        ownerID,
		Name:           req.Name,
		State:          model.SwitchStateDisabled,
		Config:         cfg,
		LastCheckInAt:  now,
		HolidayWindows: model.HolidayWindows{},
	}
	sw.CreatedAt = now
	sw.UpdatedAt = now

	entries := []model.SwitchAuditEntry{
		deadman.Record(sw, now, model.SwitchStateDisabled, model.AuditReasonCreated, actor, model.AuditResultSuccess, ""),
	}
	if req.Enable {
		if e, changed := deadman.Enable(sw, now, actor); changed {
			entries = append(entries, e)
		}
	}

	if err := s.store.Create(ctx, sw, entries); err != nil {
		return nil, err
	}

	s.logger.Info("Switch created",
		zap.String("switch_id", sw.ID),
		zap.String("owner_id", ownerID),
		zap.String("state", string(sw.State)),
	)
	s.compliance(ctx, sw, actor, "switch_created", nil)
	return sw, nil
}

func (s *SwitchService) load(ctx context.Context, ownerID, id string) (*model.DeadManSwitch, error) {
	sw, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sw.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: switch %s is not owned by %s", errors.Forbidden, id, ownerID)
	}
	return sw, nil
}

// mutate 读取最新状态、应用变更、带版本提交；冲突时整体重来
func (s *SwitchService) mutate(
	ctx context.Context,
	ownerID, id string,
	apply func(sw *model.DeadManSwitch, now time.Time) ([]model.SwitchAuditEntry, error),
) (*model.DeadManSwitch, error) {
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		sw, err := s.load(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}

		expected := sw.Version
		entries, err := apply(sw, s.nowFn())
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return sw, nil
		}

		err = s.store.Save(ctx, sw, expected, entries)
		if err == nil {
			return sw, nil
		}
		if !errors.Is(err, errors.Conflict) {
			return nil, err
		}

		s.logger.Debug("Switch changed concurrently, retrying",
			zap.String("switch_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("%w: switch %s kept changing", errors.Conflict, id)
}

func (s *SwitchService) GetSwitch(ctx context.Context, ownerID, id string) (*dto.SwitchData, error) {
	sw, err := s.load(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return s.describe(sw), nil
}

func (s *SwitchService) describe(sw *model.DeadManSwitch) *dto.SwitchData {
	now := s.nowFn()
	data := &dto.SwitchData{DeadManSwitch: sw}
	if sw.State.Monitored() {
		data.EffectiveElapsed = model.Duration(deadman.EffectiveElapsed(sw, now))
	}
	if w, ok := deadman.ActiveHoliday(sw, now); ok {
		data.ActiveHoliday = &w
	}
	return data
}

func (s *SwitchService) ListSwitches(ctx context.Context, ownerID string) ([]*dto.SwitchData, error) {
	list, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.SwitchData, 0, len(list))
	for _, sw := range list {
		out = append(out, s.describe(sw))
	}
	return out, nil
}

// UpdateConfiguration triggered 状态下拒绝，必须先 reset
func (s *SwitchService) UpdateConfiguration(ctx context.Context, ownerID, id string, cfg model.SwitchConfig) (*model.DeadManSwitch, error) {
	return s.mutate(ctx, ownerID, id, func(sw *model.DeadManSwitch, now time.Time) ([]model.SwitchAuditEntry, error) {
		e, err := deadman.UpdateConfig(sw, cfg, now, deadman.OwnerActor(ownerID), s.maxHoliday)
		if err != nil {
			return nil, err
		}
		return []model.SwitchAuditEntry{e}, nil
	})
}

func (s *SwitchService) EnableSwitch(ctx context.Context, ownerID, id string) (*model.DeadManSwitch, error) {
	return s.mutate(ctx, ownerID, id, func(sw *model.DeadManSwitch, now time.Time) ([]model.SwitchAuditEntry, error) {
		if e, changed := deadman.Enable(sw, now, deadman.OwnerActor(ownerID)); changed {
			return []model.SwitchAuditEntry{e}, nil
		}
		return nil, nil
	})
}

// DisableSwitch 已执行的通知和授权不会撤回
func (s *SwitchService) DisableSwitch(ctx context.Context, ownerID, id string) (*model.DeadManSwitch, error) {
	sw, err := s.mutate(ctx, ownerID, id, func(sw *model.DeadManSwitch, now time.Time) ([]model.SwitchAuditEntry, error) {
		if e, changed := deadman.Disable(sw, now, deadman.OwnerActor(ownerID)); changed {
			return []model.SwitchAuditEntry{e}, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Switch disabled", zap.String("switch_id", id), zap.String("owner_id", ownerID))
	return sw, nil
}

// ResetSwitch triggered -> armed，重新计时
func (s *SwitchService) ResetSwitch(ctx context.Context, ownerID, id, reason string) (*model.DeadManSwitch, error) {
	actor := deadman.OwnerActor(ownerID)
	sw, err := s.mutate(ctx, ownerID, id, func(sw *model.DeadManSwitch, now time.Time) ([]model.SwitchAuditEntry, error) {
		e, err := deadman.Reset(sw, now, actor, reason)
		if err != nil {
			return nil, err
		}
		return []model.SwitchAuditEntry{e}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("Triggered switch reset", zap.String("switch_id", id), zap.String("owner_id", ownerID))
	s.compliance(ctx, sw, actor, "switch_reset", map[string]interface{}{"reason": reason})
	return sw, nil
}

// DeleteSwitch 删除开关，审计链保留
func (s *SwitchService) DeleteSwitch(ctx context.Context, ownerID, id string) error {
	actor := deadman.OwnerActor(ownerID)
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		sw, err := s.load(ctx, ownerID, id)
		if err != nil {
			return err
		}
		expected := sw.Version
		entry := deadman.Record(sw, s.nowFn(), sw.State, model.AuditReasonDeleted, actor, model.AuditResultSuccess, "")

		err = s.store.Delete(ctx, sw, expected, []model.SwitchAuditEntry{entry})
		if err == nil {
			s.logger.Info("Switch deleted", zap.String("switch_id", id), zap.String("owner_id", ownerID))
			s.compliance(ctx, sw, actor, "switch_deleted", nil)
			return nil
		}
		if !errors.Is(err, errors.Conflict) {
			return err
		}
	}
	return fmt.Errorf("%w: switch %s kept changing", errors.Conflict, id)
}

// RecordCheckIn 签到与巡检并发时以版本冲突重读的方式保证签到生效
func (s *SwitchService) RecordCheckIn(ctx context.Context, switchID, userID string, method model.CheckInMethod, metadata model.CheckInMetadata) (*model.DeadManSwitch, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown check-in method %q", errors.InvalidRequest, method)
	}

	var from model.SwitchState
	sw, err := s.mutate(ctx, userID, switchID, func(sw *model.DeadManSwitch, now time.Time) ([]model.SwitchAuditEntry, error) {
		from = sw.State
		e, err := deadman.ApplyCheckIn(sw, model.CheckIn{
			SwitchID:  switchID,
			UserID:    userID,
			Method:    method,
			Timestamp: now,
			Metadata:  metadata,
		})
		if err != nil {
			return nil, err
		}
		return []model.SwitchAuditEntry{e}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Check-in recorded",
		zap.String("switch_id", switchID),
		zap.String("method", string(method)),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(sw.State)),
	)
	return sw, nil
}

// ActivateHolidayMode 只影响之后的经过时间计算，不改变状态
func (s *SwitchService) ActivateHolidayMode(ctx context.Context, ownerID, id string, req dto.HolidayRequest) (*model.DeadManSwitch, error) {
	w := model.HolidayWindow{Start: req.Start, End: req.End, Reason: req.Reason, Note: req.Note}
	return s.mutate(ctx, ownerID, id, func(sw *model.DeadManSwitch, now time.Time) ([]model.SwitchAuditEntry, error) {
		e, err := deadman.ActivateHoliday(sw, w, now, deadman.OwnerActor(ownerID))
		if err != nil {
			return nil, err
		}
		return []model.SwitchAuditEntry{e}, nil
	})
}

// GetAuditTrail 按序返回审计链并校验哈希
func (s *SwitchService) GetAuditTrail(ctx context.Context, ownerID, id string) (*dto.AuditTrailData, error) {
	if _, err := s.load(ctx, ownerID, id); err != nil {
		return nil, err
	}
	entries, err := s.store.AuditTrail(ctx, id)
	if err != nil {
		return nil, err
	}

	verified := true
	if err := deadman.VerifyChain(entries); err != nil {
		verified = false
		s.logger.Error("Audit chain verification failed", zap.String("switch_id", id), zap.Error(err))
	}
	return &dto.AuditTrailData{Entries: entries, Verified: verified}, nil
}

func (s *SwitchService) compliance(ctx context.Context, sw *model.DeadManSwitch, actor, action string, detail map[string]interface{}) {
	if s.audit == nil {
		return
	}
	err := s.audit.AppendAuditLog(ctx, release.AuditEvent{
		Category:   release.CategorySwitch,
		Action:     action,
		SubjectID:  sw.ID,
		OwnerID:    sw.OwnerID,
		Actor:      actor,
		Detail:     detail,
		OccurredAt: s.nowFn(),
	})
	if err != nil {
		s.logger.Warn("Failed to append compliance event",
			zap.String("switch_id", sw.ID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
