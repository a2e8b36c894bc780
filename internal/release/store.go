package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"LegacyVault/internal/model"
	"LegacyVault/internal/repository"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/snowflake"
)

// StoreCollaborator 把授权、覆盖和合规审计落到本地库
type StoreCollaborator struct {
	store  repository.ReleaseStore
	logger *zap.Logger
	nowFn  func() time.Time
}

func NewStoreCollaborator(store repository.ReleaseStore, logger *zap.Logger) *StoreCollaborator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreCollaborator{store: store, logger: logger, nowFn: time.Now}
}

func (c *StoreCollaborator) WithClock(nowFn func() time.Time) *StoreCollaborator {
	c.nowFn = nowFn
	return c
}

// recordID 有幂等 key 时由 key 推导，重试不会产生第二条记录
func recordID(prefix, key string) (string, error) {
	if key == "" {
		id, err := snowflake.NextString()
		if err != nil {
			return "", fmt.Errorf("failed to generate id: %w", err)
		}
		return prefix + id, nil
	}
	sum := sha256.Sum256([]byte(key))
	return prefix + hex.EncodeToString(sum[:])[:28], nil
}

func (c *StoreCollaborator) CreateTimeDelayedAccessGrant(ctx context.Context, req GrantRequest) (string, error) {
	id, err := recordID("g_", req.IdempotencyKey)
	if err != nil {
		return "", err
	}

	now := c.nowFn()
	grant := &model.AccessGrant{
		ID:            id,
		SwitchID:      req.SwitchID,
		OwnerID:       req.OwnerID,
		BeneficiaryID: req.BeneficiaryID,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		AvailableAt:   now.Add(time.Duration(req.DelayHours) * time.Hour),
		Reason:        req.Reason,
		CreatedAt:     now,
	}
	if err := c.store.CreateGrant(ctx, grant); err != nil {
		return "", fmt.Errorf("%w: %v", errors.TransientDeliveryFailure, err)
	}

	c.logger.Info("Access grant created",
		zap.String("grant_id", id),
		zap.String("switch_id", req.SwitchID),
		zap.String("beneficiary_id", req.BeneficiaryID),
		zap.Int("delay_hours", req.DelayHours),
	)
	return id, nil
}

func (c *StoreCollaborator) CreateEmergencyOverride(ctx context.Context, req OverrideRequest) (string, error) {
	id, err := recordID("o_", req.IdempotencyKey)
	if err != nil {
		return "", err
	}

	now := c.nowFn()
	override := &model.EmergencyOverride{
		ID:            id,
		SwitchID:      req.SwitchID,
		OwnerID:       req.OwnerID,
		TriggeredBy:   req.TriggeredBy,
		Reason:        req.Reason,
		OverrideType:  req.OverrideType,
		BeneficiaryID: req.BeneficiaryID,
		ExpiresAt:     now.Add(time.Duration(req.ExpirationHours) * time.Hour),
		CreatedAt:     now,
	}
	if err := c.store.CreateOverride(ctx, override); err != nil {
		return "", fmt.Errorf("%w: %v", errors.TransientDeliveryFailure, err)
	}

	c.logger.Info("Emergency override created",
		zap.String("override_id", id),
		zap.String("switch_id", req.SwitchID),
		zap.String("override_type", string(req.OverrideType)),
	)
	return id, nil
}

func (c *StoreCollaborator) AppendAuditLog(ctx context.Context, event AuditEvent) error {
	id, err := snowflake.NextID()
	if err != nil {
		return fmt.Errorf("failed to generate audit id: %w", err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = c.nowFn()
	}

	e := &model.ComplianceAuditEvent{
		ID:         id,
		Category:   event.Category,
		Action:     event.Action,
		SubjectID:  event.SubjectID,
		OwnerID:    event.OwnerID,
		Actor:      event.Actor,
		Detail:     model.JSONB(event.Detail),
		OccurredAt: occurred,
	}
	if err := c.store.AppendCompliance(ctx, e); err != nil {
		return fmt.Errorf("failed to append compliance event: %w", err)
	}
	return nil
}
