// Package release 触发后的外部协作方：延时授权、紧急覆盖、通知投递、合规审计。
package release

import (
	"context"
	"time"

	"LegacyVault/internal/model"
)

type GrantRequest struct {
	// IdempotencyKey 相同 key 只会生成一条授权
	IdempotencyKey string
	SwitchID       string
	OwnerID        string
	BeneficiaryID  string
	ResourceType   string
	ResourceID     string
	DelayHours     int
	Reason         string
}

type OverrideRequest struct {
	IdempotencyKey  string
	SwitchID        string
	OwnerID         string
	TriggeredBy     string
	Reason          string
	OverrideType    model.OverrideType
	BeneficiaryID   string
	ExpirationHours int
}

type Notification struct {
	MessageID  string
	SwitchID   string
	OwnerID    string
	Level      int
	Category   string
	Template   string
	Recipients []model.Recipient
	Payload    map[string]string
}

type AuditEvent struct {
	Category   string
	Action     string
	SubjectID  string
	OwnerID    string
	Actor      string
	Detail     map[string]interface{}
	OccurredAt time.Time
}

type GrantCreator interface {
	CreateTimeDelayedAccessGrant(ctx context.Context, req GrantRequest) (string, error)
}

type OverrideCreator interface {
	CreateEmergencyOverride(ctx context.Context, req OverrideRequest) (string, error)
}

// Notifier 投递失败应返回 errors.TransientDeliveryFailure
type Notifier interface {
	DeliverNotification(ctx context.Context, n Notification) error
}

type AuditLogger interface {
	AppendAuditLog(ctx context.Context, event AuditEvent) error
}

// TokenActivator 激活绑定在开关上、等待触发的令牌
type TokenActivator interface {
	ActivateSwitchTokens(ctx context.Context, switchID string) (int, error)
}

// 合规审计分类
const (
	CategorySwitch  = "switch"
	CategoryToken   = "token"
	CategoryRelease = "release"
	CategoryTrigger = "trigger"
)
