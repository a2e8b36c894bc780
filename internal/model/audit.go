package model

import "time"

// AuditReason 审计原因
type AuditReason string

const (
	AuditReasonCreated           AuditReason = "created"
	AuditReasonEnabled           AuditReason = "enabled"
	AuditReasonDisabled          AuditReason = "disabled"
	AuditReasonCheckIn           AuditReason = "check_in"
	AuditReasonConfigUpdated     AuditReason = "config_updated"
	AuditReasonHolidayActivated  AuditReason = "holiday_activated"
	AuditReasonInactivityWarning AuditReason = "inactivity_warning"
	AuditReasonGraceStarted      AuditReason = "grace_started"
	AuditReasonTriggered         AuditReason = "triggered"
	AuditReasonReset             AuditReason = "reset"
	AuditReasonNotificationSent  AuditReason = "notification_sent"
	AuditReasonNotifyFailed      AuditReason = "notification_failed"
	AuditReasonReleaseExecuted   AuditReason = "release_executed"
	AuditReasonReleaseFailed     AuditReason = "release_failed"
	AuditReasonDeleted           AuditReason = "deleted"
)

// AuditResult 审计结果
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultWarning AuditResult = "warning"
)

const (
	ActorSystemMonitor = "system:monitor"
)

// SwitchAuditEntry 开关审计记录，只追加，通过 PrevHash/Hash 串成哈希链
type SwitchAuditEntry struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"-"`
	SwitchID  string      `gorm:"type:varchar(32);not null;uniqueIndex:idx_audit_switch_seq" json:"switch_id"`
	Seq       int64       `gorm:"not null;uniqueIndex:idx_audit_switch_seq" json:"seq"`
	OwnerID   string      `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Timestamp time.Time   `gorm:"type:timestamptz;not null" json:"timestamp"`
	FromState SwitchState `gorm:"type:varchar(16);not null" json:"from_state"`
	ToState   SwitchState `gorm:"type:varchar(16);not null" json:"to_state"`
	Reason    AuditReason `gorm:"type:varchar(32);not null" json:"reason"`
	Actor     string      `gorm:"type:varchar(96);not null" json:"actor"`
	Result    AuditResult `gorm:"type:varchar(16);not null" json:"result"`
	Detail    string      `gorm:"type:text;not null;default:''" json:"detail,omitempty"`
	PrevHash  string      `gorm:"type:char(64);not null;default:''" json:"prev_hash"`
	Hash      string      `gorm:"type:char(64);not null" json:"hash"`
}

// TableName 指定表名
func (SwitchAuditEntry) TableName() string {
	return "switch_audit_entries"
}

// ComplianceAuditEvent 跨模块合规审计事件
type ComplianceAuditEvent struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	Category   string    `gorm:"type:varchar(32);not null;index" json:"category"`
	Action     string    `gorm:"type:varchar(64);not null" json:"action"`
	SubjectID  string    `gorm:"type:varchar(64);not null;index" json:"subject_id"`
	OwnerID    string    `gorm:"type:varchar(64);not null;default:''" json:"owner_id"`
	Actor      string    `gorm:"type:varchar(96);not null" json:"actor"`
	Detail     JSONB     `gorm:"type:jsonb" json:"detail,omitempty"`
	OccurredAt time.Time `gorm:"type:timestamptz;not null" json:"occurred_at"`
}

// TableName 指定表名
func (ComplianceAuditEvent) TableName() string {
	return "compliance_audit_events"
}
