package model

import "time"

// AccessGrant 触发后创建的延时访问授权
type AccessGrant struct {
	ID            string    `gorm:"primaryKey;type:varchar(32)" json:"id"`
	SwitchID      string    `gorm:"type:varchar(32);not null;index" json:"switch_id"`
	OwnerID       string    `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	BeneficiaryID string    `gorm:"type:varchar(64);not null;index" json:"beneficiary_id"`
	ResourceType  string    `gorm:"type:varchar(32);not null" json:"resource_type"`
	ResourceID    string    `gorm:"type:varchar(64);not null;default:''" json:"resource_id,omitempty"`
	AvailableAt   time.Time `gorm:"type:timestamptz;not null" json:"available_at"`
	Reason        string    `gorm:"type:varchar(255);not null" json:"reason"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
}

// TableName 指定表名
func (AccessGrant) TableName() string {
	return "access_grants"
}

// EmergencyOverride 紧急覆盖
type EmergencyOverride struct {
	ID            string       `gorm:"primaryKey;type:varchar(32)" json:"id"`
	SwitchID      string       `gorm:"type:varchar(32);not null;index" json:"switch_id"`
	OwnerID       string       `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	TriggeredBy   string       `gorm:"type:varchar(96);not null" json:"triggered_by"`
	Reason        string       `gorm:"type:varchar(255);not null" json:"reason"`
	OverrideType  OverrideType `gorm:"type:varchar(16);not null" json:"override_type"`
	BeneficiaryID string       `gorm:"type:varchar(64);not null;default:''" json:"beneficiary_id,omitempty"`
	ExpiresAt     time.Time    `gorm:"type:timestamptz;not null" json:"expires_at"`
	CreatedAt     time.Time    `gorm:"not null;default:now()" json:"created_at"`
}

// TableName 指定表名
func (EmergencyOverride) TableName() string {
	return "emergency_overrides"
}
