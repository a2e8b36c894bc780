package dto

import (
	"time"

	"LegacyVault/internal/model"
)

// CreateSwitchRequest 创建开关，默认处于 disabled
type CreateSwitchRequest struct {
	Name   string             `json:"name"`
	Config model.SwitchConfig `json:"config"`
	Enable bool               `json:"enable"`
}

type UpdateSwitchConfigRequest struct {
	Config model.SwitchConfig `json:"config"`
}

type CheckInRequest struct {
	Method   model.CheckInMethod   `json:"method"`
	Metadata model.CheckInMetadata `json:"metadata"`
}

type HolidayRequest struct {
	Start  time.Time           `json:"start"`
	End    time.Time           `json:"end"`
	Reason model.HolidayReason `json:"reason"`
	Note   string              `json:"note,omitempty"`
}

type ResetSwitchRequest struct {
	Reason string `json:"reason"`
}

// SwitchData 开关详情，附带按当前时间计算的有效经过时长
type SwitchData struct {
	*model.DeadManSwitch
	EffectiveElapsed model.Duration       `json:"effective_elapsed"`
	ActiveHoliday    *model.HolidayWindow `json:"active_holiday,omitempty"`
}

type AuditTrailData struct {
	Entries  []model.SwitchAuditEntry `json:"entries"`
	Verified bool                     `json:"verified"`
}
