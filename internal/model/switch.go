package model

import (
	"database/sql/driver"
	"sort"
	"time"
)

// SwitchState 开关状态
type SwitchState string

const (
	SwitchStateDisabled  SwitchState = "disabled"
	SwitchStateArmed     SwitchState = "armed"
	SwitchStateWarning   SwitchState = "warning"
	SwitchStateGrace     SwitchState = "grace"
	SwitchStateTriggered SwitchState = "triggered"
)

// Rank 用于比较推进程度，disabled 不参与比较
func (s SwitchState) Rank() int {
	switch s {
	case SwitchStateArmed:
		return 1
	case SwitchStateWarning:
		return 2
	case SwitchStateGrace:
		return 3
	case SwitchStateTriggered:
		return 4
	default:
		return 0
	}
}

func (s SwitchState) Valid() bool {
	return s == SwitchStateDisabled || s.Rank() > 0
}

// Monitored 是否由 Monitor 处理
func (s SwitchState) Monitored() bool {
	return s.Rank() > 0
}

// NotifyChannel 通知渠道
type NotifyChannel string

const (
	NotifyChannelSMS     NotifyChannel = "sms"
	NotifyChannelWebhook NotifyChannel = "webhook"
)

type Recipient struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Channel NotifyChannel `json:"channel"`
	Address string        `json:"address"` // 手机号或 webhook 地址
}

// StageAction 升级阶段的通知对象
type StageAction string

const (
	StageActionNotifyOwner    StageAction = "notify_owner"
	StageActionNotifyContacts StageAction = "notify_contacts"
)

type EscalationStage struct {
	Delay      Duration    `json:"delay"` // 相对最近一次签到
	Recipients []Recipient `json:"recipients"`
	Action     StageAction `json:"action"`
	Template   string      `json:"template"`
}

// GrantPlan 触发后创建的延时访问授权
type GrantPlan struct {
	BeneficiaryID string `json:"beneficiary_id"`
	ResourceType  string `json:"resource_type"` // vault, folder, document
	ResourceID    string `json:"resource_id,omitempty"`
	DelayHours    *int   `json:"delay_hours,omitempty"` // 为空时使用 Monitor 配置
}

// OverrideType 紧急覆盖类型
type OverrideType string

const (
	OverrideTypeFull      OverrideType = "full"
	OverrideTypePartial   OverrideType = "partial"
	OverrideTypeTemporary OverrideType = "temporary"
)

type OverridePlan struct {
	OverrideType    OverrideType `json:"override_type"`
	BeneficiaryID   string       `json:"beneficiary_id,omitempty"`
	ExpirationHours *int         `json:"expiration_hours,omitempty"`
}

type ReleasePlan struct {
	Grants         []GrantPlan   `json:"grants,omitempty"`
	Override       *OverridePlan `json:"override,omitempty"`
	ActivateTokens bool          `json:"activate_tokens"` // 激活所有者预先签发、绑定此开关的令牌
}

// SwitchConfig 开关配置（JSONB）
type SwitchConfig struct {
	CheckInInterval    Duration          `json:"check_in_interval"`
	WarningThreshold   Duration          `json:"warning_threshold"`
	GracePeriod        Duration          `json:"grace_period"`
	EscalationStages   []EscalationStage `json:"escalation_stages"`
	WarningRecipients  []Recipient       `json:"warning_recipients,omitempty"`
	WarningTemplate    string            `json:"warning_template,omitempty"`
	MaxHolidayDuration Duration          `json:"max_holiday_duration"`
	Refreshable        bool              `json:"refreshable"`
	Release            ReleasePlan       `json:"release"`
}

func (c SwitchConfig) Value() (driver.Value, error) {
	return jsonValue(c)
}

func (c *SwitchConfig) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// HolidayReason 假期原因
type HolidayReason string

const (
	HolidayReasonVacation HolidayReason = "vacation"
	HolidayReasonMedical  HolidayReason = "medical"
	HolidayReasonTravel   HolidayReason = "travel"
	HolidayReasonOther    HolidayReason = "other"
)

func (r HolidayReason) Valid() bool {
	switch r {
	case HolidayReasonVacation, HolidayReasonMedical, HolidayReasonTravel, HolidayReasonOther:
		return true
	}
	return false
}

type HolidayWindow struct {
	Start  time.Time     `json:"start"`
	End    time.Time     `json:"end"`
	Reason HolidayReason `json:"reason"`
	Note   string        `json:"note,omitempty"`
}

func (w HolidayWindow) Overlaps(o HolidayWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// HolidayWindows 按开始时间排序且互不重叠
type HolidayWindows []HolidayWindow

func (h HolidayWindows) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	return jsonValue([]HolidayWindow(h))
}

func (h *HolidayWindows) Scan(value interface{}) error {
	return scanJSON(value, h)
}

// Insert 返回插入后的新切片，保持有序
func (h HolidayWindows) Insert(w HolidayWindow) HolidayWindows {
	out := make(HolidayWindows, 0, len(h)+1)
	out = append(out, h...)
	out = append(out, w)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// ReleaseProgress 每次进入 triggered 后的释放执行进度
type ReleaseProgress struct {
	TriggeredAt *time.Time        `json:"triggered_at,omitempty"`
	Completed   map[string]string `json:"completed,omitempty"` // 条目 key -> 外部结果 ID
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func (p ReleaseProgress) Value() (driver.Value, error) {
	return jsonValue(p)
}

func (p *ReleaseProgress) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func (p ReleaseProgress) Done(key string) bool {
	_, ok := p.Completed[key]
	return ok
}

// DeadManSwitch 死手开关
type DeadManSwitch struct {
	BaseModel
	ID             string          `gorm:"primaryKey;type:varchar(32)" json:"id"`
	OwnerID        string          `gorm:"type:varchar(64);not null;index:idx_switch_owner" json:"owner_id"`
	Name           string          `gorm:"type:varchar(128);not null;default:''" json:"name"`
	State          SwitchState     `gorm:"type:varchar(16);not null;default:'disabled';index:idx_switch_state" json:"state"`
	Config         SwitchConfig    `gorm:"type:jsonb;not null" json:"config"`
	LastCheckInAt  time.Time       `gorm:"type:timestamptz" json:"last_check_in_at"`
	ArmedAt        time.Time       `gorm:"type:timestamptz" json:"armed_at"`
	HolidayWindows HolidayWindows  `gorm:"type:jsonb;not null;default:'[]'" json:"holiday_windows"`
	NotifiedLevel  int             `gorm:"not null;default:0" json:"notified_level"`
	Release        ReleaseProgress `gorm:"type:jsonb;not null;default:'{}'" json:"release"`
	Version        int64           `gorm:"not null;default:0" json:"version"`
	LastAuditHash  string          `gorm:"type:char(64);not null;default:''" json:"-"`
	LastAuditSeq   int64           `gorm:"not null;default:0" json:"-"`
}

// TableName 指定表名
func (DeadManSwitch) TableName() string {
	return "dead_man_switches"
}

// Clone 深拷贝，内存存储与状态机计算使用
func (s *DeadManSwitch) Clone() *DeadManSwitch {
	cp := *s
	cp.HolidayWindows = append(HolidayWindows(nil), s.HolidayWindows...)
	cp.Config.EscalationStages = append([]EscalationStage(nil), s.Config.EscalationStages...)
	cp.Config.WarningRecipients = append([]Recipient(nil), s.Config.WarningRecipients...)
	cp.Config.Release.Grants = append([]GrantPlan(nil), s.Config.Release.Grants...)
	if s.Release.Completed != nil {
		cp.Release.Completed = make(map[string]string, len(s.Release.Completed))
		for k, v := range s.Release.Completed {
			cp.Release.Completed[k] = v
		}
	}
	return &cp
}
