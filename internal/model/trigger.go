package model

import (
	"database/sql/driver"
	"time"
)

// RuleKind 触发规则类型
type RuleKind string

const (
	RuleKindInactivity        RuleKind = "inactivity"
	RuleKindSwitchState       RuleKind = "switch_state"
	RuleKindMissedCheckIns    RuleKind = "missed_check_ins"
	RuleKindExternalSignal    RuleKind = "external_signal"
	RuleKindManualDeclaration RuleKind = "manual_declaration"
)

// ReasonCode 规则结果原因码
type ReasonCode string

const (
	ReasonNoSwitches           ReasonCode = "no_switches"
	ReasonNeverCheckedIn       ReasonCode = "never_checked_in"
	ReasonInactivityExceeded   ReasonCode = "inactivity_exceeded"
	ReasonInactivityWithin     ReasonCode = "inactivity_within_limit"
	ReasonSwitchTriggered      ReasonCode = "switch_triggered"
	ReasonSwitchGrace          ReasonCode = "switch_in_grace"
	ReasonSwitchWarning        ReasonCode = "switch_in_warning"
	ReasonSwitchNominal        ReasonCode = "switch_nominal"
	ReasonCheckInsMissed       ReasonCode = "check_ins_missed"
	ReasonSignalMatched        ReasonCode = "external_signal_matched"
	ReasonSignalBelowThreshold ReasonCode = "external_signal_below_threshold"
	ReasonNoSignals            ReasonCode = "no_signals"
	ReasonDeclarationReceived  ReasonCode = "manual_declaration_received"
	ReasonDeclarationMissing   ReasonCode = "no_manual_declaration"
	ReasonRuleError            ReasonCode = "rule_error"
)

// RuleParams 各规则的参数，按 Kind 取用对应字段
type RuleParams struct {
	InactivityAfter     Duration    `json:"inactivity_after,omitempty" yaml:"inactivity_after,omitempty"`
	MinState            SwitchState `json:"min_state,omitempty" yaml:"min_state,omitempty"`
	MissedCheckIns      int         `json:"missed_check_ins,omitempty" yaml:"missed_check_ins,omitempty"`
	SignalTypes         []string    `json:"signal_types,omitempty" yaml:"signal_types,omitempty"`
	MinSignalConfidence float64     `json:"min_signal_confidence,omitempty" yaml:"min_signal_confidence,omitempty"`
	SignalMaxAge        Duration    `json:"signal_max_age,omitempty" yaml:"signal_max_age,omitempty"`
}

func (p RuleParams) Value() (driver.Value, error) {
	return jsonValue(p)
}

func (p *RuleParams) Scan(value interface{}) error {
	return scanJSON(value, p)
}

// TriggerDefinition 用户注册的触发规则
type TriggerDefinition struct {
	BaseModel
	ID      string     `gorm:"primaryKey;type:varchar(32)" json:"id" yaml:"id"`
	UserID  string     `gorm:"type:varchar(64);not null;index" json:"user_id" yaml:"-"`
	Name    string     `gorm:"type:varchar(128);not null;default:''" json:"name" yaml:"name"`
	Kind    RuleKind   `gorm:"type:varchar(32);not null" json:"kind" yaml:"kind"`
	Params  RuleParams `gorm:"type:jsonb;not null;default:'{}'" json:"params" yaml:"params"`
	Enabled bool       `gorm:"not null;default:true" json:"enabled" yaml:"enabled"`
}

// TableName 指定表名
func (TriggerDefinition) TableName() string {
	return "trigger_definitions"
}

// TriggerEvaluationResult 单条规则的评估结果
type TriggerEvaluationResult struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	TriggerID   string     `gorm:"type:varchar(32);not null" json:"trigger_id"`
	UserID      string     `gorm:"type:varchar(64);not null;index:idx_eval_user_time" json:"user_id"`
	Kind        RuleKind   `gorm:"type:varchar(32);not null" json:"kind"`
	Triggered   bool       `gorm:"not null" json:"triggered"`
	Confidence  float64    `gorm:"not null" json:"confidence"`
	EvaluatedAt time.Time  `gorm:"type:timestamptz;not null;index:idx_eval_user_time" json:"evaluated_at"`
	ReasonCodes StringList `gorm:"type:jsonb;not null;default:'[]'" json:"reason_codes"`
}

// TableName 指定表名
func (TriggerEvaluationResult) TableName() string {
	return "trigger_evaluation_results"
}

// EvaluationFrequency 评估频率
type EvaluationFrequency string

const (
	FrequencyRealtime EvaluationFrequency = "realtime"
	FrequencyMinute   EvaluationFrequency = "minute"
	FrequencyHourly   EvaluationFrequency = "hourly"
	FrequencyDaily    EvaluationFrequency = "daily"
	FrequencyWeekly   EvaluationFrequency = "weekly"
)

// Period realtime 返回 0，表示每次驱动都执行
func (f EvaluationFrequency) Period() (time.Duration, bool) {
	switch f {
	case FrequencyRealtime:
		return 0, true
	case FrequencyMinute:
		return time.Minute, true
	case FrequencyHourly:
		return time.Hour, true
	case FrequencyDaily:
		return 24 * time.Hour, true
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// EvaluationSchedule 每个用户一条
type EvaluationSchedule struct {
	UserID    string              `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Frequency EvaluationFrequency `gorm:"type:varchar(16);not null" json:"frequency"`
	Enabled   bool                `gorm:"not null;default:true" json:"enabled"`
	NextRunAt time.Time           `gorm:"type:timestamptz;not null;index" json:"next_run_at"`
	LastRunAt *time.Time          `gorm:"type:timestamptz" json:"last_run_at,omitempty"`
	UpdatedAt time.Time           `gorm:"not null;default:now()" json:"updated_at"`
}

// TableName 指定表名
func (EvaluationSchedule) TableName() string {
	return "evaluation_schedules"
}

// SignalType 外部信号类型
type SignalType string

const (
	SignalTypeObituaryMatch     SignalType = "obituary_match"
	SignalTypeDeathCertificate  SignalType = "death_certificate"
	SignalTypeHospitalReport    SignalType = "hospital_report"
	SignalTypeManualDeclaration SignalType = "manual_declaration"
)

// ExternalSignal 外部来源上报的信号
type ExternalSignal struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	UserID     string     `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Type       SignalType `gorm:"type:varchar(32);not null" json:"type"`
	Source     string     `gorm:"type:varchar(64);not null;default:''" json:"source"`
	ReportedBy string     `gorm:"type:varchar(64);not null;default:''" json:"reported_by"`
	Confidence float64    `gorm:"not null" json:"confidence"`
	ObservedAt time.Time  `gorm:"type:timestamptz;not null" json:"observed_at"`
}

// TableName 指定表名
func (ExternalSignal) TableName() string {
	return "external_signals"
}
