package dto

import "time"

type MonitorConfigRequest struct {
	IntervalSeconds         *int `json:"interval_seconds,omitempty"`
	Concurrency             *int `json:"concurrency,omitempty"`
	GrantDelayHours         *int `json:"grant_delay_hours,omitempty"`
	OverrideExpirationHours *int `json:"override_expiration_hours,omitempty"`
}

// MonitorStatus 计数为进程启动以来的累计值
type MonitorStatus struct {
	Running           bool       `json:"running"`
	LastCheckAt       *time.Time `json:"last_check_at,omitempty"`
	NextCheckAt       *time.Time `json:"next_check_at,omitempty"`
	SwitchesEvaluated int64      `json:"switches_evaluated"`
	SwitchesTriggered int64      `json:"switches_triggered"`
	IntervalSeconds   int        `json:"interval_seconds"`
	Concurrency       int        `json:"concurrency"`
}

// PassResult 一次巡检的结果
type PassResult struct {
	Evaluated  int       `json:"evaluated"`
	Triggered  int       `json:"triggered"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}
