// Package deadman 死手开关状态机，纯函数，不做 IO。
//
// 状态推进只依赖有效经过时间：
//
//	disabled -> armed -> warning -> grace -> triggered
//
// 签到把 warning/grace 拉回 armed，triggered 只能由 Reset 回到 armed。
package deadman

import (
	"fmt"
	"time"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
)

// Thresholds 各状态的经过时间阈值
type Thresholds struct {
	Warning    time.Duration
	GraceStart time.Duration
	Final      time.Duration
}

// ThresholdsFor 未配置升级阶段时，grace 从签到周期开始，再经过 GracePeriod 触发
func ThresholdsFor(cfg model.SwitchConfig) Thresholds {
	th := Thresholds{Warning: cfg.WarningThreshold.Std()}
	if n := len(cfg.EscalationStages); n > 0 {
		th.GraceStart = cfg.EscalationStages[0].Delay.Std()
		th.Final = cfg.EscalationStages[n-1].Delay.Std()
	} else {
		th.GraceStart = cfg.CheckInInterval.Std()
		th.Final = cfg.CheckInInterval.Std() + cfg.GracePeriod.Std()
	}
	return th
}

// Target 经过时间对应的目标状态
func (th Thresholds) Target(elapsed time.Duration) model.SwitchState {
	switch {
	case elapsed >= th.Final:
		return model.SwitchStateTriggered
	case elapsed >= th.GraceStart:
		return model.SwitchStateGrace
	case elapsed >= th.Warning:
		return model.SwitchStateWarning
	default:
		return model.SwitchStateArmed
	}
}

// ReferenceTime 计时起点，取最近签到与最近一次武装中较晚者
func ReferenceTime(sw *model.DeadManSwitch) time.Time {
	if sw.ArmedAt.After(sw.LastCheckInAt) {
		return sw.ArmedAt
	}
	return sw.LastCheckInAt
}

// EffectiveElapsed 扣除假期窗口后的经过时间
func EffectiveElapsed(sw *model.DeadManSwitch, now time.Time) time.Duration {
	ref := ReferenceTime(sw)
	if !now.After(ref) {
		return 0
	}

	elapsed := now.Sub(ref)
	for _, w := range sw.HolidayWindows {
		elapsed -= overlap(w, ref, now)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func overlap(w model.HolidayWindow, from, to time.Time) time.Duration {
	start := w.Start
	if start.Before(from) {
		start = from
	}
	end := w.End
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

var stepReasons = map[model.SwitchState]model.AuditReason{
	model.SwitchStateWarning:   model.AuditReasonInactivityWarning,
	model.SwitchStateGrace:     model.AuditReasonGraceStarted,
	model.SwitchStateTriggered: model.AuditReasonTriggered,
}

var nextState = map[model.SwitchState]model.SwitchState{
	model.SwitchStateArmed:   model.SwitchStateWarning,
	model.SwitchStateWarning: model.SwitchStateGrace,
	model.SwitchStateGrace:   model.SwitchStateTriggered,
}

// Advance 按时间推进状态，逐级迁移且每一级都写审计，从不回退
func Advance(sw *model.DeadManSwitch, now time.Time) []model.SwitchAuditEntry {
	if !sw.State.Monitored() || sw.State == model.SwitchStateTriggered {
		return nil
	}

	elapsed := EffectiveElapsed(sw, now)
	target := ThresholdsFor(sw.Config).Target(elapsed)

	var entries []model.SwitchAuditEntry
	for sw.State.Rank() < target.Rank() {
		to := nextState[sw.State]
		detail := fmt.Sprintf("effective_elapsed=%s", elapsed.Truncate(time.Second))
		entries = append(entries, Record(sw, now, to, stepReasons[to], model.ActorSystemMonitor, model.AuditResultSuccess, detail))
		if to == model.SwitchStateTriggered {
			triggeredAt := now
			sw.Release = model.ReleaseProgress{TriggeredAt: &triggeredAt, Completed: map[string]string{}}
		}
	}
	return entries
}

// ApplyCheckIn 记录签到；warning/grace 回到 armed，triggered 保持不变
func ApplyCheckIn(sw *model.DeadManSwitch, ci model.CheckIn) (model.SwitchAuditEntry, error) {
	if !ci.Method.Valid() {
		return model.SwitchAuditEntry{}, fmt.Errorf("unknown check-in method %q: %w", ci.Method, errors.InvalidRequest)
	}

	if ci.Timestamp.After(sw.LastCheckInAt) {
		sw.LastCheckInAt = ci.Timestamp
	}

	to := sw.State
	if sw.State == model.SwitchStateWarning || sw.State == model.SwitchStateGrace {
		to = model.SwitchStateArmed
		sw.NotifiedLevel = 0
	}

	detail := "method=" + string(ci.Method)
	if ci.Metadata.DeviceID != "" {
		detail += " device=" + ci.Metadata.DeviceID
	}
	return Record(sw, ci.Timestamp, to, model.AuditReasonCheckIn, OwnerActor(ci.UserID), model.AuditResultSuccess, detail), nil
}

// Enable 幂等，已启用时返回 false
func Enable(sw *model.DeadManSwitch, now time.Time, actor string) (model.SwitchAuditEntry, bool) {
	if sw.State != model.SwitchStateDisabled {
		return model.SwitchAuditEntry{}, false
	}
	rearm(sw, now)
	return Record(sw, now, model.SwitchStateArmed, model.AuditReasonEnabled, actor, model.AuditResultSuccess, ""), true
}

// Disable 幂等；已经执行的通知与授权不会撤回，只停止后续升级
func Disable(sw *model.DeadManSwitch, now time.Time, actor string) (model.SwitchAuditEntry, bool) {
	if sw.State == model.SwitchStateDisabled {
		return model.SwitchAuditEntry{}, false
	}
	return Record(sw, now, model.SwitchStateDisabled, model.AuditReasonDisabled, actor, model.AuditResultSuccess, ""), true
}

// Reset 仅允许 triggered -> armed
func Reset(sw *model.DeadManSwitch, now time.Time, actor, reason string) (model.SwitchAuditEntry, error) {
	if sw.State != model.SwitchStateTriggered {
		return model.SwitchAuditEntry{}, invalid("switch is %s, only a triggered switch can be reset", sw.State)
	}
	rearm(sw, now)
	return Record(sw, now, model.SwitchStateArmed, model.AuditReasonReset, actor, model.AuditResultSuccess, reason), nil
}

// UpdateConfig triggered 状态下拒绝，避免悄悄解除正在进行的释放
func UpdateConfig(sw *model.DeadManSwitch, cfg model.SwitchConfig, now time.Time, actor string, maxHoliday time.Duration) (model.SwitchAuditEntry, error) {
	if sw.State == model.SwitchStateTriggered {
		return model.SwitchAuditEntry{}, invalid("switch is triggered, reset it before changing configuration")
	}
	cfg = Normalize(cfg, maxHoliday)
	if err := ValidateConfig(cfg, maxHoliday); err != nil {
		return model.SwitchAuditEntry{}, err
	}
	sw.Config = cfg
	return Record(sw, now, sw.State, model.AuditReasonConfigUpdated, actor, model.AuditResultSuccess, ""), nil
}

func rearm(sw *model.DeadManSwitch, now time.Time) {
	sw.ArmedAt = now
	sw.NotifiedLevel = 0
	sw.Release = model.ReleaseProgress{}
}

func OwnerActor(userID string) string {
	return "owner:" + userID
}
