package deadman

import (
	"fmt"
	"time"

	"LegacyVault/internal/model"
)

// ActivateHoliday 校验并追加假期窗口，不改变状态，只影响之后的经过时间计算
func ActivateHoliday(sw *model.DeadManSwitch, w model.HolidayWindow, now time.Time, actor string) (model.SwitchAuditEntry, error) {
	if sw.State == model.SwitchStateTriggered {
		return model.SwitchAuditEntry{}, invalid("holiday mode cannot be activated on a triggered switch")
	}
	if !w.Start.Before(w.End) {
		return model.SwitchAuditEntry{}, invalid("holiday start must be before end")
	}
	if w.Start.Before(now) {
		return model.SwitchAuditEntry{}, invalid("holiday start must not be in the past")
	}

	limit := sw.Config.MaxHolidayDuration.Std()
	if limit <= 0 {
		limit = DefaultMaxHolidayDuration
	}
	if w.End.Sub(w.Start) > limit {
		return model.SwitchAuditEntry{}, invalid("holiday duration %s exceeds maximum %s", w.End.Sub(w.Start), limit)
	}

	if w.Reason == "" {
		w.Reason = model.HolidayReasonOther
	}
	if !w.Reason.Valid() {
		return model.SwitchAuditEntry{}, invalid("unknown holiday reason %q", w.Reason)
	}

	for _, existing := range sw.HolidayWindows {
		if existing.Overlaps(w) {
			return model.SwitchAuditEntry{}, invalid("holiday window overlaps existing window starting %s", existing.Start.Format(time.RFC3339))
		}
	}

	sw.HolidayWindows = sw.HolidayWindows.Insert(w)
	detail := fmt.Sprintf("start=%s end=%s reason=%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), w.Reason)
	return Record(sw, now, sw.State, model.AuditReasonHolidayActivated, actor, model.AuditResultSuccess, detail), nil
}

// ActiveHoliday 返回 now 所在的假期窗口
func ActiveHoliday(sw *model.DeadManSwitch, now time.Time) (model.HolidayWindow, bool) {
	for _, w := range sw.HolidayWindows {
		if !now.Before(w.Start) && now.Before(w.End) {
			return w, true
		}
	}
	return model.HolidayWindow{}, false
}
