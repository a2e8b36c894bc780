package deadman

import (
	"time"

	"LegacyVault/internal/model"
)

const (
	DefaultWarningTemplate    = "switch_warning"
	DefaultEscalationTemplate = "switch_escalation"
)

// Notice 一个通知级别：0 为 warning 提醒，i 为第 i-1 个升级阶段
type Notice struct {
	Level      int
	Stage      int // -1 表示 warning
	Action     model.StageAction
	Recipients []model.Recipient
	Template   string
}

// ReachedLevels 当前已经到达的通知级别数量
func ReachedLevels(sw *model.DeadManSwitch, now time.Time) int {
	stages := sw.Config.EscalationStages
	switch sw.State {
	case model.SwitchStateTriggered:
		return 1 + len(stages)
	case model.SwitchStateWarning, model.SwitchStateGrace:
	default:
		return 0
	}

	elapsed := EffectiveElapsed(sw, now)
	reached := 1
	for _, st := range stages {
		if elapsed >= st.Delay.Std() {
			reached++
		}
	}
	return reached
}

// PendingNotices 尚未投递的级别，按顺序
func PendingNotices(sw *model.DeadManSwitch, now time.Time) []Notice {
	reached := ReachedLevels(sw, now)
	var out []Notice
	for level := sw.NotifiedLevel; level < reached; level++ {
		out = append(out, noticeFor(sw.Config, level))
	}
	return out
}

func noticeFor(cfg model.SwitchConfig, level int) Notice {
	if level == 0 {
		tpl := cfg.WarningTemplate
		if tpl == "" {
			tpl = DefaultWarningTemplate
		}
		return Notice{
			Level:      0,
			Stage:      -1,
			Action:     model.StageActionNotifyOwner,
			Recipients: cfg.WarningRecipients,
			Template:   tpl,
		}
	}

	st := cfg.EscalationStages[level-1]
	tpl := st.Template
	if tpl == "" {
		tpl = DefaultEscalationTemplate
	}
	return Notice{
		Level:      level,
		Stage:      level - 1,
		Action:     st.Action,
		Recipients: st.Recipients,
		Template:   tpl,
	}
}
