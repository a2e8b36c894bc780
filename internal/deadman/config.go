package deadman

import (
	"fmt"
	"time"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
	"LegacyVault/utils"
)

// DefaultMaxHolidayDuration 单个假期窗口的上限
const DefaultMaxHolidayDuration = 90 * 24 * time.Hour

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errors.InvalidConfiguration)
}

// Normalize 填充默认值，返回新的配置
func Normalize(cfg model.SwitchConfig, maxHoliday time.Duration) model.SwitchConfig {
	if maxHoliday <= 0 {
		maxHoliday = DefaultMaxHolidayDuration
	}
	if cfg.MaxHolidayDuration <= 0 {
		cfg.MaxHolidayDuration = model.Duration(maxHoliday)
	}

	stages := make([]model.EscalationStage, len(cfg.EscalationStages))
	copy(stages, cfg.EscalationStages)
	for i := range stages {
		if stages[i].Action == "" {
			stages[i].Action = model.StageActionNotifyContacts
		}
	}
	cfg.EscalationStages = stages
	return cfg
}

// ValidateConfig maxHoliday 为系统允许的假期上限
func ValidateConfig(cfg model.SwitchConfig, maxHoliday time.Duration) error {
	if maxHoliday <= 0 {
		maxHoliday = DefaultMaxHolidayDuration
	}

	if cfg.CheckInInterval <= 0 {
		return invalid("check_in_interval must be positive")
	}
	if cfg.WarningThreshold <= 0 {
		return invalid("warning_threshold must be positive")
	}
	if cfg.GracePeriod < 0 {
		return invalid("grace_period must not be negative")
	}
	if cfg.MaxHolidayDuration.Std() > maxHoliday {
		return invalid("max_holiday_duration exceeds %s", maxHoliday)
	}

	var prev time.Duration
	for i, stage := range cfg.EscalationStages {
		d := stage.Delay.Std()
		if d <= 0 {
			return invalid("escalation stage %d: delay must be positive", i)
		}
		if i > 0 && d <= prev {
			return invalid("escalation stage %d: delays must be strictly increasing", i)
		}
		prev = d

		switch stage.Action {
		case model.StageActionNotifyOwner, model.StageActionNotifyContacts:
		default:
			return invalid("escalation stage %d: unknown action %q", i, stage.Action)
		}
		if err := validateRecipients(stage.Recipients); err != nil {
			return invalid("escalation stage %d: %v", i, err)
		}
	}
	if err := validateRecipients(cfg.WarningRecipients); err != nil {
		return invalid("warning recipients: %v", err)
	}

	th := ThresholdsFor(cfg)
	if th.Warning > th.GraceStart {
		return invalid("warning_threshold must not exceed grace start (%s)", th.GraceStart)
	}

	for i, g := range cfg.Release.Grants {
		if g.BeneficiaryID == "" || g.ResourceType == "" {
			return invalid("release grant %d: beneficiary_id and resource_type are required", i)
		}
		if g.DelayHours != nil && *g.DelayHours < 0 {
			return invalid("release grant %d: delay_hours must not be negative", i)
		}
	}
	if o := cfg.Release.Override; o != nil {
		switch o.OverrideType {
		case model.OverrideTypeFull, model.OverrideTypePartial, model.OverrideTypeTemporary:
		default:
			return invalid("release override: unknown type %q", o.OverrideType)
		}
		if o.ExpirationHours != nil && *o.ExpirationHours <= 0 {
			return invalid("release override: expiration_hours must be positive")
		}
	}

	return nil
}

func validateRecipients(recipients []model.Recipient) error {
	for _, r := range recipients {
		if r.Address == "" {
			return fmt.Errorf("recipient %q has no address", r.ID)
		}
		switch r.Channel {
		case model.NotifyChannelSMS:
			if !utils.ValidatePhone(r.Address) {
				return fmt.Errorf("recipient %q has invalid phone number", r.ID)
			}
		case model.NotifyChannelWebhook:
			if !utils.ValidateWebhookURL(r.Address) {
				return fmt.Errorf("recipient %q has invalid webhook url", r.ID)
			}
		default:
			return fmt.Errorf("recipient %q has unknown channel %q", r.ID, r.Channel)
		}
	}
	return nil
}
