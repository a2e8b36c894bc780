package deadman

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func scenarioConfig() model.SwitchConfig {
	return model.SwitchConfig{
		CheckInInterval:  model.Duration(48 * time.Hour),
		WarningThreshold: model.Duration(24 * time.Hour),
		GracePeriod:      model.Duration(24 * time.Hour),
		EscalationStages: []model.EscalationStage{{
			Delay:      model.Duration(48 * time.Hour),
			Action:     model.StageActionNotifyContacts,
			Recipients: []model.Recipient{{ID: "c1", Channel: model.NotifyChannelSMS, Address: "+15550001"}},
		}},
		WarningRecipients: []model.Recipient{{ID: "owner", Channel: model.NotifyChannelSMS, Address: "+15550000"}},
		Release: model.ReleasePlan{
			Grants: []model.GrantPlan{{BeneficiaryID: "b1", ResourceType: "vault"}},
		},
	}
}

func armedSwitch() *model.DeadManSwitch {
	return &model.DeadManSwitch{
		ID:            "sw-1",
		OwnerID:       "owner-1",
		State:         model.SwitchStateArmed,
		Config:        Normalize(scenarioConfig(), 0),
		LastCheckInAt: t0,
		ArmedAt:       t0,
	}
}

func TestAdvance_Scenario(t *testing.T) {
	sw := armedSwitch()

	assert.Empty(t, Advance(sw, t0.Add(23*time.Hour)))
	assert.Equal(t, model.SwitchStateArmed, sw.State)

	entries := Advance(sw, t0.Add(25*time.Hour))
	require.Len(t, entries, 1)
	assert.Equal(t, model.SwitchStateWarning, sw.State)
	assert.Equal(t, model.AuditReasonInactivityWarning, entries[0].Reason)

	entries = Advance(sw, t0.Add(49*time.Hour))
	require.Len(t, entries, 2)
	assert.Equal(t, model.SwitchStateGrace, entries[0].ToState)
	assert.Equal(t, model.SwitchStateTriggered, entries[1].ToState)
	assert.Equal(t, model.SwitchStateTriggered, sw.State)
	require.NotNil(t, sw.Release.TriggeredAt)
	assert.Empty(t, sw.Release.Completed)
}

func TestAdvance_StepwiseNeverSkipsGrace(t *testing.T) {
	sw := armedSwitch()

	entries := Advance(sw, t0.Add(100*time.Hour))
	require.Len(t, entries, 3)
	assert.Equal(t, []model.SwitchState{model.SwitchStateWarning, model.SwitchStateGrace, model.SwitchStateTriggered},
		[]model.SwitchState{entries[0].ToState, entries[1].ToState, entries[2].ToState})
	assert.Equal(t, model.SwitchStateArmed, entries[0].FromState)
}

func TestAdvance_TriggeredIsSticky(t *testing.T) {
	sw := armedSwitch()
	Advance(sw, t0.Add(49*time.Hour))
	seq := sw.LastAuditSeq

	assert.Empty(t, Advance(sw, t0.Add(50*time.Hour)))
	assert.Empty(t, Advance(sw, t0.Add(500*time.Hour)))
	assert.Equal(t, seq, sw.LastAuditSeq)
}

func TestAdvance_NeverBeforeFinalDelay(t *testing.T) {
	sw := armedSwitch()
	for h := 0; h < 48; h++ {
		Advance(sw, t0.Add(time.Duration(h)*time.Hour))
		assert.NotEqual(t, model.SwitchStateTriggered, sw.State, "hour %d", h)
	}
	Advance(sw, t0.Add(48*time.Hour))
	assert.Equal(t, model.SwitchStateTriggered, sw.State)
}

func TestAdvance_DisabledIgnored(t *testing.T) {
	sw := armedSwitch()
	sw.State = model.SwitchStateDisabled
	assert.Empty(t, Advance(sw, t0.Add(1000*time.Hour)))
}

func TestThresholds_NoStagesFallback(t *testing.T) {
	cfg := model.SwitchConfig{
		CheckInInterval:  model.Duration(48 * time.Hour),
		WarningThreshold: model.Duration(24 * time.Hour),
		GracePeriod:      model.Duration(12 * time.Hour),
	}
	th := ThresholdsFor(cfg)
	assert.Equal(t, 48*time.Hour, th.GraceStart)
	assert.Equal(t, 60*time.Hour, th.Final)
	assert.Equal(t, model.SwitchStateGrace, th.Target(50*time.Hour))
}

func TestEffectiveElapsed_HolidayExcluded(t *testing.T) {
	sw := armedSwitch()
	sw.HolidayWindows = model.HolidayWindows{{Start: t0.Add(10 * time.Hour), End: t0.Add(40 * time.Hour)}}

	assert.Equal(t, 19*time.Hour, EffectiveElapsed(sw, t0.Add(49*time.Hour)))

	Advance(sw, t0.Add(49*time.Hour))
	assert.Equal(t, model.SwitchStateArmed, sw.State)
}

func TestEffectiveElapsed_HolidayCoversWholeInterval(t *testing.T) {
	sw := armedSwitch()
	sw.HolidayWindows = model.HolidayWindows{{Start: t0.Add(-time.Hour), End: t0.Add(80 * time.Hour)}}

	for _, h := range []int{1, 24, 49, 79} {
		assert.Equal(t, time.Duration(0), EffectiveElapsed(sw, t0.Add(time.Duration(h)*time.Hour)))
		assert.Empty(t, Advance(sw, t0.Add(time.Duration(h)*time.Hour)))
	}
	assert.Equal(t, model.SwitchStateArmed, sw.State)
}

func TestEffectiveElapsed_ReferenceIsLatestOfCheckInAndArm(t *testing.T) {
	sw := armedSwitch()
	sw.LastCheckInAt = t0.Add(-300 * time.Hour)
	assert.Equal(t, 5*time.Hour, EffectiveElapsed(sw, t0.Add(5*time.Hour)))
	assert.Equal(t, time.Duration(0), EffectiveElapsed(sw, t0.Add(-time.Hour)))
}

func TestApplyCheckIn(t *testing.T) {
	sw := armedSwitch()
	Advance(sw, t0.Add(30*time.Hour))
	sw.NotifiedLevel = 1
	require.Equal(t, model.SwitchStateWarning, sw.State)

	entry, err := ApplyCheckIn(sw, model.CheckIn{
		SwitchID: sw.ID, UserID: "owner-1", Method: model.CheckInMethodBiometric, Timestamp: t0.Add(31 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateArmed, sw.State)
	assert.Equal(t, model.SwitchStateWarning, entry.FromState)
	assert.Equal(t, model.AuditReasonCheckIn, entry.Reason)
	assert.Equal(t, 0, sw.NotifiedLevel)
	assert.Equal(t, t0.Add(31*time.Hour), sw.LastCheckInAt)

	// 时间戳更早的签到不会让 lastCheckInAt 回退
	_, err = ApplyCheckIn(sw, model.CheckIn{UserID: "owner-1", Method: model.CheckInMethodAppLogin, Timestamp: t0})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(31*time.Hour), sw.LastCheckInAt)
}

func TestApplyCheckIn_InvalidMethod(t *testing.T) {
	sw := armedSwitch()
	_, err := ApplyCheckIn(sw, model.CheckIn{UserID: "owner-1", Method: "carrier_pigeon", Timestamp: t0})
	assert.True(t, errors.Is(err, errors.InvalidRequest))
	assert.Zero(t, sw.LastAuditSeq)
}

func TestApplyCheckIn_TriggeredStays(t *testing.T) {
	sw := armedSwitch()
	Advance(sw, t0.Add(49*time.Hour))

	_, err := ApplyCheckIn(sw, model.CheckIn{UserID: "owner-1", Method: model.CheckInMethodWebCheckIn, Timestamp: t0.Add(50 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateTriggered, sw.State)
}

func TestEnableDisableIdempotent(t *testing.T) {
	sw := armedSwitch()
	sw.State = model.SwitchStateDisabled

	_, changed := Enable(sw, t0, "owner:owner-1")
	assert.True(t, changed)
	_, changed = Enable(sw, t0.Add(time.Hour), "owner:owner-1")
	assert.False(t, changed)
	assert.Equal(t, t0, sw.ArmedAt)

	_, changed = Disable(sw, t0, "owner:owner-1")
	assert.True(t, changed)
	_, changed = Disable(sw, t0, "owner:owner-1")
	assert.False(t, changed)
	assert.Equal(t, int64(2), sw.LastAuditSeq)
}

func TestReset(t *testing.T) {
	sw := armedSwitch()
	_, err := Reset(sw, t0, "owner:owner-1", "")
	assert.True(t, errors.Is(err, errors.InvalidConfiguration))

	Advance(sw, t0.Add(49*time.Hour))
	entry, err := Reset(sw, t0.Add(60*time.Hour), "recovery:agent-7", "owner alive")
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateArmed, sw.State)
	assert.Equal(t, model.AuditReasonReset, entry.Reason)
	assert.Equal(t, t0.Add(60*time.Hour), sw.ArmedAt)
	assert.Nil(t, sw.Release.TriggeredAt)
	assert.Empty(t, Advance(sw, t0.Add(61*time.Hour)))
}

func TestUpdateConfig_RejectedWhileTriggered(t *testing.T) {
	sw := armedSwitch()
	Advance(sw, t0.Add(49*time.Hour))

	_, err := UpdateConfig(sw, scenarioConfig(), t0.Add(50*time.Hour), "owner:owner-1", 0)
	assert.True(t, errors.Is(err, errors.InvalidConfiguration))
}

func TestValidateConfig(t *testing.T) {
	base := Normalize(scenarioConfig(), 0)
	require.NoError(t, ValidateConfig(base, 0))

	cases := map[string]func(c *model.SwitchConfig){
		"zero interval": func(c *model.SwitchConfig) { c.CheckInInterval = 0 },
		"warning after grace": func(c *model.SwitchConfig) {
			c.WarningThreshold = model.Duration(72 * time.Hour)
		},
		"decreasing stages": func(c *model.SwitchConfig) {
			c.EscalationStages = append(c.EscalationStages, model.EscalationStage{Delay: model.Duration(time.Hour), Action: model.StageActionNotifyOwner})
		},
		"holiday cap": func(c *model.SwitchConfig) { c.MaxHolidayDuration = model.Duration(100 * 24 * time.Hour) },
		"bad recipient": func(c *model.SwitchConfig) {
			c.WarningRecipients = []model.Recipient{{ID: "x", Channel: "pager", Address: "1"}}
		},
		"grant without beneficiary": func(c *model.SwitchConfig) {
			c.Release.Grants = []model.GrantPlan{{ResourceType: "vault"}}
		},
		"bad override": func(c *model.SwitchConfig) {
			c.Release.Override = &model.OverridePlan{OverrideType: "total"}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Normalize(scenarioConfig(), 0)
			mutate(&cfg)
			assert.True(t, errors.Is(ValidateConfig(cfg, 0), errors.InvalidConfiguration))
		})
	}
}
