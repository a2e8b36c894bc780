package deadman

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
)

func TestActivateHoliday(t *testing.T) {
	sw := armedSwitch()
	now := t0.Add(time.Hour)

	w := model.HolidayWindow{Start: t0.Add(10 * time.Hour), End: t0.Add(40 * time.Hour), Reason: model.HolidayReasonTravel}
	entry, err := ActivateHoliday(sw, w, now, "owner:owner-1")
	require.NoError(t, err)
	assert.Equal(t, model.AuditReasonHolidayActivated, entry.Reason)
	assert.Equal(t, model.SwitchStateArmed, entry.ToState)
	require.Len(t, sw.HolidayWindows, 1)

	// 插入更早的窗口后仍然有序
	_, err = ActivateHoliday(sw, model.HolidayWindow{Start: t0.Add(2 * time.Hour), End: t0.Add(5 * time.Hour)}, now, "owner:owner-1")
	require.NoError(t, err)
	assert.True(t, sw.HolidayWindows[0].Start.Before(sw.HolidayWindows[1].Start))
	assert.Equal(t, model.HolidayReasonOther, sw.HolidayWindows[0].Reason)
}

func TestActivateHoliday_Rejections(t *testing.T) {
	now := t0.Add(time.Hour)

	cases := map[string]struct {
		prepare func(sw *model.DeadManSwitch)
		window  model.HolidayWindow
	}{
		"start after end": {
			window: model.HolidayWindow{Start: t0.Add(10 * time.Hour), End: t0.Add(5 * time.Hour)},
		},
		"start in past": {
			window: model.HolidayWindow{Start: t0, End: t0.Add(5 * time.Hour)},
		},
		"too long": {
			window: model.HolidayWindow{Start: t0.Add(2 * time.Hour), End: t0.Add(2*time.Hour + 91*24*time.Hour)},
		},
		"overlap": {
			prepare: func(sw *model.DeadManSwitch) {
				sw.HolidayWindows = model.HolidayWindows{{Start: t0.Add(10 * time.Hour), End: t0.Add(20 * time.Hour)}}
			},
			window: model.HolidayWindow{Start: t0.Add(15 * time.Hour), End: t0.Add(25 * time.Hour)},
		},
		"triggered": {
			prepare: func(sw *model.DeadManSwitch) { sw.State = model.SwitchStateTriggered },
			window:  model.HolidayWindow{Start: t0.Add(2 * time.Hour), End: t0.Add(5 * time.Hour)},
		},
		"unknown reason": {
			window: model.HolidayWindow{Start: t0.Add(2 * time.Hour), End: t0.Add(5 * time.Hour), Reason: "sabbatical"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sw := armedSwitch()
			if tc.prepare != nil {
				tc.prepare(sw)
			}
			before := len(sw.HolidayWindows)

			_, err := ActivateHoliday(sw, tc.window, now, "owner:owner-1")
			assert.True(t, errors.Is(err, errors.InvalidConfiguration))
			assert.Len(t, sw.HolidayWindows, before)
		})
	}
}

func TestActivateHoliday_AdjacentAllowed(t *testing.T) {
	sw := armedSwitch()
	now := t0.Add(time.Hour)
	_, err := ActivateHoliday(sw, model.HolidayWindow{Start: t0.Add(2 * time.Hour), End: t0.Add(5 * time.Hour)}, now, "a")
	require.NoError(t, err)
	_, err = ActivateHoliday(sw, model.HolidayWindow{Start: t0.Add(5 * time.Hour), End: t0.Add(8 * time.Hour)}, now, "a")
	assert.NoError(t, err)
}

func TestActiveHoliday(t *testing.T) {
	sw := armedSwitch()
	sw.HolidayWindows = model.HolidayWindows{{Start: t0.Add(10 * time.Hour), End: t0.Add(20 * time.Hour)}}

	_, ok := ActiveHoliday(sw, t0.Add(15*time.Hour))
	assert.True(t, ok)
	_, ok = ActiveHoliday(sw, t0.Add(20*time.Hour))
	assert.False(t, ok)
}
