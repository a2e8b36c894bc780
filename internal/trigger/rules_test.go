package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func snapshot(state model.SwitchState, idle time.Duration) SwitchSnapshot {
	return SwitchSnapshot{
		ID:               "sw-1",
		State:            state,
		LastCheckInAt:    now.Add(-idle),
		CheckInInterval:  24 * time.Hour,
		EffectiveElapsed: idle,
	}
}

func evalCtx(switches ...SwitchSnapshot) EvalContext {
	ec := EvalContext{UserID: "u1", Now: now, Switches: switches}
	for _, sw := range switches {
		if sw.LastCheckInAt.After(ec.LastCheckInAt) {
			ec.LastCheckInAt = sw.LastCheckInAt
		}
	}
	return ec
}

func TestInactivityRule(t *testing.T) {
	week := model.RuleParams{InactivityAfter: model.Duration(7 * 24 * time.Hour)}
	tests := []struct {
		name       string
		ec         EvalContext
		triggered  bool
		confidence float64
		reason     model.ReasonCode
	}{
		{"no switches", evalCtx(), false, 0, model.ReasonNoSwitches},
		{"within limit", evalCtx(snapshot(model.SwitchStateArmed, 70*time.Hour)), false, 70.0 / 168 * 0.5, model.ReasonInactivityWithin},
		{"exceeded", evalCtx(snapshot(model.SwitchStateWarning, 10*24*time.Hour)), true, 10.0 / 7 * 0.5, model.ReasonInactivityExceeded},
		{"double the limit", evalCtx(snapshot(model.SwitchStateGrace, 14*24*time.Hour)), true, 1, model.ReasonInactivityExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := InactivityRule{}.Evaluate(context.Background(), tt.ec, week)
			require.NoError(t, err)
			assert.Equal(t, tt.triggered, out.Triggered)
			assert.InDelta(t, tt.confidence, out.Confidence, 1e-9)
			assert.Equal(t, []model.ReasonCode{tt.reason}, out.Reasons)
		})
	}
}

func TestSwitchStateRule(t *testing.T) {
	ec := evalCtx(snapshot(model.SwitchStateArmed, time.Hour), snapshot(model.SwitchStateGrace, 50*time.Hour))

	out, err := SwitchStateRule{}.Evaluate(context.Background(), ec, model.RuleParams{})
	require.NoError(t, err)
	assert.False(t, out.Triggered)
	assert.Equal(t, 0.75, out.Confidence)
	assert.Equal(t, []model.ReasonCode{model.ReasonSwitchGrace}, out.Reasons)

	out, err = SwitchStateRule{}.Evaluate(context.Background(), ec, model.RuleParams{MinState: model.SwitchStateWarning})
	require.NoError(t, err)
	assert.True(t, out.Triggered)

	assert.ErrorIs(t, SwitchStateRule{}.Validate(model.RuleParams{MinState: model.SwitchStateDisabled}), errors.InvalidConfiguration)
}

func TestMissedCheckInsRule(t *testing.T) {
	ec := evalCtx(snapshot(model.SwitchStateGrace, 50*time.Hour))

	out, err := MissedCheckInsRule{}.Evaluate(context.Background(), ec, model.RuleParams{MissedCheckIns: 2})
	require.NoError(t, err)
	assert.True(t, out.Triggered)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)

	out, err = MissedCheckInsRule{}.Evaluate(context.Background(), ec, model.RuleParams{MissedCheckIns: 3})
	require.NoError(t, err)
	assert.False(t, out.Triggered)
	assert.InDelta(t, 0.6, out.Confidence, 1e-9)

	out, err = MissedCheckInsRule{}.Evaluate(context.Background(), evalCtx(snapshot(model.SwitchStateDisabled, 500*time.Hour)), model.RuleParams{})
	require.NoError(t, err)
	assert.False(t, out.Triggered)
	assert.Equal(t, []model.ReasonCode{model.ReasonNoSwitches}, out.Reasons)
}

func TestExternalSignalRule(t *testing.T) {
	ec := evalCtx(snapshot(model.SwitchStateArmed, time.Hour))
	ec.Signals = []model.ExternalSignal{
		{Type: model.SignalTypeObituaryMatch, Confidence: 0.5, ObservedAt: now.Add(-time.Hour)},
		{Type: model.SignalTypeHospitalReport, Confidence: 0.5, ObservedAt: now.Add(-2 * time.Hour)},
		{Type: model.SignalTypeDeathCertificate, Confidence: 0.99, ObservedAt: now.Add(-60 * 24 * time.Hour)},
		{Type: model.SignalTypeManualDeclaration, Confidence: 1, ObservedAt: now.Add(-time.Hour)},
	}

	out, err := ExternalSignalRule{}.Evaluate(context.Background(), ec, model.RuleParams{MinSignalConfidence: 0.6})
	require.NoError(t, err)
	assert.True(t, out.Triggered)
	assert.InDelta(t, 0.75, out.Confidence, 1e-9)

	out, err = ExternalSignalRule{}.Evaluate(context.Background(), ec, model.RuleParams{
		SignalTypes:         []string{string(model.SignalTypeObituaryMatch)},
		MinSignalConfidence: 0.6,
	})
	require.NoError(t, err)
	assert.False(t, out.Triggered)
	assert.Equal(t, []model.ReasonCode{model.ReasonSignalBelowThreshold}, out.Reasons)

	assert.ErrorIs(t, ExternalSignalRule{}.Validate(model.RuleParams{MinSignalConfidence: 1.5}), errors.InvalidConfiguration)
}

func TestManualDeclarationRule(t *testing.T) {
	ec := evalCtx()
	out, err := ManualDeclarationRule{}.Evaluate(context.Background(), ec, model.RuleParams{})
	require.NoError(t, err)
	assert.False(t, out.Triggered)

	ec.Signals = []model.ExternalSignal{{Type: model.SignalTypeManualDeclaration, ObservedAt: now.Add(-time.Minute)}}
	out, err = ManualDeclarationRule{}.Evaluate(context.Background(), ec, model.RuleParams{})
	require.NoError(t, err)
	assert.True(t, out.Triggered)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestFilterHighConfidence(t *testing.T) {
	results := []model.TriggerEvaluationResult{
		{TriggerID: "a", Triggered: true, Confidence: 0.8},
		{TriggerID: "b", Triggered: true, Confidence: 0.79},
		{TriggerID: "c", Triggered: false, Confidence: 0.95},
	}
	high := FilterHighConfidence(results)
	require.Len(t, high, 1)
	assert.Equal(t, "a", high[0].TriggerID)
}

func TestParseDefaults(t *testing.T) {
	registry := DefaultRegistry()

	defs, err := LoadDefaults("", registry)
	require.NoError(t, err)
	require.Len(t, defs, 5)
	assert.Equal(t, model.RuleKindInactivity, defs[0].Kind)
	assert.Equal(t, model.Duration(336*time.Hour), defs[0].Params.InactivityAfter)

	_, err = ParseDefaults([]byte("rules:\n  - id: x\n    kind: tea_leaves\n"), registry)
	assert.ErrorIs(t, err, errors.InvalidConfiguration)

	_, err = ParseDefaults([]byte("rules:\n  - id: x\n    kind: inactivity\n  - id: x\n    kind: switch_state\n"), registry)
	assert.Error(t, err)
}
