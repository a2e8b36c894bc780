package trigger

import (
	"context"
	"fmt"
	"time"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
)

const (
	defaultInactivityAfter = 7 * 24 * time.Hour
	defaultMissedCheckIns  = 2
	defaultSignalMaxAge    = 30 * 24 * time.Hour
	defaultSignalMinConf   = 0.5
)

func invalidParams(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{errors.InvalidConfiguration}, args...)...)
}

// InactivityRule 距最近一次签到的时长。
// 到达阈值时置信度 0.5，达到两倍阈值时为 1。
type InactivityRule struct{}

func (InactivityRule) Kind() model.RuleKind { return model.RuleKindInactivity }

func (InactivityRule) Validate(p model.RuleParams) error {
	if p.InactivityAfter < 0 {
		return invalidParams("inactivity_after must not be negative")
	}
	return nil
}

func (InactivityRule) Evaluate(_ context.Context, ec EvalContext, p model.RuleParams) (Outcome, error) {
	if len(ec.Switches) == 0 {
		return Outcome{Reasons: []model.ReasonCode{model.ReasonNoSwitches}}, nil
	}
	if ec.LastCheckInAt.IsZero() {
		return Outcome{Reasons: []model.ReasonCode{model.ReasonNeverCheckedIn}}, nil
	}

	after := p.InactivityAfter.Std()
	if after <= 0 {
		after = defaultInactivityAfter
	}
	idle := ec.Now.Sub(ec.LastCheckInAt)
	ratio := float64(idle) / float64(after)

	if idle < after {
		return Outcome{
			Confidence: clamp01(ratio * 0.5),
			Reasons:    []model.ReasonCode{model.ReasonInactivityWithin},
		}, nil
	}
	return Outcome{
		Triggered:  true,
		Confidence: clamp01(ratio * 0.5),
		Reasons:    []model.ReasonCode{model.ReasonInactivityExceeded},
	}, nil
}

var stateConfidence = map[model.SwitchState]float64{
	model.SwitchStateArmed:     0.1,
	model.SwitchStateWarning:   0.5,
	model.SwitchStateGrace:     0.75,
	model.SwitchStateTriggered: 1,
}

var stateReason = map[model.SwitchState]model.ReasonCode{
	model.SwitchStateArmed:     model.ReasonSwitchNominal,
	model.SwitchStateDisabled:  model.ReasonSwitchNominal,
	model.SwitchStateWarning:   model.ReasonSwitchWarning,
	model.SwitchStateGrace:     model.ReasonSwitchGrace,
	model.SwitchStateTriggered: model.ReasonSwitchTriggered,
}

// SwitchStateRule 用户开关中推进最远的状态达到 MinState 时命中，默认 triggered
type SwitchStateRule struct{}

func (SwitchStateRule) Kind() model.RuleKind { return model.RuleKindSwitchState }

func (SwitchStateRule) Validate(p model.RuleParams) error {
	if p.MinState != "" && p.MinState.Rank() == 0 {
		return invalidParams("min_state %q is not a monitored state", p.MinState)
	}
	return nil
}

func (SwitchStateRule) Evaluate(_ context.Context, ec EvalContext, p model.RuleParams) (Outcome, error) {
	if len(ec.Switches) == 0 {
		return Outcome{Reasons: []model.ReasonCode{model.ReasonNoSwitches}}, nil
	}

	min := p.MinState
	if min == "" {
		min = model.SwitchStateTriggered
	}

	highest := model.SwitchStateDisabled
	for _, sw := range ec.Switches {
		if sw.State.Rank() > highest.Rank() {
			highest = sw.State
		}
	}

	return Outcome{
		Triggered:  highest.Rank() >= min.Rank(),
		Confidence: stateConfidence[highest],
		Reasons:    []model.ReasonCode{stateReason[highest]},
	}, nil
}

// MissedCheckInsRule 按签到周期计算错过的次数，取所有开关中的最大值
type MissedCheckInsRule struct{}

func (MissedCheckInsRule) Kind() model.RuleKind { return model.RuleKindMissedCheckIns }

func (MissedCheckInsRule) Validate(p model.RuleParams) error {
	if p.MissedCheckIns < 0 {
		return invalidParams("missed_check_ins must not be negative")
	}
	return nil
}

func (MissedCheckInsRule) Evaluate(_ context.Context, ec EvalContext, p model.RuleParams) (Outcome, error) {
	threshold := p.MissedCheckIns
	if threshold <= 0 {
		threshold = defaultMissedCheckIns
	}

	missed := 0
	monitored := 0
	for _, sw := range ec.Switches {
		if !sw.State.Monitored() || sw.CheckInInterval <= 0 {
			continue
		}
		monitored++
		if n := int(sw.EffectiveElapsed / sw.CheckInInterval); n > missed {
			missed = n
		}
	}
	if monitored == 0 {
		return Outcome{Reasons: []model.ReasonCode{model.ReasonNoSwitches}}, nil
	}

	conf := clamp01(0.9 * float64(missed) / float64(threshold))
	if missed > threshold {
		conf = 1
	}
	out := Outcome{Triggered: missed >= threshold, Confidence: conf}
	if out.Triggered {
		out.Reasons = []model.ReasonCode{model.ReasonCheckInsMissed}
	} else {
		out.Reasons = []model.ReasonCode{model.ReasonInactivityWithin}
	}
	return out, nil
}

func recentSignals(ec EvalContext, maxAge time.Duration, accept func(model.ExternalSignal) bool) []model.ExternalSignal {
	if maxAge <= 0 {
		maxAge = defaultSignalMaxAge
	}
	cutoff := ec.Now.Add(-maxAge)

	var out []model.ExternalSignal
	for _, s := range ec.Signals {
		if s.ObservedAt.Before(cutoff) || s.ObservedAt.After(ec.Now) {
			continue
		}
		if accept(s) {
			out = append(out, s)
		}
	}
	return out
}

// ExternalSignalRule 外部信号按 noisy-OR 合并置信度：1 - Π(1 - c)
type ExternalSignalRule struct{}

func (ExternalSignalRule) Kind() model.RuleKind { return model.RuleKindExternalSignal }

func (ExternalSignalRule) Validate(p model.RuleParams) error {
	if p.MinSignalConfidence < 0 || p.MinSignalConfidence > 1 {
		return invalidParams("min_signal_confidence must be within [0, 1]")
	}
	if p.SignalMaxAge < 0 {
		return invalidParams("signal_max_age must not be negative")
	}
	return nil
}

func (ExternalSignalRule) Evaluate(_ context.Context, ec EvalContext, p model.RuleParams) (Outcome, error) {
	types := model.StringList(p.SignalTypes)
	signals := recentSignals(ec, p.SignalMaxAge.Std(), func(s model.ExternalSignal) bool {
		if len(types) > 0 {
			return types.Contains(string(s.Type))
		}
		return s.Type != model.SignalTypeManualDeclaration
	})
	if len(signals) == 0 {
		return Outcome{Reasons: []model.ReasonCode{model.ReasonNoSignals}}, nil
	}

	miss := 1.0
	for _, s := range signals {
		miss *= 1 - clamp01(s.Confidence)
	}
	combined := clamp01(1 - miss)

	min := p.MinSignalConfidence
	if min == 0 {
		min = defaultSignalMinConf
	}
	if combined >= min {
		return Outcome{Triggered: true, Confidence: combined, Reasons: []model.ReasonCode{model.ReasonSignalMatched}}, nil
	}
	return Outcome{Confidence: combined, Reasons: []model.ReasonCode{model.ReasonSignalBelowThreshold}}, nil
}

// ManualDeclarationRule 受托人或联系人的人工声明，置信度取声明自带值，未给出时为 1
type ManualDeclarationRule struct{}

func (ManualDeclarationRule) Kind() model.RuleKind { return model.RuleKindManualDeclaration }

func (ManualDeclarationRule) Evaluate(_ context.Context, ec EvalContext, p model.RuleParams) (Outcome, error) {
	declarations := recentSignals(ec, p.SignalMaxAge.Std(), func(s model.ExternalSignal) bool {
		return s.Type == model.SignalTypeManualDeclaration
	})
	if len(declarations) == 0 {
		return Outcome{Reasons: []model.ReasonCode{model.ReasonDeclarationMissing}}, nil
	}

	best := 0.0
	for _, d := range declarations {
		c := d.Confidence
		if c == 0 {
			c = 1
		}
		if c > best {
			best = clamp01(c)
		}
	}
	return Outcome{Triggered: true, Confidence: best, Reasons: []model.ReasonCode{model.ReasonDeclarationReceived}}, nil
}
