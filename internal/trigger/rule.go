// Package trigger 触发规则评估引擎。
//
// 规则通过 Registry 按 Kind 注册，引擎只调用 Rule 接口，新增规则类型不需要改动引擎。
// 置信度阈值由调用方决定，引擎本身不做过滤。
package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"LegacyVault/internal/model"
)

// HighConfidenceThreshold 调用方用于告警过滤的默认阈值
const HighConfidenceThreshold = 0.8

// SwitchSnapshot 评估时开关的只读快照
type SwitchSnapshot struct {
	ID               string
	State            model.SwitchState
	LastCheckInAt    time.Time
	CheckInInterval  time.Duration
	EffectiveElapsed time.Duration
}

// EvalContext 一次评估的输入，所有规则共享
type EvalContext struct {
	UserID        string
	Now           time.Time
	Switches      []SwitchSnapshot
	LastCheckInAt time.Time // 所有开关中最近的签到，从未签到为零值
	Signals       []model.ExternalSignal
}

type Outcome struct {
	Triggered  bool
	Confidence float64
	Reasons    []model.ReasonCode
}

type Rule interface {
	Kind() model.RuleKind
	Evaluate(ctx context.Context, ec EvalContext, params model.RuleParams) (Outcome, error)
}

// Validator 规则可选实现，注册定义时校验参数
type Validator interface {
	Validate(params model.RuleParams) error
}

type Registry struct {
	mu    sync.RWMutex
	rules map[model.RuleKind]Rule
}

func NewRegistry() *Registry {
	return &Registry{rules: make(map[model.RuleKind]Rule)}
}

// DefaultRegistry 注册全部内置规则
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, rule := range []Rule{
		InactivityRule{},
		SwitchStateRule{},
		MissedCheckInsRule{},
		ExternalSignalRule{},
		ManualDeclarationRule{},
	} {
		_ = r.Register(rule)
	}
	return r
}

func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.Kind()]; ok {
		return fmt.Errorf("rule kind %q already registered", rule.Kind())
	}
	r.rules[rule.Kind()] = rule
	return nil
}

func (r *Registry) Get(kind model.RuleKind) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[kind]
	return rule, ok
}

func (r *Registry) Kinds() []model.RuleKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.RuleKind, 0, len(r.rules))
	for k := range r.rules {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FilterHighConfidence 只保留命中且置信度不低于 HighConfidenceThreshold 的结果
func FilterHighConfidence(results []model.TriggerEvaluationResult) []model.TriggerEvaluationResult {
	out := make([]model.TriggerEvaluationResult, 0)
	for _, r := range results {
		if r.Triggered && r.Confidence >= HighConfidenceThreshold {
			out = append(out, r)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
