package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"LegacyVault/internal/deadman"
	"LegacyVault/internal/model"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/repository"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/metrics"
	"LegacyVault/pkg/snowflake"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// SignalSource 外部信号来源，TriggerStore 即满足
type SignalSource interface {
	ListSignals(ctx context.Context, userID string, since time.Time) ([]model.ExternalSignal, error)
}

type EngineOption func(*Engine)

func WithEngineClock(nowFn func() time.Time) EngineOption {
	return func(e *Engine) { e.nowFn = nowFn }
}

func WithSignalSource(src SignalSource) EngineOption {
	return func(e *Engine) { e.signals = src }
}

// WithDefaults 用户未注册规则时使用的规则集
func WithDefaults(defs []model.TriggerDefinition) EngineOption {
	return func(e *Engine) { e.defaults = defs }
}

func WithHistoryRetention(n int) EngineOption {
	return func(e *Engine) { e.retain = n }
}

type Engine struct {
	switches repository.SwitchStore
	store    repository.TriggerStore
	signals  SignalSource
	registry *Registry
	defaults []model.TriggerDefinition
	retain   int
	logger   *zap.Logger
	nowFn    func() time.Time
}

func NewEngine(switches repository.SwitchStore, store repository.TriggerStore, registry *Registry, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	e := &Engine{
		switches: switches,
		store:    store,
		signals:  store,
		registry: registry,
		retain:   500,
		logger:   logger,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// definitions 用户自定义规则优先，没有时回落到默认规则集
func (e *Engine) definitions(ctx context.Context, userID string) ([]model.TriggerDefinition, error) {
	defs, err := e.store.ListDefinitions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trigger definitions: %w", err)
	}
	if len(defs) == 0 {
		defs = e.defaults
	}
	return defs, nil
}

func (e *Engine) buildContext(ctx context.Context, userID string, now time.Time, defs []model.TriggerDefinition) (EvalContext, error) {
	ec := EvalContext{UserID: userID, Now: now}

	switches, err := e.switches.ListByOwner(ctx, userID)
	if err != nil {
		return ec, fmt.Errorf("failed to list switches: %w", err)
	}
	for _, sw := range switches {
		ec.Switches = append(ec.Switches, SwitchSnapshot{
			ID:               sw.ID,
			State:            sw.State,
			LastCheckInAt:    sw.LastCheckInAt,
			CheckInInterval:  sw.Config.CheckInInterval.Std(),
			EffectiveElapsed: deadman.EffectiveElapsed(sw, now),
		})
		if sw.LastCheckInAt.After(ec.LastCheckInAt) {
			ec.LastCheckInAt = sw.LastCheckInAt
		}
	}

	if e.signals != nil {
		lookback := defaultSignalMaxAge
		for _, d := range defs {
			if age := d.Params.SignalMaxAge.Std(); age > lookback {
				lookback = age
			}
		}
		signals, err := e.signals.ListSignals(ctx, userID, now.Add(-lookback))
		if err != nil {
			return ec, fmt.Errorf("failed to list external signals: %w", err)
		}
		ec.Signals = signals
	}
	return ec, nil
}

// TriggerEvaluation 同步评估用户的全部规则。单条规则出错只体现在结果里，不影响其他规则；
// 无论是否命中都写入历史。
func (e *Engine) TriggerEvaluation(ctx context.Context, userID string) ([]model.TriggerEvaluationResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", errors.InvalidRequest)
	}

	now := e.nowFn()
	defs, err := e.definitions(ctx, userID)
	if err != nil {
		return nil, err
	}
	ec, err := e.buildContext(ctx, userID, now, defs)
	if err != nil {
		return nil, err
	}

	results := make([]model.TriggerEvaluationResult, 0, len(defs))
	for _, d := range defs {
		if !d.Enabled {
			continue
		}
		res := model.TriggerEvaluationResult{
			TriggerID:   d.ID,
			UserID:      userID,
			Kind:        d.Kind,
			EvaluatedAt: now,
		}

		rule, ok := e.registry.Get(d.Kind)
		if !ok {
			e.logger.Warn("No rule registered for trigger kind",
				zap.String("user_id", userID),
				zap.String("trigger_id", d.ID),
				zap.String("kind", string(d.Kind)),
			)
			res.ReasonCodes = model.StringList{string(model.ReasonRuleError)}
			results = append(results, res)
			continue
		}

		out, err := rule.Evaluate(ctx, ec, d.Params)
		if err != nil {
			e.logger.Error("Trigger rule evaluation failed",
				zap.String("user_id", userID),
				zap.String("trigger_id", d.ID),
				zap.Error(err),
			)
			res.ReasonCodes = model.StringList{string(model.ReasonRuleError)}
			results = append(results, res)
			continue
		}

		res.Triggered = out.Triggered
		res.Confidence = clamp01(out.Confidence)
		res.ReasonCodes = reasonList(out.Reasons)
		results = append(results, res)
		metrics.RecordTriggerEvaluation(ctx, string(d.Kind), out.Triggered)
	}

	if err := e.store.AppendResults(ctx, userID, results, e.retain); err != nil {
		return nil, fmt.Errorf("failed to append evaluation history: %w", err)
	}

	triggered := 0
	for _, r := range results {
		if r.Triggered {
			triggered++
		}
	}
	e.logger.Info("Trigger evaluation completed",
		zap.String("user_id", userID),
		zap.Int("rules", len(results)),
		zap.Int("triggered", triggered),
	)
	return results, nil
}

func reasonList(codes []model.ReasonCode) model.StringList {
	out := make(model.StringList, 0, len(codes))
	for _, c := range codes {
		out = append(out, string(c))
	}
	return out
}

func (e *Engine) GetEvaluationHistory(ctx context.Context, userID string, limit int) ([]model.TriggerEvaluationResult, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return e.store.History(ctx, userID, limit)
}

// RegisterUser 覆盖写入评估计划；新计划立即到期
func (e *Engine) RegisterUser(ctx context.Context, userID string, req dto.ScheduleRequest) (*model.EvaluationSchedule, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", errors.InvalidRequest)
	}
	if _, ok := req.Frequency.Period(); !ok {
		return nil, fmt.Errorf("%w: unknown evaluation frequency %q", errors.InvalidConfiguration, req.Frequency)
	}

	now := e.nowFn()
	sc := &model.EvaluationSchedule{
		UserID:    userID,
		Frequency: req.Frequency,
		Enabled:   true,
		NextRunAt: now,
		UpdatedAt: now,
	}
	if req.Enabled != nil {
		sc.Enabled = *req.Enabled
	}

	if existing, err := e.store.GetSchedule(ctx, userID); err == nil {
		sc.LastRunAt = existing.LastRunAt
		if existing.LastRunAt != nil {
			period, _ := req.Frequency.Period()
			sc.NextRunAt = existing.LastRunAt.Add(period)
		}
	} else if !errors.Is(err, errors.NotFound) {
		return nil, err
	}

	if err := e.store.UpsertSchedule(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to save evaluation schedule: %w", err)
	}
	e.logger.Info("Evaluation schedule registered",
		zap.String("user_id", userID),
		zap.String("frequency", string(sc.Frequency)),
		zap.Bool("enabled", sc.Enabled),
	)
	return sc, nil
}

func (e *Engine) GetSchedule(ctx context.Context, userID string) (*model.EvaluationSchedule, error) {
	return e.store.GetSchedule(ctx, userID)
}

// SetUserEvaluationEnabled 只切换开关，不需要重新提交完整计划
func (e *Engine) SetUserEvaluationEnabled(ctx context.Context, userID string, enabled bool) (*model.EvaluationSchedule, error) {
	sc, err := e.store.GetSchedule(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sc.Enabled == enabled {
		return sc, nil
	}

	now := e.nowFn()
	sc.Enabled = enabled
	sc.UpdatedAt = now
	if enabled && sc.NextRunAt.Before(now) {
		sc.NextRunAt = now
	}
	if err := e.store.UpsertSchedule(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to save evaluation schedule: %w", err)
	}
	return sc, nil
}

// RegisterTrigger 新增或更新用户规则；ID 为空时生成
func (e *Engine) RegisterTrigger(ctx context.Context, userID string, req dto.TriggerRequest) (*model.TriggerDefinition, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", errors.InvalidRequest)
	}
	if err := validateDefinition(e.registry, req.Kind, req.Params); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		next, err := snowflake.NextString()
		if err != nil {
			return nil, fmt.Errorf("failed to generate trigger id: %w", err)
		}
		id = "trg_" + next
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = string(req.Kind)
	}

	def := &model.TriggerDefinition{
		ID:      id,
		UserID:  userID,
		Name:    name,
		Kind:    req.Kind,
		Params:  req.Params,
		Enabled: true,
	}
	if req.Enabled != nil {
		def.Enabled = *req.Enabled
	}
	if err := e.store.SaveDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save trigger definition: %w", err)
	}
	return def, nil
}

// ListTriggers 未注册任何规则时返回默认规则集
func (e *Engine) ListTriggers(ctx context.Context, userID string) ([]model.TriggerDefinition, error) {
	return e.definitions(ctx, userID)
}

func (e *Engine) RemoveTrigger(ctx context.Context, userID, id string) error {
	return e.store.DeleteDefinition(ctx, userID, id)
}

// ReportSignal 记录外部信号，下一次评估时生效
func (e *Engine) ReportSignal(ctx context.Context, userID, reporter string, req dto.SignalRequest) (*model.ExternalSignal, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", errors.InvalidRequest)
	}
	switch req.Type {
	case model.SignalTypeObituaryMatch, model.SignalTypeDeathCertificate,
		model.SignalTypeHospitalReport, model.SignalTypeManualDeclaration:
	default:
		return nil, fmt.Errorf("%w: unknown signal type %q", errors.InvalidRequest, req.Type)
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be within [0, 1]", errors.InvalidRequest)
	}

	id, err := snowflake.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signal id: %w", err)
	}
	observed := req.ObservedAt
	if observed.IsZero() {
		observed = e.nowFn()
	}
	sig := &model.ExternalSignal{
		ID:         id,
		UserID:     userID,
		Type:       req.Type,
		Source:     req.Source,
		ReportedBy: reporter,
		Confidence: req.Confidence,
		ObservedAt: observed,
	}
	if err := e.store.AddSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("failed to save external signal: %w", err)
	}
	e.logger.Info("External signal recorded",
		zap.String("user_id", userID),
		zap.String("type", string(req.Type)),
		zap.Float64("confidence", req.Confidence),
	)
	return sig, nil
}
