package trigger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegacyVault/internal/model"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/release"
	"LegacyVault/internal/repository"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/snowflake"
)

func TestMain(m *testing.M) {
	if err := snowflake.Init(1, 3); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type engineFixture struct {
	switches *repository.MemorySwitchStore
	store    *repository.MemoryTriggerStore
	engine   *Engine
	clock    *time.Time
}

func newEngineFixture(t *testing.T, registry *Registry) *engineFixture {
	t.Helper()
	if registry == nil {
		registry = DefaultRegistry()
	}
	defaults, err := LoadDefaults("", registry)
	require.NoError(t, err)

	clock := now
	f := &engineFixture{
		switches: repository.NewMemorySwitchStore(),
		store:    repository.NewMemoryTriggerStore(),
		clock:    &clock,
	}
	f.engine = NewEngine(f.switches, f.store, registry, nil,
		WithEngineClock(func() time.Time { return *f.clock }),
		WithDefaults(defaults),
	)
	return f
}

func (f *engineFixture) seed(t *testing.T, state model.SwitchState, lastCheckIn time.Time) {
	t.Helper()
	require.NoError(t, f.switches.Create(context.Background(), &model.DeadManSwitch{
		ID:            "sw-1",
		OwnerID:       "u1",
		State:         state,
		LastCheckInAt: lastCheckIn,
		ArmedAt:       lastCheckIn,
		Config: model.SwitchConfig{
			CheckInInterval:  model.Duration(24 * time.Hour),
			WarningThreshold: model.Duration(12 * time.Hour),
			GracePeriod:      model.Duration(24 * time.Hour),
		},
	}, nil))
}

func byTrigger(results []model.TriggerEvaluationResult) map[string]model.TriggerEvaluationResult {
	out := make(map[string]model.TriggerEvaluationResult, len(results))
	for _, r := range results {
		out[r.TriggerID] = r
	}
	return out
}

func TestEngine_DefaultRuleSet(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.seed(t, model.SwitchStateTriggered, now.Add(-4*24*time.Hour))
	ctx := context.Background()

	results, err := f.engine.TriggerEvaluation(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, results, 5)

	got := byTrigger(results)
	assert.True(t, got["default-switch-state"].Triggered)
	assert.Equal(t, 1.0, got["default-switch-state"].Confidence)
	assert.True(t, got["default-missed-check-ins"].Triggered)
	assert.False(t, got["default-inactivity"].Triggered)
	assert.False(t, got["default-manual-declaration"].Triggered)
	for _, r := range results {
		assert.Equal(t, now, r.EvaluatedAt)
		assert.NotEmpty(t, r.ReasonCodes)
	}

	high := FilterHighConfidence(results)
	assert.Len(t, high, 2)
}

func TestEngine_HistoryAppendedWithoutMatches(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	results, err := f.engine.TriggerEvaluation(ctx, "nobody")
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.Triggered)
	}

	*f.clock = now.Add(time.Hour)
	_, err = f.engine.TriggerEvaluation(ctx, "nobody")
	require.NoError(t, err)

	history, err := f.engine.GetEvaluationHistory(ctx, "nobody", 0)
	require.NoError(t, err)
	require.Len(t, history, 10)
	assert.Equal(t, now.Add(time.Hour), history[0].EvaluatedAt)

	history, err = f.engine.GetEvaluationHistory(ctx, "nobody", 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

type alwaysRule struct{}

func (alwaysRule) Kind() model.RuleKind { return "always" }

func (alwaysRule) Evaluate(context.Context, EvalContext, model.RuleParams) (Outcome, error) {
	return Outcome{Triggered: true, Confidence: 0.42, Reasons: []model.ReasonCode{"always"}}, nil
}

func TestEngine_CustomRuleKind(t *testing.T) {
	registry := DefaultRegistry()
	require.NoError(t, registry.Register(alwaysRule{}))
	assert.Error(t, registry.Register(alwaysRule{}))

	f := newEngineFixture(t, registry)
	ctx := context.Background()

	def, err := f.engine.RegisterTrigger(ctx, "u1", dto.TriggerRequest{Kind: "always"})
	require.NoError(t, err)
	assert.Equal(t, "always", def.Name)
	assert.True(t, def.Enabled)

	disabled := false
	_, err = f.engine.RegisterTrigger(ctx, "u1", dto.TriggerRequest{ID: "off", Kind: model.RuleKindInactivity, Enabled: &disabled})
	require.NoError(t, err)

	// 用户注册了规则后不再使用默认规则集
	results, err := f.engine.TriggerEvaluation(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, def.ID, results[0].TriggerID)
	assert.Equal(t, 0.42, results[0].Confidence)

	_, err = f.engine.RegisterTrigger(ctx, "u1", dto.TriggerRequest{Kind: "tea_leaves"})
	assert.ErrorIs(t, err, errors.InvalidConfiguration)

	require.NoError(t, f.engine.RemoveTrigger(ctx, "u1", def.ID))
	assert.ErrorIs(t, f.engine.RemoveTrigger(ctx, "u1", def.ID), errors.NotFound)
}

func TestEngine_ReportedSignalIsEvaluated(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.ReportSignal(ctx, "u1", "contact:c1", dto.SignalRequest{Type: "rumour", Confidence: 0.5})
	assert.ErrorIs(t, err, errors.InvalidRequest)

	sig, err := f.engine.ReportSignal(ctx, "u1", "contact:c1", dto.SignalRequest{Type: model.SignalTypeManualDeclaration, Confidence: 0.9})
	require.NoError(t, err)
	assert.Equal(t, now, sig.ObservedAt)

	results, err := f.engine.TriggerEvaluation(ctx, "u1")
	require.NoError(t, err)
	decl := byTrigger(results)["default-manual-declaration"]
	assert.True(t, decl.Triggered)
	assert.Equal(t, 0.9, decl.Confidence)
}

func TestEngine_ScheduleLifecycle(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.RegisterUser(ctx, "u1", dto.ScheduleRequest{Frequency: "fortnightly"})
	assert.ErrorIs(t, err, errors.InvalidConfiguration)

	_, err = f.engine.SetUserEvaluationEnabled(ctx, "u1", false)
	assert.ErrorIs(t, err, errors.NotFound)

	sc, err := f.engine.RegisterUser(ctx, "u1", dto.ScheduleRequest{Frequency: model.FrequencyDaily})
	require.NoError(t, err)
	assert.True(t, sc.Enabled)
	assert.Equal(t, now, sc.NextRunAt)

	sc, err = f.engine.SetUserEvaluationEnabled(ctx, "u1", false)
	require.NoError(t, err)
	assert.False(t, sc.Enabled)

	got, err := f.engine.GetSchedule(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, model.FrequencyDaily, got.Frequency)
}

func TestDriver_RunDue(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.seed(t, model.SwitchStateTriggered, now.Add(-4*24*time.Hour))
	ctx := context.Background()

	releases := repository.NewMemoryReleaseStore()
	audit := release.NewStoreCollaborator(releases, nil)
	driver := NewDriver(f.engine, f.store, audit, nil).WithClock(func() time.Time { return *f.clock })

	_, err := f.engine.RegisterUser(ctx, "u1", dto.ScheduleRequest{Frequency: model.FrequencyDaily})
	require.NoError(t, err)
	_, err = f.engine.RegisterUser(ctx, "u2", dto.ScheduleRequest{Frequency: model.FrequencyRealtime})
	require.NoError(t, err)
	off := false
	_, err = f.engine.RegisterUser(ctx, "u3", dto.ScheduleRequest{Frequency: model.FrequencyHourly, Enabled: &off})
	require.NoError(t, err)

	n, err := driver.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sc, err := f.engine.GetSchedule(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), sc.NextRunAt)
	require.NotNil(t, sc.LastRunAt)

	// realtime 每次驱动都执行
	n, err = driver.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	*f.clock = now.Add(24 * time.Hour)
	n, err = driver.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events, err := releases.ListCompliance(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "high_confidence_evaluation", events[0].Action)
	assert.Equal(t, release.CategoryTrigger, events[0].Category)
}

// scheduleEditingStore 在评估结果写入时执行 onAppend，模拟评估期间的计划修改
type scheduleEditingStore struct {
	*repository.MemoryTriggerStore
	onAppend func(ctx context.Context, userID string)
}

func (s *scheduleEditingStore) AppendResults(ctx context.Context, userID string, results []model.TriggerEvaluationResult, retain int) error {
	if s.onAppend != nil {
		s.onAppend(ctx, userID)
	}
	return s.MemoryTriggerStore.AppendResults(ctx, userID, results, retain)
}

func TestDriver_RunDueKeepsConcurrentScheduleChanges(t *testing.T) {
	ctx := context.Background()
	registry := DefaultRegistry()
	defaults, err := LoadDefaults("", registry)
	require.NoError(t, err)

	store := &scheduleEditingStore{MemoryTriggerStore: repository.NewMemoryTriggerStore()}
	engine := NewEngine(repository.NewMemorySwitchStore(), store, registry, nil,
		WithEngineClock(func() time.Time { return now }),
		WithDefaults(defaults),
	)
	driver := NewDriver(engine, store, nil, nil).WithClock(func() time.Time { return now })

	_, err = engine.RegisterUser(ctx, "u1", dto.ScheduleRequest{Frequency: model.FrequencyDaily})
	require.NoError(t, err)
	_, err = engine.RegisterUser(ctx, "u2", dto.ScheduleRequest{Frequency: model.FrequencyDaily})
	require.NoError(t, err)

	store.onAppend = func(ctx context.Context, userID string) {
		switch userID {
		case "u1":
			_, err := engine.SetUserEvaluationEnabled(ctx, "u1", false)
			require.NoError(t, err)
		case "u2":
			_, err := engine.RegisterUser(ctx, "u2", dto.ScheduleRequest{Frequency: model.FrequencyHourly})
			require.NoError(t, err)
		}
	}

	n, err := driver.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sc, err := engine.GetSchedule(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, sc.Enabled)
	assert.Nil(t, sc.LastRunAt)

	sc, err = engine.GetSchedule(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, model.FrequencyHourly, sc.Frequency)
	assert.True(t, sc.Enabled)
	assert.Equal(t, now, sc.NextRunAt)
	assert.Nil(t, sc.LastRunAt)
}
