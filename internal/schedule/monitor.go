package schedule

// 死手开关巡检：按固定间隔推进状态、投递通知、执行释放计划

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"LegacyVault/internal/cache"
	"LegacyVault/internal/deadman"
	"LegacyVault/internal/model"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/release"
	"LegacyVault/internal/repository"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/metrics"
)

const maxCommitAttempts = 5

var tracer = otel.Tracer("legacyvault/monitor")

type Config struct {
	Interval                time.Duration
	Concurrency             int
	GrantDelayHours         int
	OverrideExpirationHours int
	// LockTTL 分布式锁有效期，需大于单个开关的处理耗时
	LockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.OverrideExpirationHours <= 0 {
		c.OverrideExpirationHours = 168
	}
	if c.LockTTL <= 0 {
		c.LockTTL = time.Minute
	}
	return c
}

// Collaborators 触发后的外部协作方，Tokens 与 Audit 可为空
type Collaborators struct {
	Grants    release.GrantCreator
	Overrides release.OverrideCreator
	Notifier  release.Notifier
	Tokens    release.TokenActivator
	Audit     release.AuditLogger
}

type MonitorOption func(*Monitor)

func WithMonitorClock(nowFn func() time.Time) MonitorOption {
	return func(m *Monitor) { m.nowFn = nowFn }
}

// WithLocker 多个调度实例部署时用分布式锁保证单写
func WithLocker(l cache.Locker) MonitorOption {
	return func(m *Monitor) { m.locker = l }
}

// Monitor 显式构造，状态都在实例上
type Monitor struct {
	store    repository.SwitchStore
	collab   Collaborators
	locker   cache.Locker
	switchMu *cache.KeyedMutex
	logger   *zap.Logger
	nowFn    func() time.Time

	// loopMu 串行化定时巡检与 ForceCheck
	loopMu sync.Mutex

	mu          sync.RWMutex
	cfg         Config
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	reconfig    chan struct{}
	lastCheckAt time.Time
	nextCheckAt time.Time

	evaluated atomic.Int64
	triggered atomic.Int64
}

func NewMonitor(store repository.SwitchStore, collab Collaborators, cfg Config, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		store:    store,
		collab:   collab,
		switchMu: cache.NewKeyedMutex(),
		logger:   logger,
		nowFn:    time.Now,
		cfg:      cfg.withDefaults(),
		reconfig: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Monitor) Config() Config {
	return m.config()
}

// Start 幂等，已在运行时直接返回
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.nextCheckAt = m.nowFn().Add(m.cfg.Interval)
	interval := m.cfg.Interval
	done := m.done
	m.mu.Unlock()

	m.logger.Info("Monitor started", zap.Duration("interval", interval))
	go m.loop(loopCtx, interval, done)
}

// Stop 等待正在执行的巡检结束
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.cancel = nil
	m.nextCheckAt = time.Time{}
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("Monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reconfig:
			interval = m.config().Interval
			ticker.Reset(interval)
			m.setNextCheck(interval)
			m.logger.Info("Monitor interval updated", zap.Duration("interval", interval))
		case <-ticker.C:
			if _, err := m.RunPass(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Monitor pass failed", zap.Error(err))
			}
			m.setNextCheck(m.config().Interval)
		}
	}
}

func (m *Monitor) setNextCheck(interval time.Duration) {
	m.mu.Lock()
	if m.running {
		m.nextCheckAt = m.nowFn().Add(interval)
	}
	m.mu.Unlock()
}

// ForceCheck 同步执行一次巡检，与定时巡检互斥
func (m *Monitor) ForceCheck(ctx context.Context) (dto.PassResult, error) {
	m.logger.Info("Force check requested")
	return m.RunPass(ctx)
}

func (m *Monitor) Status() dto.MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := dto.MonitorStatus{
		Running:           m.running,
		SwitchesEvaluated: m.evaluated.Load(),
		SwitchesTriggered: m.triggered.Load(),
		IntervalSeconds:   int(m.cfg.Interval / time.Second),
		Concurrency:       m.cfg.Concurrency,
	}
	if !m.lastCheckAt.IsZero() {
		t := m.lastCheckAt
		st.LastCheckAt = &t
	}
	if m.running && !m.nextCheckAt.IsZero() {
		t := m.nextCheckAt
		st.NextCheckAt = &t
	}
	return st
}

// UpdateConfig 下一次巡检生效；间隔变化时重置定时器
func (m *Monitor) UpdateConfig(req dto.MonitorConfigRequest) (Config, error) {
	if req.IntervalSeconds != nil && *req.IntervalSeconds <= 0 {
		return Config{}, fmt.Errorf("%w: interval_seconds must be positive", errors.InvalidConfiguration)
	}
	if req.Concurrency != nil && *req.Concurrency <= 0 {
		return Config{}, fmt.Errorf("%w: concurrency must be positive", errors.InvalidConfiguration)
	}
	if req.GrantDelayHours != nil && *req.GrantDelayHours < 0 {
		return Config{}, fmt.Errorf("%w: grant_delay_hours must not be negative", errors.InvalidConfiguration)
	}
	if req.OverrideExpirationHours != nil && *req.OverrideExpirationHours <= 0 {
		return Config{}, fmt.Errorf("%w: override_expiration_hours must be positive", errors.InvalidConfiguration)
	}

	m.mu.Lock()
	intervalChanged := false
	if req.IntervalSeconds != nil {
		interval := time.Duration(*req.IntervalSeconds) * time.Second
		intervalChanged = interval != m.cfg.Interval
		m.cfg.Interval = interval
	}
	if req.Concurrency != nil {
		m.cfg.Concurrency = *req.Concurrency
	}
	if req.GrantDelayHours != nil {
		m.cfg.GrantDelayHours = *req.GrantDelayHours
	}
	if req.OverrideExpirationHours != nil {
		m.cfg.OverrideExpirationHours = *req.OverrideExpirationHours
	}
	cfg := m.cfg
	running := m.running
	m.mu.Unlock()

	if intervalChanged && running {
		select {
		case m.reconfig <- struct{}{}:
		default:
		}
	}

	m.logger.Info("Monitor config updated",
		zap.Duration("interval", cfg.Interval),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("grant_delay_hours", cfg.GrantDelayHours),
		zap.Int("override_expiration_hours", cfg.OverrideExpirationHours),
	)
	return cfg, nil
}

// RunPass 处理所有需要巡检的开关。单个开关失败只记录，不影响其他开关。
func (m *Monitor) RunPass(ctx context.Context) (dto.PassResult, error) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	ctx, span := tracer.Start(ctx, "monitor.pass")
	defer span.End()

	start := m.nowFn()
	result := dto.PassResult{StartedAt: start}
	began := time.Now()

	switches, err := m.store.ListMonitored(ctx)
	if err != nil {
		metrics.RecordMonitorTick(ctx, "error", time.Since(began).Seconds())
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("failed to list monitored switches: %w", err)
	}

	cfg := m.config()
	var triggered, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, sw := range switches {
		id := sw.ID
		g.Go(func() error {
			hit, err := m.evaluate(gctx, id, cfg)
			if err != nil {
				failed.Add(1)
				logger.Ctx(ctx, m.logger).Error("Failed to evaluate switch",
					zap.String("switch_id", id),
					zap.Error(err),
				)
				return nil
			}
			if hit {
				triggered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Evaluated = len(switches)
	result.Triggered = int(triggered.Load())
	result.Failed = int(failed.Load())
	result.DurationMS = time.Since(began).Milliseconds()

	m.evaluated.Add(int64(result.Evaluated))
	m.triggered.Add(int64(result.Triggered))
	m.mu.Lock()
	m.lastCheckAt = start
	m.mu.Unlock()

	outcome := "success"
	if result.Failed > 0 {
		outcome = "partial"
	}
	span.SetAttributes(
		attribute.Int("monitor.evaluated", result.Evaluated),
		attribute.Int("monitor.triggered", result.Triggered),
		attribute.Int("monitor.failed", result.Failed),
	)
	metrics.RecordMonitorTick(ctx, outcome, time.Since(began).Seconds())

	m.logger.Info("Monitor pass completed",
		zap.Int("evaluated", result.Evaluated),
		zap.Int("triggered", result.Triggered),
		zap.Int("failed", result.Failed),
		zap.Int64("duration_ms", result.DurationMS),
	)
	return result, nil
}

// evaluate 单个开关的临界区；返回本次是否进入 triggered
func (m *Monitor) evaluate(ctx context.Context, id string, cfg Config) (hit bool, err error) {
	ctx, span := tracer.Start(ctx, "monitor.evaluate_switch", trace.WithAttributes(attribute.String("switch.id", id)))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("switch.triggered", hit))
		span.End()
	}()

	unlock := m.switchMu.Lock(id)
	defer unlock()

	if m.locker != nil {
		releaseLock, ok, err := m.locker.TryLock(ctx, "switch:"+id, cfg.LockTTL)
		if err != nil {
			return false, fmt.Errorf("failed to acquire switch lock: %w", err)
		}
		if !ok {
			m.logger.Debug("Switch locked by another instance, skipping", zap.String("switch_id", id))
			return false, nil
		}
		defer releaseLock()
	}

	now := m.nowFn()
	sw, entries, err := m.commit(ctx, id, func(sw *model.DeadManSwitch) []model.SwitchAuditEntry {
		return deadman.Advance(sw, now)
	})
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return false, nil
		}
		return false, err
	}

	for _, e := range entries {
		metrics.RecordTransition(ctx, string(e.FromState), string(e.ToState))
		if e.ToState == model.SwitchStateTriggered {
			hit = true
		}
		m.logger.Info("Switch state advanced",
			zap.String("switch_id", id),
			zap.String("from", string(e.FromState)),
			zap.String("to", string(e.ToState)),
			zap.String("detail", e.Detail),
		)
	}

	if !sw.State.Monitored() {
		return hit, nil
	}

	span.SetAttributes(attribute.String("switch.state", string(sw.State)))
	if sw, err = m.notify(ctx, sw, now); err != nil {
		return hit, err
	}

	if sw.State == model.SwitchStateTriggered && sw.Release.CompletedAt == nil {
		if err := m.executeRelease(ctx, sw, cfg, now); err != nil {
			return hit, err
		}
	}
	return hit, nil
}

// commit 每次都从存储重新读取再计算，版本冲突说明期间有签到等写入，丢弃计算结果重试
func (m *Monitor) commit(ctx context.Context, id string, apply func(sw *model.DeadManSwitch) []model.SwitchAuditEntry) (*model.DeadManSwitch, []model.SwitchAuditEntry, error) {
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		sw, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}

		expected := sw.Version
		entries := apply(sw)
		if len(entries) == 0 {
			return sw, nil, nil
		}

		err = m.store.Save(ctx, sw, expected, entries)
		if err == nil {
			return sw, entries, nil
		}
		if !errors.Is(err, errors.Conflict) {
			return nil, nil, err
		}
		m.logger.Debug("Switch changed during evaluation, retrying",
			zap.String("switch_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return nil, nil, fmt.Errorf("%w: switch %s kept changing", errors.Conflict, id)
}

// notify 按级别顺序投递，遇到失败停止，下个周期从失败的级别继续
func (m *Monitor) notify(ctx context.Context, sw *model.DeadManSwitch, now time.Time) (*model.DeadManSwitch, error) {
	pending := deadman.PendingNotices(sw, now)
	if len(pending) == 0 || m.collab.Notifier == nil {
		return sw, nil
	}

	epoch := deadman.ReferenceTime(sw)
	var delivered []deadman.Notice
	var failure error
	for _, n := range pending {
		if len(n.Recipients) > 0 {
			if err := m.collab.Notifier.DeliverNotification(ctx, notificationFor(sw, n, epoch, now)); err != nil {
				failure = err
				break
			}
		}
		delivered = append(delivered, n)
	}

	if failure != nil {
		m.logger.Warn("Notification delivery failed, will retry next tick",
			zap.String("switch_id", sw.ID),
			zap.Int("level", pending[len(delivered)].Level),
			zap.Error(failure),
		)
	}

	updated, _, err := m.commit(ctx, sw.ID, func(fresh *model.DeadManSwitch) []model.SwitchAuditEntry {
		// 期间有签到，本轮通知已失效，不再推进级别
		if !deadman.ReferenceTime(fresh).Equal(epoch) {
			return nil
		}
		var entries []model.SwitchAuditEntry
		for _, n := range delivered {
			if fresh.NotifiedLevel > n.Level {
				continue
			}
			fresh.NotifiedLevel = n.Level + 1
			entries = append(entries, deadman.Note(fresh, now, model.AuditReasonNotificationSent, model.AuditResultSuccess,
				fmt.Sprintf("level=%d action=%s recipients=%d", n.Level, n.Action, len(n.Recipients))))
		}
		if failure != nil {
			n := pending[len(delivered)]
			entries = append(entries, deadman.Note(fresh, now, model.AuditReasonNotifyFailed, model.AuditResultWarning,
				fmt.Sprintf("level=%d error=%s", n.Level, truncate(failure.Error(), 200))))
		}
		return entries
	})
	if err != nil {
		return sw, fmt.Errorf("failed to record notifications: %w", err)
	}
	return updated, nil
}

func notificationFor(sw *model.DeadManSwitch, n deadman.Notice, epoch, now time.Time) release.Notification {
	category := "switch_escalation"
	if n.Level == 0 {
		category = "switch_warning"
	}
	if sw.State == model.SwitchStateTriggered && n.Level == len(sw.Config.EscalationStages) {
		category = "switch_triggered"
	}
	return release.Notification{
		// 同一轮计时的同一级别 ID 固定，重试与重复巡检由消费端去重
		MessageID:  fmt.Sprintf("notify:%s:%d:%d", sw.ID, epoch.Unix(), n.Level),
		SwitchID:   sw.ID,
		OwnerID:    sw.OwnerID,
		Level:      n.Level,
		Category:   category,
		Template:   n.Template,
		Recipients: n.Recipients,
		Payload: map[string]string{
			"switch_id":         sw.ID,
			"switch_name":       sw.Name,
			"state":             string(sw.State),
			"level":             fmt.Sprintf("%d", n.Level),
			"last_check_in_at":  sw.LastCheckInAt.UTC().Format(time.RFC3339),
			"effective_elapsed": deadman.EffectiveElapsed(sw, now).Truncate(time.Minute).String(),
		},
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
