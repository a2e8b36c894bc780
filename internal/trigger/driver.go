package trigger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"LegacyVault/internal/model"
	"LegacyVault/internal/release"
	"LegacyVault/internal/repository"
)

const defaultDueBatch = 200

// Driver 按用户评估计划驱动引擎，与 Monitor 相互独立
type Driver struct {
	engine *Engine
	store  repository.TriggerStore
	audit  release.AuditLogger
	logger *zap.Logger
	nowFn  func() time.Time
	batch  int
}

func NewDriver(engine *Engine, store repository.TriggerStore, audit release.AuditLogger, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		engine: engine,
		store:  store,
		audit:  audit,
		logger: logger,
		nowFn:  time.Now,
		batch:  defaultDueBatch,
	}
}

func (d *Driver) WithClock(nowFn func() time.Time) *Driver {
	d.nowFn = nowFn
	return d
}

// RunDue 执行所有到期的计划，返回成功评估的用户数。
// 评估失败的计划不推进，下一次驱动重试。
func (d *Driver) RunDue(ctx context.Context) (int, error) {
	now := d.nowFn()
	due, err := d.store.DueSchedules(ctx, now, d.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list due schedules: %w", err)
	}

	done := 0
	for i := range due {
		sc := due[i]
		if ctx.Err() != nil {
			return done, ctx.Err()
		}

		results, err := d.engine.TriggerEvaluation(ctx, sc.UserID)
		if err != nil {
			d.logger.Error("Scheduled evaluation failed",
				zap.String("user_id", sc.UserID),
				zap.Error(err),
			)
			continue
		}
		done++
		d.alert(ctx, sc.UserID, results, now)

		period, _ := sc.Frequency.Period()
		advanced, err := d.store.AdvanceSchedule(ctx, sc, now, now.Add(period))
		if err != nil {
			d.logger.Error("Failed to advance evaluation schedule",
				zap.String("user_id", sc.UserID),
				zap.Error(err),
			)
			continue
		}
		if !advanced {
			d.logger.Info("Evaluation schedule changed during run, not advancing",
				zap.String("user_id", sc.UserID),
			)
		}
	}
	return done, nil
}

// alert 高置信度命中写入合规审计
func (d *Driver) alert(ctx context.Context, userID string, results []model.TriggerEvaluationResult, now time.Time) {
	high := FilterHighConfidence(results)
	if len(high) == 0 {
		return
	}

	ids := make([]string, 0, len(high))
	for _, r := range high {
		ids = append(ids, r.TriggerID)
	}
	d.logger.Warn("High confidence trigger evaluation",
		zap.String("user_id", userID),
		zap.Strings("trigger_ids", ids),
	)

	if d.audit == nil {
		return
	}
	err := d.audit.AppendAuditLog(ctx, release.AuditEvent{
		Category:  release.CategoryTrigger,
		Action:    "high_confidence_evaluation",
		SubjectID: userID,
		OwnerID:   userID,
		Actor:     "system:trigger",
		Detail: map[string]interface{}{
			"trigger_ids": ids,
			"threshold":   HighConfidenceThreshold,
		},
		OccurredAt: now,
	})
	if err != nil {
		d.logger.Error("Failed to append trigger compliance event",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// Run 按固定间隔调用 RunDue，ctx 取消后返回
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("Trigger driver started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Trigger driver stopped")
			return
		case <-ticker.C:
			n, err := d.RunDue(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("Trigger driver pass failed", zap.Error(err))
				continue
			}
			if n > 0 {
				d.logger.Info("Trigger driver pass completed", zap.Int("evaluated", n))
			}
		}
	}
}
