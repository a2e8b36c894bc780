package schedule

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"LegacyVault/internal/deadman"
	"LegacyVault/internal/model"
	"LegacyVault/internal/release"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/metrics"
)

const releaseReason = "dead man's switch triggered"

// ReleaseSpanName 释放执行的 span 名，采样器据此全量保留
const ReleaseSpanName = "monitor.execute_release"

// releaseItem 释放计划中的一项，key 在同一次触发内唯一
type releaseItem struct {
	key  string
	kind string
	run  func(ctx context.Context, idempotencyKey string) (string, error)
}

func (m *Monitor) releaseItems(sw *model.DeadManSwitch, cfg Config) []releaseItem {
	plan := sw.Config.Release
	var items []releaseItem

	for i, g := range plan.Grants {
		g := g
		delay := cfg.GrantDelayHours
		if g.DelayHours != nil {
			delay = *g.DelayHours
		}
		items = append(items, releaseItem{
			key:  fmt.Sprintf("grant:%d", i),
			kind: "grant",
			run: func(ctx context.Context, key string) (string, error) {
				if m.collab.Grants == nil {
					return "", fmt.Errorf("%w: no grant collaborator", errors.TransientDeliveryFailure)
				}
				return m.collab.Grants.CreateTimeDelayedAccessGrant(ctx, release.GrantRequest{
					IdempotencyKey: key,
					SwitchID:       sw.ID,
					OwnerID:        sw.OwnerID,
					BeneficiaryID:  g.BeneficiaryID,
					ResourceType:   g.ResourceType,
					ResourceID:     g.ResourceID,
					DelayHours:     delay,
					Reason:         releaseReason,
				})
			},
		})
	}

	if o := plan.Override; o != nil {
		expire := cfg.OverrideExpirationHours
		if o.ExpirationHours != nil {
			expire = *o.ExpirationHours
		}
		items = append(items, releaseItem{
			key:  "override",
			kind: "override",
			run: func(ctx context.Context, key string) (string, error) {
				if m.collab.Overrides == nil {
					return "", fmt.Errorf("%w: no override collaborator", errors.TransientDeliveryFailure)
				}
				return m.collab.Overrides.CreateEmergencyOverride(ctx, release.OverrideRequest{
					IdempotencyKey:  key,
					SwitchID:        sw.ID,
					OwnerID:         sw.OwnerID,
					TriggeredBy:     model.ActorSystemMonitor,
					Reason:          releaseReason,
					OverrideType:    o.OverrideType,
					BeneficiaryID:   o.BeneficiaryID,
					ExpirationHours: expire,
				})
			},
		})
	}

	if plan.ActivateTokens {
		items = append(items, releaseItem{
			key:  "tokens",
			kind: "tokens",
			run: func(ctx context.Context, _ string) (string, error) {
				if m.collab.Tokens == nil {
					return "", fmt.Errorf("%w: no token activator", errors.TransientDeliveryFailure)
				}
				n, err := m.collab.Tokens.ActivateSwitchTokens(ctx, sw.ID)
				if err != nil {
					return "", err
				}
				return strconv.Itoa(n), nil
			},
		})
	}
	return items
}

type itemOutcome struct {
	item releaseItem
	ref  string
	err  error
}

// executeRelease 执行尚未完成的释放条目。
// 每项带着由触发时刻推导的幂等 key 调用协作方，提交前崩溃重跑也不会重复创建。
func (m *Monitor) executeRelease(ctx context.Context, sw *model.DeadManSwitch, cfg Config, now time.Time) error {
	if sw.Release.TriggeredAt == nil {
		return nil
	}
	triggeredAt := *sw.Release.TriggeredAt

	ctx, span := tracer.Start(ctx, ReleaseSpanName, trace.WithAttributes(attribute.String("switch.id", sw.ID)))
	defer span.End()

	keyBase := fmt.Sprintf("%s:%d", sw.ID, triggeredAt.UnixNano())

	items := m.releaseItems(sw, cfg)
	var outcomes []itemOutcome
	for _, item := range items {
		if sw.Release.Done(item.key) {
			continue
		}
		ref, err := item.run(ctx, keyBase+":"+item.key)
		outcomes = append(outcomes, itemOutcome{item: item, ref: ref, err: err})

		status := "success"
		if err != nil {
			status = "failed"
			span.AddEvent("release_item_failed", trace.WithAttributes(
				attribute.String("item", item.key),
				attribute.String("error", err.Error()),
			))
			logger.Ctx(ctx, m.logger).Warn("Release item failed, will retry next tick",
				zap.String("switch_id", sw.ID),
				zap.String("item", item.key),
				zap.Error(err),
			)
		}
		metrics.RecordReleaseItem(ctx, item.kind, status)
	}

	_, _, err := m.commit(ctx, sw.ID, func(fresh *model.DeadManSwitch) []model.SwitchAuditEntry {
		// 期间被重置，进度属于上一次触发
		if fresh.State != model.SwitchStateTriggered || fresh.Release.TriggeredAt == nil ||
			!fresh.Release.TriggeredAt.Equal(triggeredAt) || fresh.Release.CompletedAt != nil {
			return nil
		}
		if fresh.Release.Completed == nil {
			fresh.Release.Completed = map[string]string{}
		}

		var entries []model.SwitchAuditEntry
		for _, o := range outcomes {
			if o.err != nil {
				entries = append(entries, deadman.Note(fresh, now, model.AuditReasonReleaseFailed, model.AuditResultWarning,
					fmt.Sprintf("item=%s error=%s", o.item.key, truncate(o.err.Error(), 200))))
				continue
			}
			if fresh.Release.Done(o.item.key) {
				continue
			}
			fresh.Release.Completed[o.item.key] = o.ref
			entries = append(entries, deadman.Note(fresh, now, model.AuditReasonReleaseExecuted, model.AuditResultSuccess,
				fmt.Sprintf("item=%s ref=%s", o.item.key, o.ref)))
		}

		for _, item := range items {
			if !fresh.Release.Done(item.key) {
				return entries
			}
		}
		completedAt := now
		fresh.Release.CompletedAt = &completedAt
		if len(entries) == 0 {
			entries = append(entries, deadman.Note(fresh, now, model.AuditReasonReleaseExecuted, model.AuditResultSuccess, "release plan complete"))
		}
		return entries
	})
	if err != nil {
		return fmt.Errorf("failed to record release progress: %w", err)
	}

	m.appendCompliance(ctx, sw, outcomes, now)
	return nil
}

func (m *Monitor) appendCompliance(ctx context.Context, sw *model.DeadManSwitch, outcomes []itemOutcome, now time.Time) {
	if m.collab.Audit == nil {
		return
	}
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		err := m.collab.Audit.AppendAuditLog(ctx, release.AuditEvent{
			Category:  release.CategoryRelease,
			Action:    "release_" + o.item.kind,
			SubjectID: sw.ID,
			OwnerID:   sw.OwnerID,
			Actor:     model.ActorSystemMonitor,
			Detail: map[string]interface{}{
				"item": o.item.key,
				"ref":  o.ref,
			},
			OccurredAt: now,
		})
		if err != nil {
			m.logger.Error("Failed to append release compliance event",
				zap.String("switch_id", sw.ID),
				zap.String("item", o.item.key),
				zap.Error(err),
			)
		}
	}
}
