package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
type OTelMetrics struct {
	// Monitor
	MonitorTicksTotal      metric.Int64Counter
	MonitorTickDuration    metric.Float64Histogram
	SwitchTransitionsTotal metric.Int64Counter
	ReleaseItemsTotal      metric.Int64Counter

	// 通知
	NotificationsTotal       metric.Int64Counter
	NotificationSendDuration metric.Float64Histogram
	NotificationRetryTotal   metric.Int64Counter

	// 令牌与限流
	TokenValidationsTotal metric.Int64Counter
	RateLimitRejectTotal  metric.Int64Counter

	// 触发规则
	TriggerEvaluationsTotal metric.Int64Counter
}

var (
	// 全局指标实例
	metrics *OTelMetrics
	// meter 用于创建指标
	meter = otel.Meter("legacyvault")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	m := &OTelMetrics{}
	var err error

	if m.MonitorTicksTotal, err = meter.Int64Counter(
		"monitor_ticks_total",
		metric.WithDescription("Total number of monitor ticks"),
		metric.WithUnit("{tick}"),
	); err != nil {
		return err
	}

	if m.MonitorTickDuration, err = meter.Float64Histogram(
		"monitor_tick_duration_seconds",
		metric.WithDescription("Time spent evaluating all switches in one tick"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	if m.SwitchTransitionsTotal, err = meter.Int64Counter(
		"switch_transitions_total",
		metric.WithDescription("Total number of switch state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return err
	}

	if m.ReleaseItemsTotal, err = meter.Int64Counter(
		"release_items_total",
		metric.WithDescription("Total number of release plan items executed"),
		metric.WithUnit("{item}"),
	); err != nil {
		return err
	}

	if m.NotificationsTotal, err = meter.Int64Counter(
		"notifications_total",
		metric.WithDescription("Total number of notifications delivered"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return err
	}

	if m.NotificationSendDuration, err = meter.Float64Histogram(
		"notification_send_duration_seconds",
		metric.WithDescription("Time spent sending a notification in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	if m.NotificationRetryTotal, err = meter.Int64Counter(
		"notification_retry_total",
		metric.WithDescription("Total number of notification retry attempts"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return err
	}

	if m.TokenValidationsTotal, err = meter.Int64Counter(
		"token_validations_total",
		metric.WithDescription("Total number of emergency token validations"),
		metric.WithUnit("{validation}"),
	); err != nil {
		return err
	}

	if m.RateLimitRejectTotal, err = meter.Int64Counter(
		"rate_limit_rejected_total",
		metric.WithDescription("Total number of requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	); err != nil {
		return err
	}

	if m.TriggerEvaluationsTotal, err = meter.Int64Counter(
		"trigger_evaluations_total",
		metric.WithDescription("Total number of trigger rule evaluations"),
		metric.WithUnit("{evaluation}"),
	); err != nil {
		return err
	}

	metrics = m
	return nil
}

// GetMetrics 获取全局指标实例，未初始化时为 nil
func GetMetrics() *OTelMetrics {
	return metrics
}

func (m *OTelMetrics) RecordMonitorTick(ctx context.Context, result string, seconds float64) {
	m.MonitorTicksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.MonitorTickDuration.Record(ctx, seconds)
}

func (m *OTelMetrics) RecordTransition(ctx context.Context, from, to string) {
	m.SwitchTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *OTelMetrics) RecordReleaseItem(ctx context.Context, kind, status string) {
	m.ReleaseItemsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func (m *OTelMetrics) RecordNotification(ctx context.Context, channel, status string, seconds float64) {
	m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
	m.NotificationSendDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("channel", channel)))
}

func (m *OTelMetrics) RecordNotificationRetry(ctx context.Context, channel, reason string) {
	m.NotificationRetryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("retry_reason", reason),
	))
}

func (m *OTelMetrics) RecordTokenValidation(ctx context.Context, outcome string) {
	m.TokenValidationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *OTelMetrics) RecordRateLimited(ctx context.Context, scope string) {
	m.RateLimitRejectTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

func (m *OTelMetrics) RecordTriggerEvaluation(ctx context.Context, kind string, triggered bool) {
	m.TriggerEvaluationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("triggered", triggered),
	))
}
