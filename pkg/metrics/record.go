package metrics

import "context"

// 包级快捷函数，指标未初始化时直接忽略

func RecordMonitorTick(ctx context.Context, result string, seconds float64) {
	if m := GetMetrics(); m != nil {
		m.RecordMonitorTick(ctx, result, seconds)
	}
}

func RecordTransition(ctx context.Context, from, to string) {
	if m := GetMetrics(); m != nil {
		m.RecordTransition(ctx, from, to)
	}
}

func RecordReleaseItem(ctx context.Context, kind, status string) {
	if m := GetMetrics(); m != nil {
		m.RecordReleaseItem(ctx, kind, status)
	}
}

func RecordNotification(ctx context.Context, channel, status string, seconds float64) {
	if m := GetMetrics(); m != nil {
		m.RecordNotification(ctx, channel, status, seconds)
	}
}

func RecordNotificationRetry(ctx context.Context, channel, reason string) {
	if m := GetMetrics(); m != nil {
		m.RecordNotificationRetry(ctx, channel, reason)
	}
}

func RecordTokenValidation(ctx context.Context, outcome string) {
	if m := GetMetrics(); m != nil {
		m.RecordTokenValidation(ctx, outcome)
	}
}

func RecordRateLimited(ctx context.Context, scope string) {
	if m := GetMetrics(); m != nil {
		m.RecordRateLimited(ctx, scope)
	}
}

func RecordTriggerEvaluation(ctx context.Context, kind string, triggered bool) {
	if m := GetMetrics(); m != nil {
		m.RecordTriggerEvaluation(ctx, kind, triggered)
	}
}
