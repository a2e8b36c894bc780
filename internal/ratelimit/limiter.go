// Package ratelimit 固定窗口计数限流。
package ratelimit

import (
	"context"
	"time"
)

// Decision 一次计数的结果
type Decision struct {
	Allowed bool
	Count   int
	Limit   int
	ResetAt time.Time
}

func (d Decision) Remaining() int {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// Limiter 每次调用计数一次
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// AllowAll 对每个 key 计数，任何一个超限即拒绝；返回最严格的结果
func AllowAll(ctx context.Context, l Limiter, keys ...string) (Decision, error) {
	var worst Decision
	first := true
	for _, key := range keys {
		if key == "" {
			continue
		}
		d, err := l.Allow(ctx, key)
		if err != nil {
			return Decision{}, err
		}
		if first || !d.Allowed || (worst.Allowed && d.Remaining() < worst.Remaining()) {
			worst = d
			first = false
		}
	}
	if first {
		return Decision{Allowed: true}, nil
	}
	return worst, nil
}
