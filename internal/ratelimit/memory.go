package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter 单进程固定窗口限流。
// 清理与计数共用一把锁：清理只删除已过期窗口，最多导致少计，不会多计。
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*window
	nowFn   func() time.Time
	logger  *zap.Logger
}

func NewMemoryLimiter(limit int, w time.Duration, logger *zap.Logger) *MemoryLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  w,
		entries: make(map[string]*window),
		nowFn:   time.Now,
		logger:  logger,
	}
}

// WithClock 测试注入时钟
func (l *MemoryLimiter) WithClock(nowFn func() time.Time) *MemoryLimiter {
	l.nowFn = nowFn
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	e, ok := l.entries[key]
	if !ok || !now.Before(e.start.Add(l.window)) {
		e = &window{start: now}
		l.entries[key] = e
	}
	e.count++

	return Decision{
		Allowed: e.count <= l.limit,
		Count:   e.count,
		Limit:   l.limit,
		ResetAt: e.start.Add(l.window),
	}, nil
}

// Cleanup 删除过期窗口，返回删除数量
func (l *MemoryLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	removed := 0
	for key, e := range l.entries {
		if !now.Before(e.start.Add(l.window)) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanup 以较低频率清理，ctx 取消后退出
func (l *MemoryLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := l.Cleanup(); removed > 0 {
					l.logger.Debug("Rate limiter cleanup", zap.Int("removed", removed))
				}
			}
		}
	}()
}

func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
