package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(20, time.Hour, nil).WithClock(clock.Now)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		d, err := l.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d", i)
	}

	d, err := l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining())

	other, _ := l.Allow(ctx, "ip:10.0.0.2")
	assert.True(t, other.Allowed)

	clock.Advance(time.Hour)
	d, _ = l.Allow(ctx, "ip:10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(5, time.Minute, nil).WithClock(clock.Now)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a")
	clock.Advance(30 * time.Second)
	_, _ = l.Allow(ctx, "b")
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, l.Cleanup())
	assert.Equal(t, 1, l.Len())

	d, _ := l.Allow(ctx, "b")
	assert.Equal(t, 2, d.Count)
}

func TestMemoryLimiter_ConcurrentWithCleanupNeverOverCounts(t *testing.T) {
	l := NewMemoryLimiter(1000, time.Hour, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = l.Allow(ctx, "shared")
				l.Cleanup()
			}
		}()
	}
	wg.Wait()

	d, _ := l.Allow(ctx, "shared")
	assert.LessOrEqual(t, d.Count, 801)
	assert.True(t, d.Allowed)
}

func TestAllowAll(t *testing.T) {
	l := NewMemoryLimiter(2, time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := AllowAll(ctx, l, "ip:1", "token:abc")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	// 同一个 token 换 IP 也会被 token 维度拦住
	d, err := AllowAll(ctx, l, "ip:2", "token:abc")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = AllowAll(ctx, l, "", "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
