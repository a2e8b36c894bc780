package cache

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("sms", 2, time.Minute, nil).WithClock(func() time.Time { return now })
	ctx := context.Background()
	boom := stderrors.New("boom")

	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Call(ctx, fail), boom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Call(ctx, ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("webhook", 1, time.Second, nil).WithClock(func() time.Time { return now })
	ctx := context.Background()
	boom := stderrors.New("boom")

	_ = cb.Call(ctx, func(context.Context) error { return boom })
	require.Equal(t, StateOpen, cb.GetState())

	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, cb.Call(ctx, func(context.Context) error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Call(ctx, func(context.Context) error { return nil }), ErrOpen)
}
