package storage

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	inits  []string
	closes []string
}

func (r *recorder) component(name string, initErr, closeErr error) component {
	return component{
		name: name,
		init: func() error {
			r.inits = append(r.inits, name)
			return initErr
		},
		close: func(context.Context) error {
			r.closes = append(r.closes, name)
			return closeErr
		},
	}
}

func withComponents(t *testing.T, cs ...component) {
	t.Helper()
	prev := components
	components = cs
	t.Cleanup(func() {
		components = prev
		opened = nil
	})
}

func TestClose_ReverseOrderAndJoinedErrors(t *testing.T) {
	r := &recorder{}
	dbErr := stderrors.New("db busy")
	mqErr := stderrors.New("channel closed")
	withComponents(t,
		r.component("database", nil, dbErr),
		r.component("redis", nil, nil),
		r.component("mq", nil, mqErr),
	)

	require.NoError(t, Init())
	assert.Equal(t, []string{"database", "redis", "mq"}, r.inits)

	err := Close()
	require.Error(t, err)
	assert.Equal(t, []string{"mq", "redis", "database"}, r.closes)
	assert.ErrorIs(t, err, dbErr)
	assert.ErrorIs(t, err, mqErr)
	assert.Contains(t, err.Error(), "close database")

	// 已经全部关闭，重复调用不再触发
	require.NoError(t, Close())
	assert.Len(t, r.closes, 3)
}

func TestInit_FailureClosesOpened(t *testing.T) {
	r := &recorder{}
	boom := stderrors.New("dial tcp: refused")
	withComponents(t,
		r.component("database", nil, nil),
		r.component("redis", boom, nil),
		r.component("mq", nil, nil),
	)

	err := Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "redis")
	assert.Equal(t, []string{"database", "redis"}, r.inits)
	assert.Equal(t, []string{"database"}, r.closes)

	require.NoError(t, Close())
	assert.Equal(t, []string{"database"}, r.closes)
}
