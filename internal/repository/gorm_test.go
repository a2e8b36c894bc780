package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
)

func setupMockGorm(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return sqlDB, mock, gdb
}

func TestGormTokenStore_IncrementUses(t *testing.T) {
	sqlDB, mock, gdb := setupMockGorm(t)
	defer sqlDB.Close()

	store := NewGormTokenStore(gdb)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "emergency_access_tokens" SET .*current_uses \+ 1.* WHERE id = .* AND current_uses < max_uses AND revoked_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "token_access_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()
	ok, err := store.IncrementUses(ctx, "tok-1", time.Now(), &model.AccessLogEntry{TokenID: "tok-1", Action: model.AccessActionUse})
	require.NoError(t, err)
	assert.True(t, ok)

	// 已用尽：条件不满足，影响 0 行，也不写日志
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "emergency_access_tokens" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	ok, err = store.IncrementUses(ctx, "tok-1", time.Now(), &model.AccessLogEntry{TokenID: "tok-1", Action: model.AccessActionUse})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormTokenStore_IncrementUsesRollsBackWhenLogFails(t *testing.T) {
	sqlDB, mock, gdb := setupMockGorm(t)
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "emergency_access_tokens" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "token_access_logs"`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	ok, err := NewGormTokenStore(gdb).IncrementUses(context.Background(), "tok-1", time.Now(),
		&model.AccessLogEntry{TokenID: "tok-1", Action: model.AccessActionUse})
	require.Error(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormTokenStore_ExtendSkipsRevoked(t *testing.T) {
	sqlDB, mock, gdb := setupMockGorm(t)
	defer sqlDB.Close()

	store := NewGormTokenStore(gdb)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(`UPDATE "emergency_access_tokens" SET .*expires_at.* WHERE id = .* AND revoked_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err := store.Extend(ctx, "tok-1", now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(`UPDATE "emergency_access_tokens" SET .*activated_at.* WHERE id = .* AND revoked_at IS NULL AND activated_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err = store.Activate(ctx, "tok-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormTokenStore_GetNotFound(t *testing.T) {
	sqlDB, mock, gdb := setupMockGorm(t)
	defer sqlDB.Close()

	mock.ExpectQuery(`SELECT \* FROM "emergency_access_tokens" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewGormTokenStore(gdb).Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSwitchStore_SaveVersionConflict(t *testing.T) {
	sqlDB, mock, gdb := setupMockGorm(t)
	defer sqlDB.Close()

	sw := &model.DeadManSwitch{ID: "sw-1", OwnerID: "owner-1", State: model.SwitchStateArmed, Version: 3}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "dead_man_switches" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := NewGormSwitchStore(gdb).Save(context.Background(), sw, 3, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Conflict))
	assert.Equal(t, int64(3), sw.Version)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSwitchStore_SaveWithAudit(t *testing.T) {
	sqlDB, mock, gdb := setupMockGorm(t)
	defer sqlDB.Close()

	sw := &model.DeadManSwitch{ID: "sw-1", OwnerID: "owner-1", State: model.SwitchStateWarning, Version: 3}
	entries := []model.SwitchAuditEntry{{
		SwitchID: "sw-1", Seq: 4, OwnerID: "owner-1", Timestamp: time.Now(),
		FromState: model.SwitchStateArmed, ToState: model.SwitchStateWarning,
		Reason: model.AuditReasonInactivityWarning, Actor: model.ActorSystemMonitor,
		Result: model.AuditResultSuccess, Hash: "h",
	}}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "dead_man_switches" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "switch_audit_entries"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectCommit()

	err := NewGormSwitchStore(gdb).Save(context.Background(), sw, 3, entries)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sw.Version)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSwitchStore_SaveRollsBackWhenAuditFails(t *testing.T) {
	sqlDB, mock, gdb := setupMockGorm(t)
	defer sqlDB.Close()

	sw := &model.DeadManSwitch{ID: "sw-1", OwnerID: "owner-1", State: model.SwitchStateTriggered, Version: 3}
	entries := []model.SwitchAuditEntry{{
		SwitchID: "sw-1", Seq: 4, OwnerID: "owner-1", Timestamp: time.Now(),
		FromState: model.SwitchStateGrace, ToState: model.SwitchStateTriggered,
		Reason: model.AuditReasonTriggered, Actor: model.ActorSystemMonitor,
		Result: model.AuditResultSuccess, Hash: "h",
	}}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "dead_man_switches" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "switch_audit_entries"`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := NewGormSwitchStore(gdb).Save(context.Background(), sw, 3, entries)
	require.Error(t, err)
	assert.Equal(t, int64(3), sw.Version)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormTriggerStore_AdvanceScheduleIsConditional(t *testing.T) {
	sqlDB, mock, gdb := setupMockGorm(t)
	defer sqlDB.Close()

	store := NewGormTriggerStore(gdb)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	read := model.EvaluationSchedule{
		UserID: "u1", Frequency: model.FrequencyDaily, Enabled: true, NextRunAt: now, UpdatedAt: now.Add(-time.Hour),
	}

	mock.ExpectExec(`UPDATE "evaluation_schedules" SET .* WHERE user_id = .* AND enabled = .* AND frequency = .* AND next_run_at = .* AND updated_at = `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.AdvanceSchedule(ctx, read, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	// 计划已被修改，条件不满足
	mock.ExpectExec(`UPDATE "evaluation_schedules" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.AdvanceSchedule(ctx, read, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
