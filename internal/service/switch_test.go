package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegacyVault/internal/model"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/release"
	"LegacyVault/internal/repository"
	"LegacyVault/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func sequentialIDs(prefix string) func() (string, error) {
	var n int64
	return func() (string, error) {
		return prefix + string(rune('a'+atomic.AddInt64(&n, 1)-1)), nil
	}
}

func switchConfig() model.SwitchConfig {
	return model.SwitchConfig{
		CheckInInterval:  model.Duration(48 * time.Hour),
		WarningThreshold: model.Duration(24 * time.Hour),
		GracePeriod:      model.Duration(24 * time.Hour),
		EscalationStages: []model.EscalationStage{{
			Delay:      model.Duration(48 * time.Hour),
			Recipients: []model.Recipient{{ID: "c1", Channel: model.NotifyChannelSMS, Address: "+15550001"}},
		}},
		WarningRecipients: []model.Recipient{{ID: "owner", Channel: model.NotifyChannelSMS, Address: "+15550000"}},
	}
}

func newSwitchService(t *testing.T, store repository.SwitchStore) (*SwitchService, *testClock, *repository.MemoryReleaseStore) {
	t.Helper()
	clock := &testClock{now: t0}
	rel := repository.NewMemoryReleaseStore()
	audit := release.NewStoreCollaborator(rel, nil).WithClock(clock.Now)
	svc := NewSwitchService(store, nil,
		WithSwitchClock(clock.Now),
		WithSwitchIDs(sequentialIDs("sw-")),
		WithComplianceLog(audit),
	)
	return svc, clock, rel
}

func TestSwitchService_CreateDefaultsToDisabled(t *testing.T) {
	svc, _, _ := newSwitchService(t, repository.NewMemorySwitchStore())
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Name: "primary", Config: switchConfig()})
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateDisabled, sw.State)
	assert.Equal(t, "sw-a", sw.ID)

	enabled, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig(), Enable: true})
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateArmed, enabled.State)

	trail, err := svc.GetAuditTrail(ctx, "owner-1", enabled.ID)
	require.NoError(t, err)
	assert.True(t, trail.Verified)
	require.Len(t, trail.Entries, 2)
	assert.Equal(t, model.AuditReasonCreated, trail.Entries[0].Reason)
	assert.Equal(t, model.AuditReasonEnabled, trail.Entries[1].Reason)
}

func TestSwitchService_CreateRejectsInvalidConfig(t *testing.T) {
	svc, _, _ := newSwitchService(t, repository.NewMemorySwitchStore())

	cfg := switchConfig()
	cfg.CheckInInterval = 0
	_, err := svc.CreateSwitch(context.Background(), "owner-1", dto.CreateSwitchRequest{Config: cfg})
	assert.ErrorIs(t, err, errors.InvalidConfiguration)
}

func TestSwitchService_OwnershipEnforced(t *testing.T) {
	svc, _, _ := newSwitchService(t, repository.NewMemorySwitchStore())
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig()})
	require.NoError(t, err)

	_, err = svc.GetSwitch(ctx, "intruder", sw.ID)
	assert.ErrorIs(t, err, errors.Forbidden)

	_, err = svc.EnableSwitch(ctx, "intruder", sw.ID)
	assert.ErrorIs(t, err, errors.Forbidden)

	_, err = svc.GetSwitch(ctx, "owner-1", "missing")
	assert.ErrorIs(t, err, errors.NotFound)
}

func TestSwitchService_CheckInReArms(t *testing.T) {
	store := repository.NewMemorySwitchStore()
	svc, clock, _ := newSwitchService(t, store)
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig(), Enable: true})
	require.NoError(t, err)

	// 模拟巡检已推进到 warning
	stored, err := store.Get(ctx, sw.ID)
	require.NoError(t, err)
	expected := stored.Version
	stored.State = model.SwitchStateWarning
	stored.NotifiedLevel = 1
	require.NoError(t, store.Save(ctx, stored, expected, nil))

	clock.Advance(30 * time.Hour)
	got, err := svc.RecordCheckIn(ctx, sw.ID, "owner-1", model.CheckInMethodWebCheckIn, model.CheckInMetadata{DeviceID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateArmed, got.State)
	assert.Equal(t, 0, got.NotifiedLevel)
	assert.Equal(t, clock.now, got.LastCheckInAt)

	data, err := svc.GetSwitch(ctx, "owner-1", sw.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Duration(0), data.EffectiveElapsed)
}

func TestSwitchService_CheckInRejectsUnknownMethod(t *testing.T) {
	svc, _, _ := newSwitchService(t, repository.NewMemorySwitchStore())
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig(), Enable: true})
	require.NoError(t, err)

	_, err = svc.RecordCheckIn(ctx, sw.ID, "owner-1", "carrier_pigeon", model.CheckInMetadata{})
	assert.ErrorIs(t, err, errors.InvalidRequest)
}

// racingStore 第一次提交前插入一次并发写，让提交遇到版本冲突
type racingStore struct {
	*repository.MemorySwitchStore
	raced atomic.Bool
	saves atomic.Int32
}

func (s *racingStore) Save(ctx context.Context, sw *model.DeadManSwitch, expectedVersion int64, entries []model.SwitchAuditEntry) error {
	s.saves.Add(1)
	if s.raced.CompareAndSwap(false, true) {
		other, err := s.MemorySwitchStore.Get(ctx, sw.ID)
		if err != nil {
			return err
		}
		if err := s.MemorySwitchStore.Save(ctx, other, other.Version, nil); err != nil {
			return err
		}
	}
	return s.MemorySwitchStore.Save(ctx, sw, expectedVersion, entries)
}

func TestSwitchService_CheckInRetriesOnConflict(t *testing.T) {
	store := &racingStore{MemorySwitchStore: repository.NewMemorySwitchStore()}
	svc, _, _ := newSwitchService(t, store)
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig(), Enable: true})
	require.NoError(t, err)

	got, err := svc.RecordCheckIn(ctx, sw.ID, "owner-1", model.CheckInMethodAppLogin, model.CheckInMetadata{})
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateArmed, got.State)
	assert.Equal(t, int32(2), store.saves.Load())

	trail, err := svc.GetAuditTrail(ctx, "owner-1", sw.ID)
	require.NoError(t, err)
	assert.True(t, trail.Verified)
	assert.Equal(t, model.AuditReasonCheckIn, trail.Entries[len(trail.Entries)-1].Reason)
}

func TestSwitchService_ResetOnlyFromTriggered(t *testing.T) {
	store := repository.NewMemorySwitchStore()
	svc, clock, rel := newSwitchService(t, store)
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig(), Enable: true})
	require.NoError(t, err)

	_, err = svc.ResetSwitch(ctx, "owner-1", sw.ID, "too early")
	assert.ErrorIs(t, err, errors.InvalidConfiguration)

	stored, err := store.Get(ctx, sw.ID)
	require.NoError(t, err)
	expected := stored.Version
	stored.State = model.SwitchStateTriggered
	require.NoError(t, store.Save(ctx, stored, expected, nil))

	_, err = svc.UpdateConfiguration(ctx, "owner-1", sw.ID, switchConfig())
	assert.ErrorIs(t, err, errors.InvalidConfiguration)

	clock.Advance(time.Hour)
	got, err := svc.ResetSwitch(ctx, "owner-1", sw.ID, "false alarm")
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateArmed, got.State)
	assert.Equal(t, clock.now, got.ArmedAt)

	events, err := rel.ListCompliance(ctx, sw.ID)
	require.NoError(t, err)
	var actions []string
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "switch_reset")
}

func TestSwitchService_DisableIsIdempotent(t *testing.T) {
	svc, _, _ := newSwitchService(t, repository.NewMemorySwitchStore())
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig(), Enable: true})
	require.NoError(t, err)

	first, err := svc.DisableSwitch(ctx, "owner-1", sw.ID)
	require.NoError(t, err)
	second, err := svc.DisableSwitch(ctx, "owner-1", sw.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwitchStateDisabled, second.State)
	assert.Equal(t, first.Version, second.Version)
}

func TestSwitchService_HolidayPausesElapsed(t *testing.T) {
	svc, clock, _ := newSwitchService(t, repository.NewMemorySwitchStore())
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig(), Enable: true})
	require.NoError(t, err)

	_, err = svc.ActivateHolidayMode(ctx, "owner-1", sw.ID, dto.HolidayRequest{
		Start:  t0.Add(time.Hour),
		End:    t0.Add(11 * time.Hour),
		Reason: model.HolidayReasonTravel,
	})
	require.NoError(t, err)

	clock.Advance(12 * time.Hour)
	data, err := svc.GetSwitch(ctx, "owner-1", sw.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Duration(2*time.Hour), data.EffectiveElapsed)
	assert.Nil(t, data.ActiveHoliday)

	_, err = svc.ActivateHolidayMode(ctx, "owner-1", sw.ID, dto.HolidayRequest{
		Start: t0.Add(time.Hour),
		End:   t0.Add(2 * time.Hour),
	})
	assert.ErrorIs(t, err, errors.InvalidConfiguration)
}

func TestSwitchService_DeleteKeepsAuditTrail(t *testing.T) {
	store := repository.NewMemorySwitchStore()
	svc, _, _ := newSwitchService(t, store)
	ctx := context.Background()

	sw, err := svc.CreateSwitch(ctx, "owner-1", dto.CreateSwitchRequest{Config: switchConfig()})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSwitch(ctx, "owner-1", sw.ID))

	_, err = svc.GetSwitch(ctx, "owner-1", sw.ID)
	assert.ErrorIs(t, err, errors.NotFound)

	entries, err := store.AuditTrail(ctx, sw.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditReasonDeleted, entries[1].Reason)
}
