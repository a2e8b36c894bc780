package deadman

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegacyVault/internal/model"
)

func TestAuditChain(t *testing.T) {
	sw := armedSwitch()
	sw.State = model.SwitchStateDisabled

	var trail []model.SwitchAuditEntry
	e, _ := Enable(sw, t0, "owner:owner-1")
	trail = append(trail, e)
	trail = append(trail, Advance(sw, t0.Add(49*time.Hour))...)
	trail = append(trail, Note(sw, t0.Add(49*time.Hour), model.AuditReasonNotifyFailed, model.AuditResultWarning, "sms timeout"))

	require.Len(t, trail, 5)
	require.NoError(t, VerifyChain(trail))
	assert.Equal(t, trail[4].Hash, sw.LastAuditHash)
	assert.Equal(t, int64(5), sw.LastAuditSeq)

	tampered := append([]model.SwitchAuditEntry(nil), trail...)
	tampered[2].Actor = "owner:someone-else"
	assert.Error(t, VerifyChain(tampered))

	dropped := append([]model.SwitchAuditEntry{}, trail[0], trail[2])
	assert.Error(t, VerifyChain(dropped))
}

func TestPendingNotices(t *testing.T) {
	sw := armedSwitch()
	assert.Empty(t, PendingNotices(sw, t0.Add(time.Hour)))

	Advance(sw, t0.Add(25*time.Hour))
	notices := PendingNotices(sw, t0.Add(25*time.Hour))
	require.Len(t, notices, 1)
	assert.Equal(t, 0, notices[0].Level)
	assert.Equal(t, DefaultWarningTemplate, notices[0].Template)

	sw.NotifiedLevel = 1
	Advance(sw, t0.Add(49*time.Hour))
	notices = PendingNotices(sw, t0.Add(49*time.Hour))
	require.Len(t, notices, 1)
	assert.Equal(t, 1, notices[0].Level)
	assert.Equal(t, "c1", notices[0].Recipients[0].ID)

	sw.NotifiedLevel = 2
	assert.Empty(t, PendingNotices(sw, t0.Add(60*time.Hour)))
}
