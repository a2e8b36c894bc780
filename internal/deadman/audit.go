package deadman

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"LegacyVault/internal/model"
)

// Record 迁移到 to 并生成一条串入哈希链的审计记录
func Record(sw *model.DeadManSwitch, now time.Time, to model.SwitchState, reason model.AuditReason,
	actor string, result model.AuditResult, detail string,
) model.SwitchAuditEntry {
	entry := model.SwitchAuditEntry{
		SwitchID:  sw.ID,
		Seq:       sw.LastAuditSeq + 1,
		OwnerID:   sw.OwnerID,
		Timestamp: now.UTC().Truncate(time.Microsecond), // 与 timestamptz 精度一致
		FromState: sw.State,
		ToState:   to,
		Reason:    reason,
		Actor:     actor,
		Result:    result,
		Detail:    detail,
		PrevHash:  sw.LastAuditHash,
	}
	entry.Hash = HashEntry(entry)

	sw.State = to
	sw.LastAuditSeq = entry.Seq
	sw.LastAuditHash = entry.Hash
	return entry
}

// Note 不改变状态的告警记录，例如通知投递失败
func Note(sw *model.DeadManSwitch, now time.Time, reason model.AuditReason, result model.AuditResult, detail string) model.SwitchAuditEntry {
	return Record(sw, now, sw.State, reason, model.ActorSystemMonitor, result, detail)
}

func HashEntry(e model.SwitchAuditEntry) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		e.PrevHash,
		e.SwitchID,
		strconv.FormatInt(e.Seq, 10),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.FromState),
		string(e.ToState),
		string(e.Reason),
		e.Actor,
		string(e.Result),
		e.Detail,
	}, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain entries 须按 Seq 升序
func VerifyChain(entries []model.SwitchAuditEntry) error {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("audit entry seq=%d: previous hash mismatch", e.Seq)
		}
		if i > 0 && e.Seq != entries[i-1].Seq+1 {
			return fmt.Errorf("audit entry seq=%d: sequence gap after %d", e.Seq, entries[i-1].Seq)
		}
		if HashEntry(e) != e.Hash {
			return fmt.Errorf("audit entry seq=%d: hash mismatch", e.Seq)
		}
		prev = e.Hash
	}
	return nil
}
