package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
)

// MemorySwitchStore 进程内实现，读写都做深拷贝
type MemorySwitchStore struct {
	mu       sync.RWMutex
	switches map[string]*model.DeadManSwitch
	audit    map[string][]model.SwitchAuditEntry
	nextID   int64
}

func NewMemorySwitchStore() *MemorySwitchStore {
	return &MemorySwitchStore{
		switches: make(map[string]*model.DeadManSwitch),
		audit:    make(map[string][]model.SwitchAuditEntry),
	}
}

func (s *MemorySwitchStore) appendAudit(entries []model.SwitchAuditEntry) {
	for _, e := range entries {
		s.nextID++
		e.ID = s.nextID
		s.audit[e.SwitchID] = append(s.audit[e.SwitchID], e)
	}
}

func (s *MemorySwitchStore) Create(_ context.Context, sw *model.DeadManSwitch, entries []model.SwitchAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.switches[sw.ID]; ok {
		return fmt.Errorf("%w: switch %s already exists", errors.Conflict, sw.ID)
	}
	s.switches[sw.ID] = sw.Clone()
	s.appendAudit(entries)
	return nil
}

func (s *MemorySwitchStore) Get(_ context.Context, id string) (*model.DeadManSwitch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sw, ok := s.switches[id]
	if !ok {
		return nil, fmt.Errorf("%w: switch %s", errors.NotFound, id)
	}
	return sw.Clone(), nil
}

func (s *MemorySwitchStore) ListByOwner(_ context.Context, ownerID string) ([]*model.DeadManSwitch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.DeadManSwitch, 0)
	for _, sw := range s.switches {
		if sw.OwnerID == ownerID {
			out = append(out, sw.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemorySwitchStore) ListMonitored(_ context.Context) ([]*model.DeadManSwitch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.DeadManSwitch, 0)
	for _, sw := range s.switches {
		if !sw.State.Monitored() {
			continue
		}
		if sw.State == model.SwitchStateTriggered && sw.Release.CompletedAt != nil {
			continue
		}
		out = append(out, sw.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemorySwitchStore) Save(_ context.Context, sw *model.DeadManSwitch, expectedVersion int64, entries []model.SwitchAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.switches[sw.ID]
	if !ok {
		return fmt.Errorf("%w: switch %s", errors.NotFound, sw.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: switch %s version %d, expected %d", errors.Conflict, sw.ID, cur.Version, expectedVersion)
	}

	sw.Version = expectedVersion + 1
	sw.UpdatedAt = time.Now()
	s.switches[sw.ID] = sw.Clone()
	s.appendAudit(entries)
	return nil
}

func (s *MemorySwitchStore) Delete(_ context.Context, sw *model.DeadManSwitch, expectedVersion int64, entries []model.SwitchAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.switches[sw.ID]
	if !ok {
		return fmt.Errorf("%w: switch %s", errors.NotFound, sw.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: switch %s version %d, expected %d", errors.Conflict, sw.ID, cur.Version, expectedVersion)
	}
	delete(s.switches, sw.ID)
	s.appendAudit(entries)
	return nil
}

func (s *MemorySwitchStore) AuditTrail(_ context.Context, switchID string) ([]model.SwitchAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.SwitchAuditEntry(nil), s.audit[switchID]...), nil
}

// MemoryTokenStore 令牌
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*model.EmergencyAccessToken
	logs   *MemoryAccessLogStore
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*model.EmergencyAccessToken)}
}

// WithAccessLog 计次时的访问日志写入 logs；未设置时丢弃
func (s *MemoryTokenStore) WithAccessLog(logs *MemoryAccessLogStore) *MemoryTokenStore {
	s.logs = logs
	return s
}

func copyToken(t *model.EmergencyAccessToken) *model.EmergencyAccessToken {
	cp := *t
	cp.Permissions = append(model.StringList(nil), t.Permissions...)
	cp.FileIDs = append(model.StringList(nil), t.FileIDs...)
	cp.IPRestrictions = append(model.StringList(nil), t.IPRestrictions...)
	return &cp
}

func (s *MemoryTokenStore) Create(_ context.Context, t *model.EmergencyAccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[t.ID]; ok {
		return fmt.Errorf("%w: token %s already exists", errors.Conflict, t.ID)
	}
	s.tokens[t.ID] = copyToken(t)
	return nil
}

func (s *MemoryTokenStore) Get(_ context.Context, id string) (*model.EmergencyAccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: token %s", errors.NotFound, id)
	}
	return copyToken(t), nil
}

func (s *MemoryTokenStore) IncrementUses(ctx context.Context, id string, now time.Time, entry *model.AccessLogEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return false, fmt.Errorf("%w: token %s", errors.NotFound, id)
	}
	if t.Revoked() || t.CurrentUses >= t.MaxUses {
		return false, nil
	}
	if entry != nil && s.logs != nil {
		if err := s.logs.Append(ctx, entry); err != nil {
			return false, err
		}
	}
	t.CurrentUses++
	t.UpdatedAt = now
	return true, nil
}

func (s *MemoryTokenStore) Revoke(_ context.Context, id string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("%w: token %s", errors.NotFound, id)
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		t.RevokeReason = reason
		t.UpdatedAt = at
	}
	return nil
}

func (s *MemoryTokenStore) Extend(_ context.Context, id string, expiresAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return false, fmt.Errorf("%w: token %s", errors.NotFound, id)
	}
	if t.Revoked() {
		return false, nil
	}
	t.ExpiresAt = expiresAt
	t.UpdatedAt = now
	return true, nil
}

func (s *MemoryTokenStore) Activate(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return false, fmt.Errorf("%w: token %s", errors.NotFound, id)
	}
	if t.Revoked() || t.ActivatedAt != nil {
		return false, nil
	}
	activated := at
	t.ActivatedAt = &activated
	t.UpdatedAt = at
	return true, nil
}

func (s *MemoryTokenStore) list(match func(*model.EmergencyAccessToken) bool) []*model.EmergencyAccessToken {
	out := make([]*model.EmergencyAccessToken, 0)
	for _, t := range s.tokens {
		if match(t) {
			out = append(out, copyToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryTokenStore) ListBySwitch(_ context.Context, switchID string) ([]*model.EmergencyAccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(t *model.EmergencyAccessToken) bool { return t.SwitchID == switchID }), nil
}

func (s *MemoryTokenStore) ListByOwner(_ context.Context, ownerID string) ([]*model.EmergencyAccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(t *model.EmergencyAccessToken) bool { return t.OwnerID == ownerID }), nil
}

// MemoryAccessLogStore 只追加
type MemoryAccessLogStore struct {
	mu      sync.Mutex
	entries []model.AccessLogEntry
	nextID  int64
}

func NewMemoryAccessLogStore() *MemoryAccessLogStore {
	return &MemoryAccessLogStore{}
}

func (s *MemoryAccessLogStore) Append(_ context.Context, e *model.AccessLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == 0 {
		s.nextID++
		e.ID = s.nextID
	}
	s.entries = append(s.entries, *e)
	return nil
}

// ListByToken 按时间倒序
func (s *MemoryAccessLogStore) ListByToken(_ context.Context, tokenID string, limit int) ([]model.AccessLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.AccessLogEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].TokenID != tokenID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// All 返回全部日志，测试用
func (s *MemoryAccessLogStore) All() []model.AccessLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AccessLogEntry(nil), s.entries...)
}

// MemoryTriggerStore 规则、评估历史、调度和外部信号
type MemoryTriggerStore struct {
	mu          sync.Mutex
	definitions map[string]map[string]model.TriggerDefinition
	history     map[string][]model.TriggerEvaluationResult
	schedules   map[string]model.EvaluationSchedule
	signals     map[string][]model.ExternalSignal
	nextID      int64
}

func NewMemoryTriggerStore() *MemoryTriggerStore {
	return &MemoryTriggerStore{
		definitions: make(map[string]map[string]model.TriggerDefinition),
		history:     make(map[string][]model.TriggerEvaluationResult),
		schedules:   make(map[string]model.EvaluationSchedule),
		signals:     make(map[string][]model.ExternalSignal),
	}
}

func (s *MemoryTriggerStore) SaveDefinition(_ context.Context, d *model.TriggerDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	defs, ok := s.definitions[d.UserID]
	if !ok {
		defs = make(map[string]model.TriggerDefinition)
		s.definitions[d.UserID] = defs
	}
	defs[d.ID] = *d
	return nil
}

func (s *MemoryTriggerStore) ListDefinitions(_ context.Context, userID string) ([]model.TriggerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.TriggerDefinition, 0, len(s.definitions[userID]))
	for _, d := range s.definitions[userID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryTriggerStore) DeleteDefinition(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[userID][id]; !ok {
		return fmt.Errorf("%w: trigger %s", errors.NotFound, id)
	}
	delete(s.definitions[userID], id)
	return nil
}

func (s *MemoryTriggerStore) AppendResults(_ context.Context, userID string, results []model.TriggerEvaluationResult, retain int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history[userID]
	for _, r := range results {
		s.nextID++
		r.ID = s.nextID
		h = append(h, r)
	}
	if retain > 0 && len(h) > retain {
		h = append([]model.TriggerEvaluationResult(nil), h[len(h)-retain:]...)
	}
	s.history[userID] = h
	return nil
}

func (s *MemoryTriggerStore) History(_ context.Context, userID string, limit int) ([]model.TriggerEvaluationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history[userID]
	out := make([]model.TriggerEvaluationResult, 0)
	for i := len(h) - 1; i >= 0; i-- {
		out = append(out, h[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryTriggerStore) UpsertSchedule(_ context.Context, sc *model.EvaluationSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.UserID] = *sc
	return nil
}

func (s *MemoryTriggerStore) AdvanceSchedule(_ context.Context, read model.EvaluationSchedule, lastRun, nextRun time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.schedules[read.UserID]
	if !ok || !cur.Enabled || cur.Frequency != read.Frequency ||
		!cur.NextRunAt.Equal(read.NextRunAt) || !cur.UpdatedAt.Equal(read.UpdatedAt) {
		return false, nil
	}
	last := lastRun
	cur.LastRunAt = &last
	cur.NextRunAt = nextRun
	s.schedules[read.UserID] = cur
	return true, nil
}

func (s *MemoryTriggerStore) GetSchedule(_ context.Context, userID string) (*model.EvaluationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.schedules[userID]
	if !ok {
		return nil, fmt.Errorf("%w: schedule for %s", errors.NotFound, userID)
	}
	return &sc, nil
}

func (s *MemoryTriggerStore) DueSchedules(_ context.Context, now time.Time, limit int) ([]model.EvaluationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.EvaluationSchedule, 0)
	for _, sc := range s.schedules {
		if sc.Enabled && !sc.NextRunAt.After(now) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryTriggerStore) AddSignal(_ context.Context, sig *model.ExternalSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig.ID == 0 {
		s.nextID++
		sig.ID = s.nextID
	}
	s.signals[sig.UserID] = append(s.signals[sig.UserID], *sig)
	return nil
}

func (s *MemoryTriggerStore) ListSignals(_ context.Context, userID string, since time.Time) ([]model.ExternalSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ExternalSignal, 0)
	for _, sig := range s.signals[userID] {
		if !sig.ObservedAt.Before(since) {
			out = append(out, sig)
		}
	}
	return out, nil
}

// MemoryReleaseStore 释放产物，按 ID 幂等
type MemoryReleaseStore struct {
	mu         sync.Mutex
	grants     []model.AccessGrant
	overrides  []model.EmergencyOverride
	compliance []model.ComplianceAuditEvent
}

func NewMemoryReleaseStore() *MemoryReleaseStore {
	return &MemoryReleaseStore{}
}

func (s *MemoryReleaseStore) CreateGrant(_ context.Context, g *model.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.grants {
		if existing.ID == g.ID {
			return nil
		}
	}
	s.grants = append(s.grants, *g)
	return nil
}

func (s *MemoryReleaseStore) ListGrants(_ context.Context, switchID string) ([]model.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.AccessGrant, 0)
	for _, g := range s.grants {
		if g.SwitchID == switchID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *MemoryReleaseStore) CreateOverride(_ context.Context, o *model.EmergencyOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.overrides {
		if existing.ID == o.ID {
			return nil
		}
	}
	s.overrides = append(s.overrides, *o)
	return nil
}

func (s *MemoryReleaseStore) ListOverrides(_ context.Context, switchID string) ([]model.EmergencyOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.EmergencyOverride, 0)
	for _, o := range s.overrides {
		if o.SwitchID == switchID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryReleaseStore) AppendCompliance(_ context.Context, e *model.ComplianceAuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compliance = append(s.compliance, *e)
	return nil
}

func (s *MemoryReleaseStore) ListCompliance(_ context.Context, subjectID string) ([]model.ComplianceAuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ComplianceAuditEvent, 0)
	for _, e := range s.compliance {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out, nil
}
