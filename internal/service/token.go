package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"LegacyVault/internal/model"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/ratelimit"
	"LegacyVault/internal/release"
	"LegacyVault/internal/repository"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/metrics"
	"LegacyVault/pkg/token"
	"LegacyVault/utils"
)

const (
	defaultTokenExpireHours = 72
	maxTokenExpireHours     = 720
	defaultTokenMaxUses     = 10
	defaultAccessLogLimit   = 100
)

// AccessContext 调用方信息，IP 只以哈希形式落库
type AccessContext struct {
	IPAddress string
	UserAgent string
}

var _ release.TokenActivator = (*TokenService)(nil)

type TokenService struct {
	tokens  repository.TokenStore
	logs    repository.AccessLogStore
	limiter ratelimit.Limiter
	signer  *token.Signer
	audit   release.AuditLogger
	logger  *zap.Logger
	nowFn   func() time.Time
	idFn    func() string

	defaultExpireHours int
	maxExpireHours     int
	defaultMaxUses     int
}

type TokenOption func(*TokenService)

func WithTokenClock(nowFn func() time.Time) TokenOption {
	return func(s *TokenService) { s.nowFn = nowFn }
}

func WithTokenIDs(idFn func() string) TokenOption {
	return func(s *TokenService) { s.idFn = idFn }
}

func WithTokenLimits(defaultExpireHours, maxExpireHours, defaultMaxUses int) TokenOption {
	return func(s *TokenService) {
		if defaultExpireHours > 0 {
			s.defaultExpireHours = defaultExpireHours
		}
		if maxExpireHours > 0 {
			s.maxExpireHours = maxExpireHours
		}
		if defaultMaxUses > 0 {
			s.defaultMaxUses = defaultMaxUses
		}
	}
}

func WithTokenComplianceLog(audit release.AuditLogger) TokenOption {
	return func(s *TokenService) { s.audit = audit }
}

func NewTokenService(
	tokens repository.TokenStore,
	logs repository.AccessLogStore,
	limiter ratelimit.Limiter,
	signer *token.Signer,
	logger *zap.Logger,
	opts ...TokenOption,
) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TokenService{
		tokens:             tokens,
		logs:               logs,
		limiter:            limiter,
		signer:             signer,
		logger:             logger,
		nowFn:              time.Now,
		idFn:               uuid.NewString,
		defaultExpireHours: defaultTokenExpireHours,
		maxExpireHours:     maxTokenExpireHours,
		defaultMaxUses:     defaultTokenMaxUses,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolvePermissions 未指定时取访问级别允许的全部权限；full 必须覆盖 view 与 download
func resolvePermissions(level model.AccessLevel, requested []model.Permission) (model.StringList, error) {
	allowed := level.AllowedPermissions()
	if len(requested) == 0 {
		requested = allowed
	}

	granted := make(map[model.Permission]bool, len(requested))
	out := make(model.StringList, 0, len(requested))
	for _, p := range requested {
		ok := false
		for _, a := range allowed {
			if p == a {
				ok = true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: permission %q exceeds access level %s", errors.InvalidRequest, p, level)
		}
		if !granted[p] {
			granted[p] = true
			out = append(out, string(p))
		}
	}

	if level == model.AccessLevelFull && (!granted[model.PermissionView] || !granted[model.PermissionDownload]) {
		return nil, fmt.Errorf("%w: full access must include view and download", errors.InvalidRequest)
	}
	return out, nil
}

func normalizeRestrictions(ips []string) (model.StringList, error) {
	out := make(model.StringList, 0, len(ips))
	for _, ip := range ips {
		n, ok := utils.NormalizeIP(ip)
		if !ok {
			return nil, fmt.Errorf("%w: invalid ip restriction %q", errors.InvalidRequest, ip)
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *TokenService) expireHours(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("%w: expiration_hours must be positive", errors.InvalidRequest)
	case requested == 0:
		return s.defaultExpireHours, nil
	case requested > s.maxExpireHours:
		return 0, fmt.Errorf("%w: expiration_hours exceeds %d", errors.InvalidRequest, s.maxExpireHours)
	}
	return requested, nil
}

// GenerateToken 签发紧急访问令牌，返回签名串与令牌 ID
func (s *TokenService) GenerateToken(ctx context.Context, ownerID string, req dto.GenerateTokenRequest) (*dto.GenerateTokenData, error) {
	if ownerID == "" || req.ContactID == "" {
		return nil, fmt.Errorf("%w: owner and contact are required", errors.InvalidRequest)
	}
	if !req.AccessLevel.Valid() {
		return nil, fmt.Errorf("%w: unknown access level %q", errors.InvalidRequest, req.AccessLevel)
	}
	if req.TokenType == "" {
		req.TokenType = model.TokenTypeEmergency
	}
	if !req.TokenType.Valid() {
		return nil, fmt.Errorf("%w: unknown token type %q", errors.InvalidRequest, req.TokenType)
	}
	if req.MaxUses < 0 {
		return nil, fmt.Errorf("%w: max_uses must be positive", errors.InvalidRequest)
	}
	if req.MaxUses == 0 {
		req.MaxUses = s.defaultMaxUses
	}
	if req.RequiresActivation && req.SwitchID == "" {
		return nil, fmt.Errorf("%w: tokens awaiting activation must be bound to a switch", errors.InvalidRequest)
	}

	perms, err := resolvePermissions(req.AccessLevel, req.Permissions)
	if err != nil {
		return nil, err
	}
	ips, err := normalizeRestrictions(req.IPRestrictions)
	if err != nil {
		return nil, err
	}
	hours, err := s.expireHours(req.ExpirationHours)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	t := &model.EmergencyAccessToken{
		ID:                 s.idFn(),
		OwnerID:            ownerID,
		ContactID:          req.ContactID,
		SwitchID:           req.SwitchID,
		TokenType:          req.TokenType,
		AccessLevel:        req.AccessLevel,
		Permissions:        perms,
		FileIDs:            append(model.StringList{}, req.FileIDs...),
		MaxUses:            req.MaxUses,
		ExpiresAt:          now.Add(time.Duration(hours) * time.Hour),
		IPRestrictions:     ips,
		Refreshable:        req.Refreshable,
		RequiresActivation: req.RequiresActivation,
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	signed, err := s.signer.Sign(t.ID, t.ContactID, string(t.AccessLevel), string(t.TokenType), now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("Emergency token issued",
		zap.String("token_id", t.ID),
		zap.String("owner_id", ownerID),
		zap.String("contact_id", t.ContactID),
		zap.String("access_level", string(t.AccessLevel)),
		zap.Int("max_uses", t.MaxUses),
		zap.Time("expires_at", t.ExpiresAt),
	)
	s.compliance(ctx, t, "owner:"+ownerID, "token_issued", nil)

	return &dto.GenerateTokenData{TokenID: t.ID, Token: signed, ExpiresAt: t.ExpiresAt}, nil
}

type tokenChecks struct {
	expiration bool
	uses       bool
	ip         bool
}

func enabled(p *bool) bool {
	return p == nil || *p
}

// rejection 内部结果只进访问日志，Error 只暴露错误分类
type rejection struct {
	outcome model.AccessOutcome
	err     error
}

func (r *rejection) Error() string {
	return r.err.Error()
}

func (r *rejection) Unwrap() error {
	return r.err
}

func reject(outcome model.AccessOutcome, def errors.Definition) error {
	return &rejection{outcome: outcome, err: def}
}

// inspect 按固定顺序检查：限流、签名与状态、过期、次数、IP
func (s *TokenService) inspect(ctx context.Context, tokenString string, ac AccessContext, checks tokenChecks) (*model.EmergencyAccessToken, error) {
	ip, _ := utils.NormalizeIP(ac.IPAddress)

	if s.limiter != nil {
		var ipKey, tokenKey string
		if ip != "" {
			ipKey = "ip:" + ip
		}
		if tid := token.PeekTokenID(tokenString); tid != "" {
			tokenKey = "token:" + tid
		}
		d, err := ratelimit.AllowAll(ctx, s.limiter, ipKey, tokenKey)
		if err != nil {
			// 限流后端不可用时放行，签名与存储检查仍然生效
			s.logger.Warn("Rate limiter unavailable", zap.Error(err))
		} else if !d.Allowed {
			metrics.RecordRateLimited(ctx, "token")
			return nil, reject(model.AccessOutcomeRateLimited, errors.RateLimited)
		}
	}

	claims, err := s.signer.Parse(tokenString)
	if err != nil {
		if stderrors.Is(err, token.ErrBadSignature) {
			return nil, reject(model.AccessOutcomeBadSig, errors.TokenInvalid)
		}
		return nil, reject(model.AccessOutcomeMalformed, errors.TokenInvalid)
	}

	t, err := s.tokens.Get(ctx, claims.TokenID())
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return nil, reject(model.AccessOutcomeUnknown, errors.TokenInvalid)
		}
		return nil, err
	}
	if t.ContactID != claims.ContactID {
		return t, reject(model.AccessOutcomeBadSig, errors.TokenInvalid)
	}
	if t.Revoked() {
		return t, reject(model.AccessOutcomeRevoked, errors.TokenInvalid)
	}
	if !t.Active() {
		return t, reject(model.AccessOutcomeInactive, errors.TokenInvalid)
	}

	if checks.expiration && s.nowFn().After(t.ExpiresAt) {
		return t, reject(model.AccessOutcomeExpired, errors.Expired)
	}
	if checks.uses && t.CurrentUses >= t.MaxUses {
		return t, reject(model.AccessOutcomeExhausted, errors.Exhausted)
	}
	if checks.ip && len(t.IPRestrictions) > 0 && !t.IPRestrictions.Contains(ip) {
		return t, reject(model.AccessOutcomeIPDenied, errors.IPDenied)
	}
	return t, nil
}

// ValidateToken 只校验不计次；失败只返回错误分类
func (s *TokenService) ValidateToken(ctx context.Context, req dto.ValidateTokenRequest, ac AccessContext) (*dto.ValidateTokenData, error) {
	t, err := s.inspect(ctx, req.Token, ac, tokenChecks{
		expiration: enabled(req.CheckExpiration),
		uses:       enabled(req.CheckUses),
		ip:         enabled(req.CheckIPRestrictions),
	})
	s.record(ctx, t, model.AccessActionValidate, ac, "", err)
	if err != nil {
		return nil, err
	}

	perms := make([]model.Permission, 0, len(t.Permissions))
	for _, p := range t.Permissions {
		perms = append(perms, model.Permission(p))
	}
	return &dto.ValidateTokenData{
		TokenID:       t.ID,
		ContactID:     t.ContactID,
		AccessLevel:   t.AccessLevel,
		Permissions:   perms,
		FileIDs:       t.FileIDs,
		RemainingUses: t.RemainingUses(),
		ExpiresAt:     t.ExpiresAt,
	}, nil
}

// RecordTokenUsage 每次成功访问内容计一次；计数是存储层的原子条件自增
func (s *TokenService) RecordTokenUsage(ctx context.Context, req dto.RecordUsageRequest, ac AccessContext) (*dto.RecordUsageData, error) {
	t, err := s.inspect(ctx, req.Token, ac, tokenChecks{expiration: true, uses: true, ip: true})
	if err == nil && req.ResourceID != "" && len(t.FileIDs) > 0 && !t.FileIDs.Contains(req.ResourceID) {
		err = &rejection{outcome: model.AccessOutcomeFileDenied, err: errors.Forbidden}
	}
	if err != nil {
		s.record(ctx, t, model.AccessActionUse, ac, req.ResourceID, err)
		return nil, err
	}

	// 计次与访问日志同一事务提交，日志写不进去就不计次
	entry := s.accessEntry(t, model.AccessActionUse, ac, req.ResourceID, model.AccessOutcomeOK, true)
	ok, err := s.tokens.IncrementUses(ctx, t.ID, s.nowFn(), entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 并发使用抢先用完或撤销
		err = reject(model.AccessOutcomeExhausted, errors.Exhausted)
		s.record(ctx, t, model.AccessActionUse, ac, req.ResourceID, err)
		return nil, err
	}
	metrics.RecordTokenValidation(ctx, string(model.AccessOutcomeOK))

	fresh, err := s.tokens.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return &dto.RecordUsageData{RemainingUses: fresh.RemainingUses()}, nil
}

func (s *TokenService) owned(ctx context.Context, ownerID, id string) (*model.EmergencyAccessToken, error) {
	t, err := s.tokens.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: token %s is not owned by %s", errors.Forbidden, id, ownerID)
	}
	return t, nil
}

// RevokeToken 不可逆，重复撤销无副作用
func (s *TokenService) RevokeToken(ctx context.Context, ownerID, id, reason string) error {
	t, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if t.Revoked() {
		return nil
	}
	if err := s.tokens.Revoke(ctx, id, s.nowFn(), reason); err != nil {
		return err
	}

	s.logger.Info("Emergency token revoked",
		zap.String("token_id", id),
		zap.String("owner_id", ownerID),
		zap.String("reason", reason),
	)
	s.record(ctx, t, model.AccessActionRevoke, AccessContext{}, "", nil)
	s.compliance(ctx, t, "owner:"+ownerID, "token_revoked", map[string]interface{}{"reason": reason})
	return nil
}

// RefreshToken 仅限 refreshable 令牌，延长有效期，不重置使用次数
func (s *TokenService) RefreshToken(ctx context.Context, ownerID, id string, req dto.RefreshTokenRequest) (*model.EmergencyAccessToken, error) {
	t, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !t.Refreshable {
		return nil, fmt.Errorf("%w: token %s is not refreshable", errors.InvalidRequest, id)
	}
	if t.Revoked() {
		return nil, fmt.Errorf("%w: token %s is revoked", errors.TokenInvalid, id)
	}
	hours, err := s.expireHours(req.ExpirationHours)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	expiresAt := t.ExpiresAt
	if next := now.Add(time.Duration(hours) * time.Hour); next.After(expiresAt) {
		expiresAt = next
	}
	ok, err := s.tokens.Extend(ctx, id, expiresAt, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 读取之后被撤销
		return nil, fmt.Errorf("%w: token %s is revoked", errors.TokenInvalid, id)
	}
	t.ExpiresAt = expiresAt

	s.logger.Info("Emergency token refreshed",
		zap.String("token_id", id),
		zap.Time("expires_at", t.ExpiresAt),
	)
	s.record(ctx, t, model.AccessActionRefresh, AccessContext{}, "", nil)
	return s.tokens.Get(ctx, id)
}

// ActivateToken 所有者手动激活预签发令牌
func (s *TokenService) ActivateToken(ctx context.Context, ownerID, id string) (*model.EmergencyAccessToken, error) {
	t, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if t.Revoked() {
		return nil, fmt.Errorf("%w: token %s is revoked", errors.TokenInvalid, id)
	}
	if _, err := s.activate(ctx, t, "owner:"+ownerID); err != nil {
		return nil, err
	}
	return t, nil
}

// activate 只在未撤销且未激活时写入；读取后被撤销返回 TokenInvalid
func (s *TokenService) activate(ctx context.Context, t *model.EmergencyAccessToken, actor string) (bool, error) {
	if t.ActivatedAt != nil {
		return false, nil
	}
	now := s.nowFn()
	ok, err := s.tokens.Activate(ctx, t.ID, now)
	if err != nil {
		return false, err
	}
	if !ok {
		fresh, err := s.tokens.Get(ctx, t.ID)
		if err != nil {
			return false, err
		}
		*t = *fresh
		if t.Revoked() {
			return false, fmt.Errorf("%w: token %s is revoked", errors.TokenInvalid, t.ID)
		}
		return false, nil
	}

	t.ActivatedAt = &now
	t.UpdatedAt = now
	s.record(ctx, t, model.AccessActionActivate, AccessContext{}, "", nil)
	s.compliance(ctx, t, actor, "token_activated", nil)
	return true, nil
}

// ActivateSwitchTokens 开关触发后激活绑定在该开关上的待激活令牌，重复调用不会重复激活
func (s *TokenService) ActivateSwitchTokens(ctx context.Context, switchID string) (int, error) {
	list, err := s.tokens.ListBySwitch(ctx, switchID)
	if err != nil {
		return 0, err
	}

	activated := 0
	for _, t := range list {
		if !t.RequiresActivation || t.ActivatedAt != nil || t.Revoked() {
			continue
		}
		done, err := s.activate(ctx, t, "system:release")
		if err != nil {
			if errors.Is(err, errors.TokenInvalid) {
				continue
			}
			return activated, fmt.Errorf("%w: %v", errors.TransientDeliveryFailure, err)
		}
		if done {
			activated++
		}
	}

	if activated > 0 {
		s.logger.Info("Switch tokens activated",
			zap.String("switch_id", switchID),
			zap.Int("count", activated),
		)
	}
	return activated, nil
}

func (s *TokenService) ListTokens(ctx context.Context, ownerID string) ([]*model.EmergencyAccessToken, error) {
	return s.tokens.ListByOwner(ctx, ownerID)
}

// GetAccessLogs 按时间倒序
func (s *TokenService) GetAccessLogs(ctx context.Context, ownerID, id string, limit int) ([]model.AccessLogEntry, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultAccessLogLimit {
		limit = defaultAccessLogLimit
	}
	return s.logs.ListByToken(ctx, id, limit)
}

// record 追加访问日志；日志写失败只告警，不改变调用结果
func (s *TokenService) record(ctx context.Context, t *model.EmergencyAccessToken, action model.AccessAction, ac AccessContext, resourceID string, cause error) {
	outcome := model.AccessOutcomeOK
	if cause != nil {
		var r *rejection
		if !stderrors.As(cause, &r) {
			return
		}
		outcome = r.outcome
	}
	if action == model.AccessActionValidate || action == model.AccessActionUse {
		metrics.RecordTokenValidation(ctx, string(outcome))
	}

	entry := s.accessEntry(t, action, ac, resourceID, outcome, cause == nil)
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to append token access log",
			zap.String("token_id", entry.TokenID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
	if cause != nil {
		s.logger.Info("Token access rejected",
			zap.String("token_id", entry.TokenID),
			zap.String("action", string(action)),
			zap.String("outcome", string(outcome)),
		)
	}
}

func (s *TokenService) accessEntry(t *model.EmergencyAccessToken, action model.AccessAction, ac AccessContext, resourceID string, outcome model.AccessOutcome, success bool) *model.AccessLogEntry {
	entry := &model.AccessLogEntry{
		Action:     action,
		Success:    success,
		Outcome:    outcome,
		IPHash:     utils.HashIP(ac.IPAddress),
		UserAgent:  truncate(ac.UserAgent, 255),
		ResourceID: resourceID,
		OccurredAt: s.nowFn(),
	}
	if t != nil {
		entry.TokenID = t.ID
		entry.ContactID = t.ContactID
		entry.OwnerID = t.OwnerID
	}
	return entry
}

func (s *TokenService) compliance(ctx context.Context, t *model.EmergencyAccessToken, actor, action string, detail map[string]interface{}) {
	if s.audit == nil {
		return
	}
	err := s.audit.AppendAuditLog(ctx, release.AuditEvent{
		Category:   release.CategoryToken,
		Action:     action,
		SubjectID:  t.ID,
		OwnerID:    t.OwnerID,
		Actor:      actor,
		Detail:     detail,
		OccurredAt: s.nowFn(),
	})
	if err != nil {
		s.logger.Warn("Failed to append compliance event",
			zap.String("token_id", t.ID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
