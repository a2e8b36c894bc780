package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"LegacyVault/internal/middleware"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/service"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/response"
	"LegacyVault/pkg/token"
)

type TokenHandler struct {
	svc *service.TokenService
}

func NewTokenHandler(svc *service.TokenService) *TokenHandler {
	return &TokenHandler{svc: svc}
}

func accessContext(c *app.RequestContext) service.AccessContext {
	return service.AccessContext{
		IPAddress: middleware.ClientIP(c),
		UserAgent: string(c.UserAgent()),
	}
}

// Generate 令牌明文只在这里返回一次
// POST /v1/tokens
func (h *TokenHandler) Generate(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.GenerateTokenRequest
	if !bindBody(ctx, c, &req) {
		return
	}

	data, err := h.svc.GenerateToken(ctx, uid, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Created(ctx, c, data)
}

// List GET /v1/tokens
func (h *TokenHandler) List(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	list, err := h.svc.ListTokens(ctx, uid)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.SuccessWithMeta(ctx, c, list, map[string]interface{}{"total": len(list)})
}

// Validate 联系人持令牌调用，不需要所有者身份
// POST /v1/tokens/validate
func (h *TokenHandler) Validate(ctx context.Context, c *app.RequestContext) {
	var req dto.ValidateTokenRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	data, err := h.svc.ValidateToken(ctx, req, accessContext(c))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, data)
}

// Usage 令牌本身即凭证，路径中的 id 必须与令牌一致
// POST /v1/tokens/:id/usage
func (h *TokenHandler) Usage(ctx context.Context, c *app.RequestContext) {
	var req dto.RecordUsageRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	if token.PeekTokenID(req.Token) != c.Param("id") {
		response.Error(ctx, c, errors.TokenInvalid)
		return
	}
	data, err := h.svc.RecordTokenUsage(ctx, req, accessContext(c))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, data)
}

// Revoke POST /v1/tokens/:id/revoke
func (h *TokenHandler) Revoke(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.RevokeTokenRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	if err := h.svc.RevokeToken(ctx, uid, c.Param("id"), req.Reason); err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.NoContent(ctx, c)
}

// Refresh 延长有效期，已用次数保留
// POST /v1/tokens/:id/refresh
func (h *TokenHandler) Refresh(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.RefreshTokenRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	t, err := h.svc.RefreshToken(ctx, uid, c.Param("id"), req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, t)
}

// Activate POST /v1/tokens/:id/activate
func (h *TokenHandler) Activate(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	t, err := h.svc.ActivateToken(ctx, uid, c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, t)
}

// Logs GET /v1/tokens/:id/logs?limit=100
func (h *TokenHandler) Logs(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	logs, err := h.svc.GetAccessLogs(ctx, uid, c.Param("id"), queryInt(c, "limit"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.SuccessWithMeta(ctx, c, logs, map[string]interface{}{"count": len(logs)})
}
