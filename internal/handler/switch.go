package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"LegacyVault/internal/middleware"
	"LegacyVault/internal/model"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/service"
	"LegacyVault/pkg/response"
)

type SwitchHandler struct {
	svc *service.SwitchService
}

func NewSwitchHandler(svc *service.SwitchService) *SwitchHandler {
	return &SwitchHandler{svc: svc}
}

// Create 创建开关
// POST /v1/switches
func (h *SwitchHandler) Create(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.CreateSwitchRequest
	if !bindBody(ctx, c, &req) {
		return
	}

	sw, err := h.svc.CreateSwitch(ctx, uid, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Created(ctx, c, sw)
}

// List GET /v1/switches
func (h *SwitchHandler) List(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	list, err := h.svc.ListSwitches(ctx, uid)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.SuccessWithMeta(ctx, c, list, map[string]interface{}{"total": len(list)})
}

// Get GET /v1/switches/:id
func (h *SwitchHandler) Get(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	data, err := h.svc.GetSwitch(ctx, uid, c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, data)
}

// UpdateConfig 修改时间参数
// PUT /v1/switches/:id
func (h *SwitchHandler) UpdateConfig(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.UpdateSwitchConfigRequest
	if !bindBody(ctx, c, &req) {
		return
	}

	sw, err := h.svc.UpdateConfiguration(ctx, uid, c.Param("id"), req.Config)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sw)
}

// Delete DELETE /v1/switches/:id
func (h *SwitchHandler) Delete(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	if err := h.svc.DeleteSwitch(ctx, uid, c.Param("id")); err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.NoContent(ctx, c)
}

// Enable POST /v1/switches/:id/enable
func (h *SwitchHandler) Enable(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	sw, err := h.svc.EnableSwitch(ctx, uid, c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sw)
}

// Disable POST /v1/switches/:id/disable
func (h *SwitchHandler) Disable(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	sw, err := h.svc.DisableSwitch(ctx, uid, c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sw)
}

// Reset 所有者确认后把 triggered 开关恢复为 armed
// POST /v1/switches/:id/reset
func (h *SwitchHandler) Reset(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.ResetSwitchRequest
	if !bindBody(ctx, c, &req) {
		return
	}

	sw, err := h.svc.ResetSwitch(ctx, uid, c.Param("id"), req.Reason)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sw)
}

// CheckIn 签到，未指定方式时记为 web_checkin
// POST /v1/switches/:id/check-in
func (h *SwitchHandler) CheckIn(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.CheckInRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	if req.Method == "" {
		req.Method = model.CheckInMethodWebCheckIn
	}
	if req.Metadata.IPAddress == "" {
		req.Metadata.IPAddress = middleware.ClientIP(c)
	}
	if req.Metadata.UserAgent == "" {
		req.Metadata.UserAgent = string(c.UserAgent())
	}

	sw, err := h.svc.RecordCheckIn(ctx, c.Param("id"), uid, req.Method, req.Metadata)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sw)
}

// Holiday 登记假期窗口
// POST /v1/switches/:id/holiday
func (h *SwitchHandler) Holiday(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.HolidayRequest
	if !bindBody(ctx, c, &req) {
		return
	}

	sw, err := h.svc.ActivateHolidayMode(ctx, uid, c.Param("id"), req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sw)
}

// Audit GET /v1/switches/:id/audit
func (h *SwitchHandler) Audit(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	trail, err := h.svc.GetAuditTrail(ctx, uid, c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, trail)
}
