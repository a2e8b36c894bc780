package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/schedule"
	"LegacyVault/pkg/response"
)

type MonitorHandler struct {
	monitor *schedule.Monitor
	// runCtx 巡检循环的生命周期跟随进程而不是请求
	runCtx context.Context
}

func NewMonitorHandler(runCtx context.Context, monitor *schedule.Monitor) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, runCtx: runCtx}
}

// Status GET /v1/monitor/status
func (h *MonitorHandler) Status(ctx context.Context, c *app.RequestContext) {
	response.Success(ctx, c, h.monitor.Status())
}

// Start POST /v1/monitor/start
func (h *MonitorHandler) Start(ctx context.Context, c *app.RequestContext) {
	h.monitor.Start(h.runCtx)
	response.Success(ctx, c, h.monitor.Status())
}

// Stop 等待进行中的巡检结束后返回
// POST /v1/monitor/stop
func (h *MonitorHandler) Stop(ctx context.Context, c *app.RequestContext) {
	h.monitor.Stop()
	response.Success(ctx, c, h.monitor.Status())
}

// ForceCheck 同步执行一次巡检，与定时巡检串行
// POST /v1/monitor/force-check
func (h *MonitorHandler) ForceCheck(ctx context.Context, c *app.RequestContext) {
	result, err := h.monitor.ForceCheck(ctx)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, result)
}

// UpdateConfig POST /v1/monitor/config
func (h *MonitorHandler) UpdateConfig(ctx context.Context, c *app.RequestContext) {
	var req dto.MonitorConfigRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	if _, err := h.monitor.UpdateConfig(req); err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, h.monitor.Status())
}
