package handler

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/app"

	"LegacyVault/internal/middleware"
	"LegacyVault/internal/model/dto"
	"LegacyVault/internal/trigger"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/response"
)

type EvaluationHandler struct {
	engine *trigger.Engine
}

func NewEvaluationHandler(engine *trigger.Engine) *EvaluationHandler {
	return &EvaluationHandler{engine: engine}
}

// subject 只能操作自己的评估，运维账号除外
func subject(ctx context.Context, c *app.RequestContext) (string, bool) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return "", false
	}
	target := c.Param("user_id")
	if target != uid && !middleware.IsAdmin(ctx, c) {
		response.Error(ctx, c, fmt.Errorf("%w: evaluations of %s", errors.Forbidden, target))
		return "", false
	}
	return target, true
}

// Trigger 立即执行一次完整评估
// POST /v1/evaluations/:user_id
func (h *EvaluationHandler) Trigger(ctx context.Context, c *app.RequestContext) {
	userID, ok := subject(ctx, c)
	if !ok {
		return
	}
	results, err := h.engine.TriggerEvaluation(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.EvaluationData{
		Results:        results,
		HighConfidence: trigger.FilterHighConfidence(results),
	})
}

// History GET /v1/evaluations/:user_id?limit=50
func (h *EvaluationHandler) History(ctx context.Context, c *app.RequestContext) {
	userID, ok := subject(ctx, c)
	if !ok {
		return
	}
	history, err := h.engine.GetEvaluationHistory(ctx, userID, queryInt(c, "limit"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.SuccessWithMeta(ctx, c, history, map[string]interface{}{"count": len(history)})
}

// GetSchedule GET /v1/evaluations/:user_id/schedule
func (h *EvaluationHandler) GetSchedule(ctx context.Context, c *app.RequestContext) {
	userID, ok := subject(ctx, c)
	if !ok {
		return
	}
	sc, err := h.engine.GetSchedule(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sc)
}

// PutSchedule PUT /v1/evaluations/:user_id/schedule
func (h *EvaluationHandler) PutSchedule(ctx context.Context, c *app.RequestContext) {
	userID, ok := subject(ctx, c)
	if !ok {
		return
	}
	var req dto.ScheduleRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	sc, err := h.engine.RegisterUser(ctx, userID, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sc)
}

// SetEnabled PUT /v1/evaluations/:user_id/enabled
func (h *EvaluationHandler) SetEnabled(ctx context.Context, c *app.RequestContext) {
	userID, ok := subject(ctx, c)
	if !ok {
		return
	}
	var req dto.EnabledRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	sc, err := h.engine.SetUserEvaluationEnabled(ctx, userID, req.Enabled)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, sc)
}

// ListTriggers GET /v1/evaluations/:user_id/triggers
func (h *EvaluationHandler) ListTriggers(ctx context.Context, c *app.RequestContext) {
	userID, ok := subject(ctx, c)
	if !ok {
		return
	}
	defs, err := h.engine.ListTriggers(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, defs)
}

// RegisterTrigger POST /v1/evaluations/:user_id/triggers
func (h *EvaluationHandler) RegisterTrigger(ctx context.Context, c *app.RequestContext) {
	userID, ok := subject(ctx, c)
	if !ok {
		return
	}
	var req dto.TriggerRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	def, err := h.engine.RegisterTrigger(ctx, userID, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Created(ctx, c, def)
}

// RemoveTrigger DELETE /v1/evaluations/:user_id/triggers/:trigger_id
func (h *EvaluationHandler) RemoveTrigger(ctx context.Context, c *app.RequestContext) {
	userID, ok := subject(ctx, c)
	if !ok {
		return
	}
	if err := h.engine.RemoveTrigger(ctx, userID, c.Param("trigger_id")); err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.NoContent(ctx, c)
}

// ReportSignal 任何已认证的用户都可以上报，上报人记录在信号上
// POST /v1/evaluations/:user_id/signals
func (h *EvaluationHandler) ReportSignal(ctx context.Context, c *app.RequestContext) {
	uid, ok := ownerID(ctx, c)
	if !ok {
		return
	}
	var req dto.SignalRequest
	if !bindBody(ctx, c, &req) {
		return
	}
	sig, err := h.engine.ReportSignal(ctx, c.Param("user_id"), "user:"+uid, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Created(ctx, c, sig)
}
