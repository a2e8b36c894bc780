// Package handler 把 HTTP 请求翻译为 service 调用，不包含业务规则。
package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"LegacyVault/internal/middleware"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/response"
)

// ownerID 取认证后的所有者 ID，缺失时直接写 401
func ownerID(ctx context.Context, c *app.RequestContext) (string, bool) {
	uid, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return "", false
	}
	return uid, true
}

// bindBody 空请求体视为零值
func bindBody(ctx context.Context, c *app.RequestContext, req interface{}) bool {
	if len(c.Request.Body()) == 0 {
		return true
	}
	if err := c.BindJSON(req); err != nil {
		response.BindError(ctx, c, err)
		return false
	}
	return true
}

func queryInt(c *app.RequestContext, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}
