package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"LegacyVault/pkg/errors"
)

// ErrorCodeKey 错误码写入请求上下文，供指标中间件打标签
const ErrorCodeKey = "response.error_code"

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// StatusFor 根据错误码映射 HTTP 状态码
func StatusFor(err error) int {
	def, ok := errors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch def.Code {
	case errors.NotFound.Code:
		return http.StatusNotFound
	case errors.Forbidden.Code, errors.IPDenied.Code:
		return http.StatusForbidden
	case errors.Unauthorized.Code, errors.TokenInvalid.Code:
		return http.StatusUnauthorized
	case errors.InvalidRequest.Code, errors.InvalidConfiguration.Code:
		return http.StatusBadRequest
	case errors.Conflict.Code:
		return http.StatusConflict
	case errors.RateLimited.Code:
		return http.StatusTooManyRequests
	case errors.Expired.Code, errors.Exhausted.Code:
		return http.StatusGone
	case errors.TransientDeliveryFailure.Code:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func detailFor(err error) (string, string) {
	if def, ok := errors.As(err); ok {
		// 包装后的错误保留上下文，令牌类错误只返回分类信息
		switch def {
		case errors.TokenInvalid, errors.Expired, errors.Exhausted, errors.IPDenied, errors.RateLimited:
			return def.Code, def.Message
		}
		return def.Code, err.Error()
	}
	return "INTERNAL_ERROR", err.Error()
}

// Error 返回错误响应
func Error(ctx context.Context, c *app.RequestContext, err error) {
	ErrorWithDetails(ctx, c, err, nil)
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	code, message := detailFor(err)
	status := StatusFor(err)
	c.Set(ErrorCodeKey, code)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}

func Created(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{
		Data: data,
	})
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.Set(ErrorCodeKey, errors.InvalidRequest.Code)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    errors.InvalidRequest.Code,
			Message: err.Error(),
		},
	})
}

// NoContent 返回 204 No Content（用于 DELETE 等操作）
func NoContent(ctx context.Context, c *app.RequestContext) {
	c.Status(http.StatusNoContent)
}
