package errors

import stderrors "errors"

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 通用错误。
var (
	NotFound       = Definition{Code: "NOT_FOUND", Message: "Resource not found"}
	Forbidden      = Definition{Code: "FORBIDDEN", Message: "Forbidden"}
	Unauthorized   = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	InvalidRequest = Definition{Code: "INVALID_REQUEST", Message: "Invalid request"}
	Conflict       = Definition{Code: "CONFLICT", Message: "Concurrent modification, retry"}
)

// 开关配置错误。
var (
	InvalidConfiguration = Definition{Code: "INVALID_CONFIGURATION", Message: "Invalid configuration"}
)

// 紧急访问令牌错误，对外只暴露分类，不暴露具体是哪一项检查失败。
var (
	RateLimited  = Definition{Code: "RATE_LIMITED", Message: "Too many attempts"}
	TokenInvalid = Definition{Code: "TOKEN_INVALID", Message: "Token invalid"}
	Expired      = Definition{Code: "TOKEN_EXPIRED", Message: "Token expired"}
	Exhausted    = Definition{Code: "TOKEN_EXHAUSTED", Message: "Token usage exhausted"}
	IPDenied     = Definition{Code: "IP_DENIED", Message: "Access from this address is not allowed"}
)

// 外部协作方错误。
var (
	TransientDeliveryFailure = Definition{Code: "TRANSIENT_DELIVERY_FAILURE", Message: "Collaborator temporarily unreachable"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	NotFound.Code:                 NotFound,
	Forbidden.Code:                Forbidden,
	Unauthorized.Code:             Unauthorized,
	InvalidRequest.Code:           InvalidRequest,
	Conflict.Code:                 Conflict,
	InvalidConfiguration.Code:     InvalidConfiguration,
	RateLimited.Code:              RateLimited,
	TokenInvalid.Code:             TokenInvalid,
	Expired.Code:                  Expired,
	Exhausted.Code:                Exhausted,
	IPDenied.Code:                 IPDenied,
	TransientDeliveryFailure.Code: TransientDeliveryFailure,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// As 从错误链中取出 Definition
func As(err error) (Definition, bool) {
	var def Definition
	if stderrors.As(err, &def) {
		return def, true
	}
	return Definition{}, false
}

// Is 判断错误链中是否包含指定 Definition
func Is(err error, def Definition) bool {
	return stderrors.Is(err, def)
}

// SkipMessageError 消费者遇到重复消息时返回，调用方直接 ack
type SkipMessageError struct {
	Reason string
}

func (e *SkipMessageError) Error() string {
	return e.Reason
}
