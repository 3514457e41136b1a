// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorSessionInvalid  = "SESSION_INVALID"
	ErrorWrongMode       = "WRONG_MODE"

	// 历史编辑/重新生成相关错误
	ErrorOutOfRange     = "OUT_OF_RANGE"
	ErrorInvalidContent = "INVALID_CONTENT"
	ErrorInvalidIndex   = "INVALID_INDEX"
	ErrorNoHistory      = "NO_HISTORY"

	// 事件相关错误
	ErrorEventNotFound   = "EVENT_NOT_FOUND"
	ErrorNoMoreKeyEvents = "NO_MORE_KEY_EVENTS"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorUpstreamFailure       = "UPSTREAM_ERROR"
)
