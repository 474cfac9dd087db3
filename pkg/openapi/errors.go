package openapi

import (
	"errors"
	"fmt"
)

// =============================================================================
// 配置错误
// =============================================================================

var (
	// ErrNilConfig 表示传入的配置为 nil。
	ErrNilConfig = errors.New("openapi: nil config")

	// ErrMissingAppID 表示应用 ID 未配置。
	ErrMissingAppID = errors.New("openapi: missing app_id")

	// ErrMissingAppSecret 表示应用密钥未配置。
	ErrMissingAppSecret = errors.New("openapi: missing app_secret")

	// ErrInvalidAppKind 表示应用类型无效。
	// 合法取值为 AppKindSelfBuilt 和 AppKindMarketplace。
	ErrInvalidAppKind = errors.New("openapi: invalid app_kind")

	// ErrMissingBaseURL 表示开放平台地址未配置。
	ErrMissingBaseURL = errors.New("openapi: missing base_url")

	// ErrInvalidBaseURL 表示 BaseURL 格式无效。
	// BaseURL 必须包含协议和主机名，例如 "https://open.example.com"。
	ErrInvalidBaseURL = errors.New("openapi: invalid base_url: must include scheme and host (e.g., https://open.example.com)")

	// ErrInsecureBaseURL 表示 BaseURL 使用了非 HTTPS 协议。
	// 开放平台传输访问令牌和应用凭据，明文 HTTP 会暴露敏感信息。
	// 如需在开发/测试环境中使用 HTTP，请设置 Config.AllowInsecure = true。
	ErrInsecureBaseURL = errors.New("openapi: base_url must use https:// (set AllowInsecure=true for development)")

	// ErrInvalidTimeout 表示超时配置无效。
	ErrInvalidTimeout = errors.New("openapi: invalid timeout")

	// ErrInvalidCacheSize 表示本地缓存容量配置无效。
	ErrInvalidCacheSize = errors.New("openapi: invalid local cache size")

	// ErrUnsupportedFormat 表示配置数据格式不受支持。
	ErrUnsupportedFormat = errors.New("openapi: unsupported config format")
)

// =============================================================================
// Token 错误
// =============================================================================

var (
	// ErrAppTicketEmpty 表示商店应用尚未收到 app_ticket。
	// app_ticket 由开放平台通过事件推送下发，收到后通过 Client.SetAppTicket 注入。
	ErrAppTicketEmpty = errors.New("openapi: app ticket is empty")

	// ErrUserTokenUnavailable 表示缓存中没有可用的用户访问令牌。
	// 用户令牌不会在缓存未命中时自动获取，需要调用方先通过
	// RefreshUserAccessToken 写入，或在请求时用 WithUserAccessToken 显式提供。
	ErrUserTokenUnavailable = errors.New("openapi: user access token unavailable")

	// ErrNoUsableTokenKind 表示请求声明的令牌类型在当前调用上下文中均不可满足。
	ErrNoUsableTokenKind = errors.New("openapi: no usable token kind for request")

	// ErrMissingRefreshToken 表示 refresh_token 未提供。
	ErrMissingRefreshToken = errors.New("openapi: missing refresh_token")

	// ErrMissingSessionKey 表示用户会话标识未提供。
	ErrMissingSessionKey = errors.New("openapi: missing session key")
)

// =============================================================================
// 请求与缓存错误
// =============================================================================

var (
	// ErrNilRequest 表示传入的请求为 nil。
	ErrNilRequest = errors.New("openapi: nil request")

	// ErrResponseTooLarge 表示响应体超过最大限制。
	// 默认限制为 10MB，超过此限制的响应会被拒绝而非截断。
	ErrResponseTooLarge = errors.New("openapi: response body exceeds maximum size limit")

	// ErrCacheMiss 表示缓存未命中。
	ErrCacheMiss = errors.New("openapi: cache miss")

	// ErrClientClosed 表示客户端已关闭。
	ErrClientClosed = errors.New("openapi: client closed")
)

// =============================================================================
// 平台错误码
// =============================================================================

// 开放平台在业务码中标识令牌失效，收到以下任一错误码时
// 对应缓存条目会被立即失效，下次请求重新获取。
const (
	// ErrCodeTenantTokenInvalid 表示 tenant_access_token 已失效。
	ErrCodeTenantTokenInvalid = 99991663

	// ErrCodeAppTokenInvalid 表示 app_access_token 已失效。
	ErrCodeAppTokenInvalid = 99991664

	// ErrCodeAccessTokenInvalid 表示访问令牌已失效（通用码）。
	ErrCodeAccessTokenInvalid = 99991671
)

// =============================================================================
// 可重试错误分类
// =============================================================================

// RetryableError 可重试错误接口。
// 实现此接口的错误会被自动识别为可重试或不可重试。
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable 检查错误是否可重试。
// 设计决策: 传输核心自身从不自动重试（令牌失效时仅做缓存失效，
// 不隐式重放请求），重试与否完全交给调用方。IsRetryable 与 Retry
// 是提供给调用方的构建块，调用方据此决定重试策略。
//
// 规则：
//   - nil 错误：不需要重试（视为成功）
//   - 实现 RetryableError 接口：根据 Retryable() 返回值判断
//   - 其他错误：默认不可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}

	return false
}

// =============================================================================
// ValidationError 请求构造错误
// =============================================================================

// ValidationError 表示请求在发出前即被判定为非法（路径占位符缺失、
// 方法为空等）。此类错误重试无意义。
type ValidationError struct {
	Reason string
}

// NewValidationError 创建请求构造错误。
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return "openapi: invalid request: " + e.Reason
}

// Retryable 请求构造错误不可重试。
func (e *ValidationError) Retryable() bool {
	return false
}

// =============================================================================
// TokenError 令牌获取错误
// =============================================================================

// TokenError 表示令牌获取或刷新失败。
// Transient 标识失败是否为临时性（网络抖动等）；平台明确拒绝
// （凭据错误、ticket 缺失）为非临时失败，重试同样会失败。
type TokenError struct {
	Kind      TokenKind
	Err       error
	Transient bool
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("openapi: obtain %s failed", e.Kind)
	}
	return fmt.Sprintf("openapi: obtain %s failed: %v", e.Kind, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Retryable 根据 Transient 判断是否可重试。
func (e *TokenError) Retryable() bool {
	return e.Transient
}

// =============================================================================
// TransportError 网络传输错误
// =============================================================================

// TransportError 表示请求未能到达平台或响应未能完整读取。
// 此时请求可能已在服务端执行，是否重放由调用方结合接口幂等性决定。
type TransportError struct {
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("openapi: request timed out: %v", e.Err)
	}
	return fmt.Sprintf("openapi: transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable 传输层失败视为可重试。
func (e *TransportError) Retryable() bool {
	return true
}

// =============================================================================
// APIError 平台业务错误
// =============================================================================

// APIError 表示请求到达了平台，但响应信封中的业务码非零。
type APIError struct {
	HTTPStatus int
	Code       int
	Msg        string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("openapi: api error: status=%d, code=%d, msg=%s, request_id=%s",
			e.HTTPStatus, e.Code, e.Msg, e.RequestID)
	}
	return fmt.Sprintf("openapi: api error: status=%d, code=%d, msg=%s", e.HTTPStatus, e.Code, e.Msg)
}

// TokenInvalid 判断业务码是否表示访问令牌失效。
func (e *APIError) TokenInvalid() bool {
	switch e.Code {
	case ErrCodeTenantTokenInvalid, ErrCodeAppTokenInvalid, ErrCodeAccessTokenInvalid:
		return true
	}
	return false
}

// Retryable 判断平台错误是否可重试。
// 5xx 视为服务端临时故障可重试；业务码错误（含令牌失效）不可盲目重试——
// 令牌失效应由调用方在缓存失效后重新发起请求。
func (e *APIError) Retryable() bool {
	return e.HTTPStatus >= 500
}

// =============================================================================
// DecodeError 响应解码错误
// =============================================================================

// DecodeError 表示平台响应无法按约定的信封结构解析。
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("openapi: decode response failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Retryable 解码错误不可重试。
func (e *DecodeError) Retryable() bool {
	return false
}
