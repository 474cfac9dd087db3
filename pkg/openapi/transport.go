package openapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// =============================================================================
// 请求分发
// =============================================================================

// Do 执行一次开放平台调用，返回未经信封解码的原始响应。
// 媒体下载等非 JSON 接口使用此入口；JSON 接口优先使用 Execute。
//
// 流程：构建路径/查询/请求体 → 解析访问令牌 → 合并请求头 →
// 受超时约束发送 → 识别平台业务错误。响应信封 code 非零时返回
// *APIError；若错误码表示令牌失效，所用缓存条目被立即失效，
// 但请求不会自动重放，是否重试由调用方决定。
func (c *Client) Do(ctx context.Context, spec *RequestSpec, opts ...RequestOption) (*RawResponse, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if spec == nil {
		return nil, ErrNilRequest
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}

	ro := applyRequestOptions(opts)

	path, err := buildPath(spec.PathTemplate, spec.PathParams)
	if err != nil {
		return nil, err
	}
	if q := buildQuery(spec.Query); q != "" {
		path += "?" + q
	}

	bodyReader, contentType, err := buildBody(spec.Body, spec.ContentType)
	if err != nil {
		return nil, err
	}

	// 超时先于令牌解析生效：令牌获取与业务请求都是网络调用，
	// 任何一段都不允许无边界阻塞
	timeout := c.config.Timeout
	if ro.timeout > 0 {
		timeout = ro.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 令牌解析先于请求头合并：Authorization 不受 DefaultHeaders 和
	// WithHeader 影响，令牌来源只有解析结果或显式覆盖两种
	var usedKey *cacheKey
	token := ""
	if !spec.NoAuth {
		token, usedKey, err = c.resolveToken(ctx, spec, ro)
		if err != nil {
			return nil, err
		}
	}

	header := c.buildHeader(ro, contentType, token)

	raw, err := c.http.do(ctx, spec.Method, path, header, bodyReader)
	if err != nil {
		return nil, err
	}

	if apiErr := peekEnvelopeError(raw); apiErr != nil {
		if apiErr.TokenInvalid() && usedKey != nil {
			// 失效条目立刻清除，下一次调用重新获取；失效失败不掩盖原错误
			if invErr := c.cache.Invalidate(ctx, *usedKey); invErr != nil {
				c.logger.WarnContext(ctx, "invalidate token after rejection failed",
					"key", usedKey.String(), "error", invErr)
			}
			c.logger.DebugContext(ctx, "token invalidated by platform rejection",
				"key", usedKey.String(), "code", apiErr.Code)
		}
		return nil, apiErr
	}

	return raw, nil
}

// Execute 执行一次 JSON 接口调用并解码信封中的业务载荷。
//
// 设计决策: Go 不支持泛型方法，Execute 以包级函数形式携带类型参数，
// 客户端实例作为第二个参数传入。
func Execute[T any](ctx context.Context, c *Client, spec *RequestSpec, opts ...RequestOption) (*T, error) {
	raw, err := c.Do(ctx, spec, opts...)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope[T](raw, true)
}

// ExecuteNoResult 执行一次无业务载荷的 JSON 接口调用。
// 信封 code 为零即成功，data 缺失不算错误。
func ExecuteNoResult(ctx context.Context, c *Client, spec *RequestSpec, opts ...RequestOption) error {
	raw, err := c.Do(ctx, spec, opts...)
	if err != nil {
		return err
	}
	_, err = decodeEnvelope[struct{}](raw, false)
	return err
}

// =============================================================================
// 令牌解析
// =============================================================================

// resolveToken 为请求选定并获取访问令牌。
// 返回的 cacheKey 标识所用缓存条目（显式覆盖时为 nil），
// 供令牌被平台拒绝时定向失效。
//
// 显式提供的用户令牌原样使用，不查缓存、不做获取；否则按
// AcceptedTokenKinds 的声明顺序选第一个可满足的类型，单次获取，
// 失败立即返回，不回退到其他类型。
func (c *Client) resolveToken(ctx context.Context, spec *RequestSpec, ro *requestOptions) (string, *cacheKey, error) {
	if ro.userAccessToken != "" {
		return ro.userAccessToken, nil, nil
	}

	kind, ok := c.pickTokenKind(spec.AcceptedTokenKinds, ro)
	if !ok {
		return "", nil, &TokenError{Err: ErrNoUsableTokenKind}
	}

	switch kind {
	case TokenKindApp:
		key := c.appTokenKey()
		token, err := c.appAccessToken(ctx)
		return token, &key, err

	case TokenKindTenant:
		key := c.tenantTokenKey(ro.tenantKey)
		token, err := c.tenantAccessToken(ctx, ro.tenantKey)
		return token, &key, err

	default: // TokenKindUser
		key := c.userTokenKey(ro.sessionKey)
		token, err := c.userAccessToken(ctx, ro.sessionKey)
		return token, &key, err
	}
}

// pickTokenKind 返回声明顺序中第一个当前调用上下文能满足的令牌类型。
func (c *Client) pickTokenKind(kinds []TokenKind, ro *requestOptions) (TokenKind, bool) {
	for _, k := range kinds {
		switch k {
		case TokenKindApp:
			return k, true
		case TokenKindTenant:
			// 自建应用单租户，无需 tenant_key；商店应用必须指定租户
			if c.config.AppKind == AppKindSelfBuilt || ro.tenantKey != "" {
				return k, true
			}
		case TokenKindUser:
			if ro.sessionKey != "" {
				return k, true
			}
		}
	}
	return "", false
}

// =============================================================================
// 请求头合并
// =============================================================================

// buildHeader 合并请求头。优先级：单次请求头 > Config.DefaultHeaders；
// Authorization 与 X-Request-Id 最后写入，不可被覆盖。
func (c *Client) buildHeader(ro *requestOptions, contentType, token string) http.Header {
	header := http.Header{}
	for k, v := range c.config.DefaultHeaders {
		header.Set(k, v)
	}
	for k, v := range ro.headers {
		header.Set(k, v)
	}

	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", userAgent)
	}
	header.Set(headerRequestID, uuid.NewString())
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}
