package openapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// 请求描述
// =============================================================================

// QueryParam 表示一个查询参数。同名键可出现多次，发送顺序与声明顺序一致。
type QueryParam struct {
	Key   string
	Value string
}

// RequestSpec 描述一次开放平台调用。
// 构建后不应再修改；传输层只读取，不回写。
type RequestSpec struct {
	// Method HTTP 方法（必填）。
	Method string

	// PathTemplate 带占位符的路径模板，以 "/" 开头。
	// 占位符形如 {name}，发送前由 PathParams 替换并做百分号编码。
	// 例如："/open-apis/im/v1/messages/{message_id}"
	PathTemplate string

	// PathParams 占位符取值。模板引用的名字必须全部提供。
	PathParams map[string]string

	// Query 查询参数，保持声明顺序，允许同名键重复。
	Query []QueryParam

	// Body 请求体。[]byte 与 io.Reader 原样发送（配合 ContentType），
	// 其余类型 JSON 序列化。nil 表示无请求体。
	Body any

	// ContentType 请求体的 Content-Type。
	// 为空时：JSON 体使用 application/json，原始体使用 application/octet-stream。
	ContentType string

	// AcceptedTokenKinds 此接口接受的令牌类型，按偏好排序。
	// 传输层选择第一个在当前调用上下文中可满足的类型。
	AcceptedTokenKinds []TokenKind

	// NoAuth 标记免认证接口（令牌签发等），跳过令牌解析。
	NoAuth bool
}

// validate 检查请求描述的基本有效性。
func (s *RequestSpec) validate() error {
	if s.Method == "" {
		return NewValidationError("empty method")
	}
	if !strings.HasPrefix(s.PathTemplate, "/") {
		return NewValidationError("path template %q must start with /", s.PathTemplate)
	}
	if !s.NoAuth && len(s.AcceptedTokenKinds) == 0 {
		return NewValidationError("no accepted token kinds declared")
	}
	for _, k := range s.AcceptedTokenKinds {
		if !k.valid() {
			return NewValidationError("unknown token kind %q", string(k))
		}
	}
	return nil
}

// =============================================================================
// 路径与查询构建
// =============================================================================

// buildPath 将模板占位符替换为经百分号编码的参数值。
// 未提供取值或占位符格式非法均返回 ValidationError，请求不会发出。
func buildPath(template string, params map[string]string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(template))

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return "", NewValidationError("unmatched '}' in path template %q", template)
			}
			sb.WriteString(rest)
			return sb.String(), nil
		}

		sb.WriteString(rest[:open])
		rest = rest[open+1:]

		closing := strings.IndexByte(rest, '}')
		if closing < 0 {
			return "", NewValidationError("unmatched '{' in path template %q", template)
		}
		name := rest[:closing]
		if name == "" {
			return "", NewValidationError("empty placeholder in path template %q", template)
		}

		value, ok := params[name]
		if !ok {
			return "", NewValidationError("missing path param %q", name)
		}
		sb.WriteString(url.PathEscape(value))
		rest = rest[closing+1:]
	}
}

// buildQuery 按声明顺序拼接查询串，键值均做查询编码。
// 设计决策: 不使用 url.Values——其 map 结构会丢失声明顺序，
// 而分页游标等参数在部分接口上对顺序敏感。
func buildQuery(params []QueryParam) string {
	if len(params) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.Value))
	}
	return sb.String()
}

// buildBody 把 RequestSpec.Body 归一化为 io.Reader 和 Content-Type。
func buildBody(body any, contentType string) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return bytes.NewReader(b), contentType, nil
	case io.Reader:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return b, contentType, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", NewValidationError("marshal request body: %v", err)
		}
		if contentType == "" {
			contentType = contentTypeJSON
		}
		return bytes.NewReader(data), contentType, nil
	}
}

// =============================================================================
// 单次请求选项
// =============================================================================

// requestOptions 聚合单次请求的调用上下文。
type requestOptions struct {
	userAccessToken string
	tenantKey       string
	sessionKey      string
	timeout         time.Duration
	headers         map[string]string
}

// RequestOption 定义单次请求的配置选项。
type RequestOption func(*requestOptions)

// WithUserAccessToken 显式提供用户令牌。
// 提供后传输层原样使用该令牌，完全绕过令牌缓存与获取。
func WithUserAccessToken(token string) RequestOption {
	return func(o *requestOptions) {
		o.userAccessToken = token
	}
}

// WithTenantKey 指定目标租户（商店应用的租户令牌需要）。
func WithTenantKey(tenantKey string) RequestOption {
	return func(o *requestOptions) {
		o.tenantKey = tenantKey
	}
}

// WithSessionKey 指定用户会话标识，指向此前通过
// RefreshUserAccessToken 写入缓存的用户令牌。
func WithSessionKey(sessionKey string) RequestOption {
	return func(o *requestOptions) {
		o.sessionKey = sessionKey
	}
}

// WithRequestTimeout 覆盖本次请求的超时时间。
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHeader 为本次请求附加请求头，同名时覆盖 Config.DefaultHeaders。
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

func applyRequestOptions(opts []RequestOption) *requestOptions {
	o := &requestOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
