package openapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/omeyang/openkit/pkg/observability/xmetrics"
)

// =============================================================================
// HTTP 常量
// =============================================================================

const (
	// maxResponseSize 响应体大小上限。
	// 超过上限的响应被拒绝而非截断，避免异常大响应耗尽内存。
	maxResponseSize = 10 * 1024 * 1024

	// headerRequestID 平台回传的请求追踪 ID 头。
	headerRequestID = "X-Request-Id"

	// contentTypeJSON JSON 请求体的 Content-Type。
	contentTypeJSON = "application/json; charset=utf-8"
)

// =============================================================================
// 原始响应
// =============================================================================

// RawResponse 表示一次未经信封解码的平台响应。
// 媒体下载等非 JSON 响应通过 Client.Do 直接拿到 RawResponse。
type RawResponse struct {
	// StatusCode HTTP 状态码。
	StatusCode int

	// Header 响应头。
	Header http.Header

	// Body 完整响应体（受 maxResponseSize 限制）。
	Body []byte

	// RequestID 平台回传的请求追踪 ID，可能为空。
	RequestID string
}

// ContentType 返回响应的 Content-Type。
func (r *RawResponse) ContentType() string {
	return r.Header.Get("Content-Type")
}

// isJSON 判断响应体是否为 JSON。
func (r *RawResponse) isJSON() bool {
	return strings.Contains(r.ContentType(), "application/json")
}

// =============================================================================
// HTTP 客户端
// =============================================================================

// httpClient 是对 net/http 的薄封装：BaseURL 拼接、响应读取上限、
// 传输错误归类和观测跨度。令牌与信封语义在上层 transport 处理。
type httpClient struct {
	client   *http.Client
	baseURL  string
	observer xmetrics.Observer

	// owned 表示 client 是内部构建的；调用方自带的 client 生命周期不归此处管
	owned bool
}

// newHTTPClient 构建内部 HTTP 客户端。
// custom 非 nil 时直接使用调用方提供的 *http.Client（其 Transport、
// 超时等配置以调用方为准），否则按 Config 的 TLS 配置构建。
func newHTTPClient(cfg *Config, custom *http.Client, observer xmetrics.Observer) (*httpClient, error) {
	client := custom
	owned := false
	if client == nil {
		owned = true
		tlsConfig, err := cfg.TLS.BuildTLSConfig()
		if err != nil {
			return nil, err
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if tlsConfig != nil {
			transport.TLSClientConfig = tlsConfig
		}
		// 超时由每次请求的 context 控制，client 本身不设全局 Timeout，
		// 避免与 WithRequestTimeout 的按请求覆盖语义冲突
		client = &http.Client{Transport: transport}
	}

	return &httpClient{
		client:   client,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		observer: observer,
		owned:    owned,
	}, nil
}

// closeIdleConnections 释放内部构建的连接池。
// 调用方自带的 http.Client 由调用方管理，不在此处干预。
func (c *httpClient) closeIdleConnections() {
	if c.owned {
		c.client.CloseIdleConnections()
	}
}

// do 发送一次 HTTP 请求并完整读取响应。
// pathAndQuery 必须以 "/" 开头；header 由调用方构建完成，do 不再修改。
// 网络失败、超时和超限响应统一归类为 *TransportError。
func (c *httpClient) do(ctx context.Context, method, pathAndQuery string, header http.Header, body io.Reader) (*RawResponse, error) {
	ctx, span := xmetrics.Start(ctx, c.observer, xmetrics.SpanOptions{
		Component: "openapi",
		Operation: "http_request",
		Kind:      xmetrics.KindClient,
		Attrs: []xmetrics.Attr{
			{Key: "http.method", Value: method},
			{Key: "http.path", Value: stripQuery(pathAndQuery)},
		},
	})

	resp, err := c.send(ctx, method, pathAndQuery, header, body)
	if err != nil {
		span.End(xmetrics.Result{Err: err})
		return nil, err
	}

	span.End(xmetrics.Result{
		Attrs: []xmetrics.Attr{{Key: "http.status_code", Value: resp.StatusCode}},
	})
	return resp, nil
}

func (c *httpClient) send(ctx context.Context, method, pathAndQuery string, header http.Header, body io.Reader) (*RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, body)
	if err != nil {
		return nil, NewValidationError("build http request: %v", err)
	}
	if header != nil {
		req.Header = header
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 多读 1 字节以区分“恰好 10MB”和“超过 10MB”
	limited := &io.LimitedReader{R: resp.Body, N: maxResponseSize + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if limited.N <= 0 {
		return nil, &TransportError{Err: ErrResponseTooLarge}
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		RequestID:  resp.Header.Get(headerRequestID),
	}, nil
}

// classifyTransportError 将底层网络错误归类为 *TransportError。
// context 超时与 net.Error 超时均标记 Timeout，供调用方区分
// 慢响应和连接失败两类场景。
func classifyTransportError(ctx context.Context, err error) *TransportError {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &TransportError{Err: err, Timeout: timeout}
}

// stripQuery 去掉查询串，避免把查询参数值带进观测属性。
func stripQuery(pathAndQuery string) string {
	if i := strings.IndexByte(pathAndQuery, '?'); i >= 0 {
		return pathAndQuery[:i]
	}
	return pathAndQuery
}
