package openapi

import (
	"log/slog"
	"net/http"

	"github.com/omeyang/openkit/pkg/observability/xmetrics"
)

// =============================================================================
// 客户端选项
// =============================================================================

// clientOptions 聚合 NewClient 的可选依赖。
type clientOptions struct {
	httpClient *http.Client
	logger     *slog.Logger
	observer   xmetrics.Observer
	cacheStore CacheStore
}

// ClientOption 定义客户端的配置选项。
type ClientOption func(*clientOptions)

// WithHTTPClient 使用调用方提供的 *http.Client 发送请求。
// 调用方负责其 Transport、代理与连接池配置；TLSConfig 配置被忽略。
func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithLogger 设置日志记录器。默认丢弃所有日志。
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver 设置观测器。默认 NoopObserver。
func WithObserver(observer xmetrics.Observer) ClientOption {
	return func(o *clientOptions) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithCacheStore 设置令牌的外部共享缓存（如 RedisCacheStore）。
// 多实例部署时共享令牌，减少向平台的获取请求。默认不使用。
func WithCacheStore(store CacheStore) ClientOption {
	return func(o *clientOptions) {
		if store != nil {
			o.cacheStore = store
		}
	}
}

func applyClientOptions(opts []ClientOption) *clientOptions {
	o := &clientOptions{
		logger:   slog.New(slog.DiscardHandler),
		observer: xmetrics.NoopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
