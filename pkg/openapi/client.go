package openapi

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/omeyang/openkit/pkg/observability/xmetrics"
)

// Version 库版本号，随 User-Agent 上报。
const Version = "0.1.0"

const userAgent = "openkit/" + Version

// =============================================================================
// 客户端
// =============================================================================

// Client 是开放平台客户端的传输核心：管理应用凭据与访问令牌，
// 并把 RequestSpec 分发到平台。上层接口封装在 Client 之上组装
// RequestSpec，自身不接触令牌。
//
// Client 并发安全，应当在进程内复用单个实例。
type Client struct {
	config   *Config
	http     *httpClient
	cache    *tokenCache
	fetcher  tokenFetcher
	preheat  *preheater
	logger   *slog.Logger
	observer xmetrics.Observer

	ticketMu  sync.RWMutex
	appTicket string

	closed atomic.Bool
}

// NewClient 创建客户端。
// cfg 被深拷贝后应用默认值并校验，构造之后修改原对象无效。
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	cfg, err := prepareConfig(cfg)
	if err != nil {
		return nil, err
	}

	options := applyClientOptions(opts)
	logger := options.logger
	observer := options.observer

	httpClient, err := newHTTPClient(cfg, options.httpClient, observer)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:   cfg,
		http:     httpClient,
		fetcher:  newPlatformFetcher(cfg, httpClient, logger),
		logger:   logger,
		observer: observer,
	}
	c.cache = newTokenCache(tokenCacheConfig{
		size:     cfg.LocalCacheSize,
		remote:   options.cacheStore,
		disabled: cfg.DisableTokenCache,
		logger:   logger,
		observer: observer,
	})

	if cfg.EnablePreheat {
		p, err := newPreheater(c, cfg.PreheatInterval)
		if err != nil {
			return nil, err
		}
		c.preheat = p
		c.preheat.start()
	}

	return c, nil
}

// prepareConfig 拷贝、补默认值并校验配置。
func prepareConfig(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Close 关闭客户端：停止预热器，释放连接池，拒绝后续请求。幂等。
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.preheat != nil {
		c.preheat.stop()
	}
	c.http.closeIdleConnections()
	c.logger.Debug("openapi client closed", "app_id", c.config.AppID)
	return nil
}

// =============================================================================
// 应用 ticket
// =============================================================================

// SetAppTicket 注入开放平台推送的 app_ticket。
// 商店应用获取 app_access_token 依赖最近一次注入的 ticket；
// ticket 的事件订阅与接收由调用方完成。
func (c *Client) SetAppTicket(ticket string) {
	c.ticketMu.Lock()
	c.appTicket = ticket
	c.ticketMu.Unlock()
}

func (c *Client) currentAppTicket() string {
	c.ticketMu.RLock()
	defer c.ticketMu.RUnlock()
	return c.appTicket
}

// =============================================================================
// 缓存键
// =============================================================================

func (c *Client) appTokenKey() cacheKey {
	return cacheKey{appID: c.config.AppID, kind: TokenKindApp}
}

// tenantTokenKey 归一化租户键：自建应用单租户，忽略传入的 tenantKey。
func (c *Client) tenantTokenKey(tenantKey string) cacheKey {
	if c.config.AppKind == AppKindSelfBuilt {
		tenantKey = ""
	}
	return cacheKey{appID: c.config.AppID, kind: TokenKindTenant, tenantKey: tenantKey}
}

func (c *Client) userTokenKey(sessionKey string) cacheKey {
	return cacheKey{appID: c.config.AppID, kind: TokenKindUser, tenantKey: sessionKey}
}

// =============================================================================
// 令牌入口
// =============================================================================

// fetchContext 为令牌获取补上超时边界。
// singleflight 的 leader 用自己的 ctx 执行获取，无截止时间的 ctx 会让
// leader 与所有排队的 follower 一起无限期阻塞；已有截止时间的 ctx
// 原样返回，以调用方的约束为准。
func (c *Client) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// appAccessToken 返回可用的应用令牌，必要时向平台获取。
func (c *Client) appAccessToken(ctx context.Context) (string, error) {
	ctx, cancel := c.fetchContext(ctx)
	defer cancel()
	return c.cache.Get(ctx, c.appTokenKey(), c.appTokenFetch())
}

func (c *Client) appTokenFetch() fetchFunc {
	return func(ctx context.Context) (*fetchedToken, error) {
		return c.fetcher.AppAccessToken(ctx, c.currentAppTicket())
	}
}

// tenantAccessToken 返回可用的租户令牌，必要时向平台获取。
//
// 商店应用为两跳：先经统一入口取 app_access_token（命中缓存则不发请求），
// 再用它换 tenant_access_token。两跳发生在租户键的 singleflight 临界区内，
// 键不同不会与 app 键的获取互锁。
func (c *Client) tenantAccessToken(ctx context.Context, tenantKey string) (string, error) {
	ctx, cancel := c.fetchContext(ctx)
	defer cancel()
	return c.cache.Get(ctx, c.tenantTokenKey(tenantKey), c.tenantTokenFetch(tenantKey))
}

func (c *Client) tenantTokenFetch(tenantKey string) fetchFunc {
	return func(ctx context.Context) (*fetchedToken, error) {
		if c.config.AppKind == AppKindSelfBuilt {
			return c.fetcher.TenantAccessToken(ctx, "", "")
		}
		appToken, err := c.appAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		return c.fetcher.TenantAccessToken(ctx, appToken, tenantKey)
	}
}

// userAccessToken 从缓存取用户令牌。
// 用户令牌无法凭应用凭据获取，缓存未命中直接失败（ErrUserTokenUnavailable），
// 调用方需先 RefreshUserAccessToken 或改用 WithUserAccessToken。
func (c *Client) userAccessToken(ctx context.Context, sessionKey string) (string, error) {
	if sessionKey == "" {
		return "", &TokenError{Kind: TokenKindUser, Err: ErrMissingSessionKey}
	}
	ctx, cancel := c.fetchContext(ctx)
	defer cancel()
	return c.cache.Get(ctx, c.userTokenKey(sessionKey), func(context.Context) (*fetchedToken, error) {
		return nil, &TokenError{Kind: TokenKindUser, Err: ErrUserTokenUnavailable}
	})
}

// RefreshUserAccessToken 用 refresh_token 换取新的用户令牌并写入缓存，
// 之后携带 WithSessionKey(sessionKey) 的请求可直接使用。
// 返回新的 refresh_token（平台可能轮换），由调用方持久化。
func (c *Client) RefreshUserAccessToken(ctx context.Context, sessionKey, refreshToken string) (string, error) {
	if c.closed.Load() {
		return "", ErrClientClosed
	}
	if sessionKey == "" {
		return "", &TokenError{Kind: TokenKindUser, Err: ErrMissingSessionKey}
	}
	if refreshToken == "" {
		return "", &TokenError{Kind: TokenKindUser, Err: ErrMissingRefreshToken}
	}

	ctx, cancel := c.fetchContext(ctx)
	defer cancel()

	var newRefreshToken string
	_, err := c.cache.Refresh(ctx, c.userTokenKey(sessionKey), func(ctx context.Context) (*fetchedToken, error) {
		appToken, err := c.appAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		ft, err := c.fetcher.RefreshUserAccessToken(ctx, appToken, refreshToken)
		if err != nil {
			return nil, err
		}
		newRefreshToken = ft.refreshToken
		return ft, nil
	})
	if err != nil {
		return "", err
	}
	return newRefreshToken, nil
}

// InvalidateToken 手动失效一个缓存令牌。幂等；条目不存在为空操作。
// tenantOrSession 对租户令牌为 tenant_key，对用户令牌为 session key，
// 应用令牌忽略该参数。
func (c *Client) InvalidateToken(ctx context.Context, kind TokenKind, tenantOrSession string) error {
	switch kind {
	case TokenKindApp:
		return c.cache.Invalidate(ctx, c.appTokenKey())
	case TokenKindTenant:
		return c.cache.Invalidate(ctx, c.tenantTokenKey(tenantOrSession))
	case TokenKindUser:
		return c.cache.Invalidate(ctx, c.userTokenKey(tenantOrSession))
	default:
		return NewValidationError("unknown token kind %q", string(kind))
	}
}

// refreshKey 按缓存键强制刷新令牌，预热器使用。
func (c *Client) refreshKey(ctx context.Context, key cacheKey) error {
	var err error
	switch key.kind {
	case TokenKindApp:
		_, err = c.cache.Refresh(ctx, key, c.appTokenFetch())
	case TokenKindTenant:
		_, err = c.cache.Refresh(ctx, key, c.tenantTokenFetch(key.tenantKey))
	}
	return err
}
