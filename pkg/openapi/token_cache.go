package openapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/omeyang/openkit/pkg/observability/xmetrics"
)

// =============================================================================
// 令牌缓存
// =============================================================================

// fetchFunc 执行一次真实的令牌获取。由 tokenCache 在 singleflight
// 保护下调用，调用期间不持有任何缓存锁。
type fetchFunc func(ctx context.Context) (*fetchedToken, error)

// tokenCache 是令牌的两级缓存：L1 进程内 LRU，L2 可选的外部共享缓存。
// 同键的并发获取通过 singleflight 合并为一次真实请求。
//
// 设计决策: L1 的 LRU 只负责容量淘汰，不启用库自带的 TTL（传 0 不起
// 清理 goroutine）；过期判定统一由 cachedToken.usable 按扣除安全边际
// 后的 expiresAt 完成，保证“读到即可用”。
type tokenCache struct {
	local    *expirable.LRU[string, *cachedToken]
	remote   CacheStore
	sf       singleflight.Group
	disabled bool
	logger   *slog.Logger
	observer xmetrics.Observer
	now      func() time.Time
}

// tokenCacheConfig 是 tokenCache 的构造参数。
type tokenCacheConfig struct {
	size     int
	remote   CacheStore
	disabled bool
	logger   *slog.Logger
	observer xmetrics.Observer
}

// newTokenCache 创建令牌缓存。
func newTokenCache(cfg tokenCacheConfig) *tokenCache {
	remote := cfg.remote
	if remote == nil {
		remote = NoopCacheStore{}
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &tokenCache{
		local:    expirable.NewLRU[string, *cachedToken](cfg.size, nil, 0),
		remote:   remote,
		disabled: cfg.disabled,
		logger:   logger,
		observer: cfg.observer,
		now:      time.Now,
	}
}

// Get 返回 key 对应的可用令牌，必要时通过 fetch 获取。
//
// 查找顺序：L1 命中且未过期 → 直接返回；L2 命中且未过期 → 回填 L1；
// 否则进入 singleflight，由 leader 执行 fetch，并发的同键调用共享
// 同一结果（成功或失败）。缓存关闭时跳过查找与写入，但合并仍然生效。
func (c *tokenCache) Get(ctx context.Context, key cacheKey, fetch fetchFunc) (string, error) {
	ctx, span := xmetrics.Start(ctx, c.observer, xmetrics.SpanOptions{
		Component: "openapi",
		Operation: "get_token",
		Kind:      xmetrics.KindInternal,
		Attrs:     []xmetrics.Attr{{Key: "token.kind", Value: string(key.kind)}},
	})

	value, err := c.get(ctx, key, fetch)
	span.End(xmetrics.Result{Err: err})
	return value, err
}

func (c *tokenCache) get(ctx context.Context, key cacheKey, fetch fetchFunc) (string, error) {
	if !c.disabled {
		now := c.now()
		if tok, ok := c.local.Get(key.String()); ok && tok.usable(now) {
			tok.touch(now)
			return tok.value, nil
		}
		if tok := c.remoteLookup(ctx, key); tok != nil && tok.usable(now) {
			tok.touch(now)
			c.local.Add(key.String(), tok)
			return tok.value, nil
		}
	}
	return c.fetchShared(ctx, key, fetch, false)
}

// Refresh 强制刷新 key 对应的令牌，跳过 leader 内的二次检查。
// 预热器和用户令牌换新走此入口；并发的 Get 会合流到同一次刷新。
func (c *tokenCache) Refresh(ctx context.Context, key cacheKey, fetch fetchFunc) (string, error) {
	return c.fetchShared(ctx, key, fetch, true)
}

// fetchShared 在 singleflight 保护下执行真实获取。
//
// 设计决策: leader 在临界区内先二次检查缓存（force 时跳过）——
// follower 在排队期间 leader 可能已完成填充，二次检查避免重复请求。
// fetch 执行期间不持有锁，慢请求不会阻塞其他键的操作。
func (c *tokenCache) fetchShared(ctx context.Context, key cacheKey, fetch fetchFunc, force bool) (string, error) {
	// 注意: singleflight 下 follower 共享 leader 的执行，leader 使用
	// 自己的 ctx；follower 的 ctx 取消无法中止共享中的请求。
	v, err, shared := c.sf.Do(key.String(), func() (any, error) {
		if !c.disabled && !force {
			if tok, ok := c.local.Get(key.String()); ok && tok.usable(c.now()) {
				return tok.value, nil
			}
		}

		ft, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		tok := newCachedToken(key, ft, c.now())
		if !c.disabled {
			c.local.Add(key.String(), tok)
			c.remoteStore(ctx, key, tok)
		}
		return tok.value, nil
	})
	if err != nil {
		return "", err
	}

	value, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("openapi: unexpected singleflight result type %T", v)
	}
	if shared {
		c.logger.DebugContext(ctx, "token fetch merged by singleflight", "key", key.String())
	}
	return value, nil
}

// Invalidate 删除 key 对应的缓存条目。幂等：条目不存在时为空操作。
// 返回的错误只反映外部缓存的删除失败，本地条目总是被移除。
func (c *tokenCache) Invalidate(ctx context.Context, key cacheKey) error {
	c.local.Remove(key.String())
	if err := c.remote.DeleteToken(ctx, key.String()); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// 预热快照
// =============================================================================

// cacheEntryInfo 是预热器可见的条目视图。
type cacheEntryInfo struct {
	key       cacheKey
	expiresAt time.Time
	lastUsed  time.Time
}

// snapshot 返回当前 L1 条目的只读视图，供预热器筛选刷新目标。
func (c *tokenCache) snapshot() []cacheEntryInfo {
	keys := c.local.Keys()
	entries := make([]cacheEntryInfo, 0, len(keys))
	for _, k := range keys {
		tok, ok := c.local.Peek(k)
		if !ok {
			continue
		}
		entries = append(entries, cacheEntryInfo{
			key:       tok.key,
			expiresAt: tok.expiresAt,
			lastUsed:  tok.lastUsedTime(),
		})
	}
	return entries
}

// =============================================================================
// 外部缓存读写
// =============================================================================

// remoteLookup 从外部缓存读取令牌。未命中返回 nil；
// 其他失败仅记日志并按未命中处理，外部缓存故障不应放大为请求失败。
func (c *tokenCache) remoteLookup(ctx context.Context, key cacheKey) *cachedToken {
	stored, err := c.remote.GetToken(ctx, key.String())
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.WarnContext(ctx, "remote token cache lookup failed",
				"key", key.String(), "error", err)
		}
		return nil
	}

	tok := &cachedToken{
		key:       key,
		value:     stored.Value,
		fetchedAt: time.Unix(stored.FetchedAt, 0),
		expiresAt: time.Unix(stored.ExpiresAt, 0),
	}
	tok.lastUsed.Store(c.now().UnixNano())
	return tok
}

// remoteStore 把新令牌写入外部缓存。失败仅记日志。
func (c *tokenCache) remoteStore(ctx context.Context, key cacheKey, tok *cachedToken) {
	ttl := tok.expiresAt.Sub(c.now())
	if ttl <= 0 {
		return
	}
	stored := &StoredToken{
		Value:     tok.value,
		FetchedAt: tok.fetchedAt.Unix(),
		ExpiresAt: tok.expiresAt.Unix(),
	}
	if err := c.remote.SetToken(ctx, key.String(), stored, ttl); err != nil {
		c.logger.WarnContext(ctx, "remote token cache store failed",
			"key", key.String(), "error", err)
	}
}
