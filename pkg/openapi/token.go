package openapi

import (
	"sync/atomic"
	"time"
)

// =============================================================================
// 令牌类型
// =============================================================================

// TokenKind 表示访问令牌类型。
type TokenKind string

const (
	// TokenKindApp 应用级令牌（app_access_token），标识应用自身。
	TokenKindApp TokenKind = "app_access_token"

	// TokenKindTenant 租户级令牌（tenant_access_token），标识应用在某租户下的身份。
	TokenKindTenant TokenKind = "tenant_access_token"

	// TokenKindUser 用户级令牌（user_access_token），标识具体用户授权。
	TokenKindUser TokenKind = "user_access_token"
)

// valid 判断 TokenKind 是否为已知类型。
func (k TokenKind) valid() bool {
	switch k {
	case TokenKindApp, TokenKindTenant, TokenKindUser:
		return true
	}
	return false
}

// =============================================================================
// 缓存键
// =============================================================================

// cacheKey 唯一标识一个缓存令牌条目。
// 自建应用的租户令牌 tenantKey 为空（单租户）；商店应用按租户区分。
// 用户令牌的 tenantKey 字段承载会话标识。
type cacheKey struct {
	appID     string
	kind      TokenKind
	tenantKey string
}

// String 返回稳定的字符串形式，用于 singleflight 合并和外部缓存键。
func (k cacheKey) String() string {
	if k.tenantKey == "" {
		return k.appID + ":" + string(k.kind)
	}
	return k.appID + ":" + string(k.kind) + ":" + k.tenantKey
}

// =============================================================================
// 令牌值
// =============================================================================

// fetchedToken 表示一次令牌获取调用的归一化结果。
type fetchedToken struct {
	value        string
	ttl          time.Duration
	refreshToken string
}

// tokenSafetyMarginFloor 安全边际下限。
// 即使平台返回很长的 TTL，也至少提前 30 秒视为过期，
// 避免请求在途时令牌刚好失效。
const tokenSafetyMarginFloor = 30 * time.Second

// safetyMargin 计算令牌的提前过期边际：max(ttl/20, 30s)，
// 对极短 TTL 收敛到 ttl/2，保证令牌总有可用窗口。
func safetyMargin(ttl time.Duration) time.Duration {
	margin := ttl / 20
	if margin < tokenSafetyMarginFloor {
		margin = tokenSafetyMarginFloor
	}
	if margin >= ttl {
		margin = ttl / 2
	}
	return margin
}

// cachedToken 表示缓存中的一个令牌条目。
// expiresAt 已扣除安全边际；lastUsed 供预热器判断条目活跃度。
type cachedToken struct {
	key       cacheKey
	value     string
	fetchedAt time.Time
	expiresAt time.Time
	lastUsed  atomic.Int64 // UnixNano
}

// newCachedToken 将获取结果转为缓存条目，应用安全边际。
func newCachedToken(key cacheKey, ft *fetchedToken, now time.Time) *cachedToken {
	t := &cachedToken{
		key:       key,
		value:     ft.value,
		fetchedAt: now,
		expiresAt: now.Add(ft.ttl - safetyMargin(ft.ttl)),
	}
	t.lastUsed.Store(now.UnixNano())
	return t
}

// usable 判断令牌在 now 时刻是否仍可使用。
// 边界语义：now == expiresAt 视为已过期。
func (t *cachedToken) usable(now time.Time) bool {
	return now.Before(t.expiresAt)
}

// touch 更新最近使用时间。
func (t *cachedToken) touch(now time.Time) {
	t.lastUsed.Store(now.UnixNano())
}

// lastUsedTime 返回最近使用时间。
func (t *cachedToken) lastUsedTime() time.Time {
	return time.Unix(0, t.lastUsed.Load())
}
