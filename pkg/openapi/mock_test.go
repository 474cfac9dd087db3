package openapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock tokenFetcher
// =============================================================================

// mockFetcher 用于测试的令牌获取器 Mock。
// 记录调用次数、时间与最近一次入参，可注入错误与人工延迟。
type mockFetcher struct {
	mu sync.Mutex

	appToken    string
	tenantToken string
	userToken   string
	ttl         time.Duration

	appErr    error
	tenantErr error
	userErr   error

	delay time.Duration

	appCalls    int
	tenantCalls int
	userCalls   int

	appFetchedAt    []time.Time
	tenantFetchedAt []time.Time

	lastAppTicket      string
	lastAppAccessToken string
	lastTenantKey      string
	lastRefreshToken   string

	newRefreshToken string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		appToken:    "a-mock_app_token",
		tenantToken: "t-mock_tenant_token",
		userToken:   "u-mock_user_token",
		ttl:         2 * time.Hour,
	}
}

func (m *mockFetcher) AppAccessToken(ctx context.Context, appTicket string) (*fetchedToken, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appCalls++
	m.appFetchedAt = append(m.appFetchedAt, time.Now())
	m.lastAppTicket = appTicket
	if m.appErr != nil {
		return nil, m.appErr
	}
	return &fetchedToken{value: m.appToken, ttl: m.ttl}, nil
}

func (m *mockFetcher) TenantAccessToken(ctx context.Context, appAccessToken, tenantKey string) (*fetchedToken, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantCalls++
	m.tenantFetchedAt = append(m.tenantFetchedAt, time.Now())
	m.lastAppAccessToken = appAccessToken
	m.lastTenantKey = tenantKey
	if m.tenantErr != nil {
		return nil, m.tenantErr
	}
	return &fetchedToken{value: m.tenantToken, ttl: m.ttl}, nil
}

func (m *mockFetcher) RefreshUserAccessToken(ctx context.Context, appAccessToken, refreshToken string) (*fetchedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userCalls++
	m.lastAppAccessToken = appAccessToken
	m.lastRefreshToken = refreshToken
	if m.userErr != nil {
		return nil, m.userErr
	}
	return &fetchedToken{value: m.userToken, ttl: m.ttl, refreshToken: m.newRefreshToken}, nil
}

func (m *mockFetcher) calls() (app, tenant, user int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appCalls, m.tenantCalls, m.userCalls
}

// =============================================================================
// Mock CacheStore
// =============================================================================

// mockCacheStore 用于测试的外部缓存 Mock。
type mockCacheStore struct {
	mu sync.Mutex

	tokens map[string]*StoredToken

	getErr    error
	setErr    error
	deleteErr error

	getCalls    int
	setCalls    int
	deleteCalls int
	lastSetTTL  time.Duration
}

func newMockCacheStore() *mockCacheStore {
	return &mockCacheStore{tokens: make(map[string]*StoredToken)}
}

func (m *mockCacheStore) GetToken(_ context.Context, key string) (*StoredToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	if token, ok := m.tokens[key]; ok {
		return token, nil
	}
	return nil, ErrCacheMiss
}

func (m *mockCacheStore) SetToken(_ context.Context, key string, token *StoredToken, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	m.lastSetTTL = ttl
	if m.setErr != nil {
		return m.setErr
	}
	m.tokens[key] = token
	return nil
}

func (m *mockCacheStore) DeleteToken(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.tokens, key)
	return nil
}

// =============================================================================
// 测试辅助
// =============================================================================

// testConfig 返回一份可通过校验的基础配置。
func testConfig() *Config {
	return &Config{
		AppID:     "cli_test_app",
		AppSecret: "test_secret",
		AppKind:   AppKindSelfBuilt,
		BaseURL:   "https://open.test.example",
	}
}

// newTestClient 构建使用 mock 获取器的客户端，不会发出真实请求。
func newTestClient(t *testing.T, cfg *Config, fetcher tokenFetcher, opts ...ClientOption) *Client {
	t.Helper()

	client, err := NewClient(cfg, opts...)
	require.NoError(t, err, "NewClient failed")
	if fetcher != nil {
		client.fetcher = fetcher
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// testCacheKey 返回测试用的租户令牌缓存键。
func testCacheKey(tenantKey string) cacheKey {
	return cacheKey{appID: "cli_test_app", kind: TokenKindTenant, tenantKey: tenantKey}
}

// staticFetch 返回恒定成功的 fetchFunc，并计数调用次数。
func staticFetch(value string, ttl time.Duration, calls *int, mu *sync.Mutex) fetchFunc {
	return func(context.Context) (*fetchedToken, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		return &fetchedToken{value: value, ttl: ttl}, nil
	}
}
