package openapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// preheatClient 构建带短 TTL mock 令牌的客户端，预热器未启动，
// 由测试直接驱动 run()。
func preheatClient(t *testing.T) (*Client, *mockFetcher, *preheater) {
	t.Helper()

	fetcher := newMockFetcher()
	fetcher.ttl = time.Minute // 30s margin leaves 30s of life: inside the preheat window
	client := newTestClient(t, testConfig(), fetcher)

	p, err := newPreheater(client, time.Minute)
	require.NoError(t, err)
	return client, fetcher, p
}

func TestPreheater_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("refreshes entries inside the window", func(t *testing.T) {
		client, fetcher, p := preheatClient(t)

		_, err := client.tenantAccessToken(ctx, "")
		require.NoError(t, err)
		_, tenantCalls, _ := fetcher.calls()
		require.Equal(t, 1, tenantCalls)

		p.run()

		_, tenantCalls, _ = fetcher.calls()
		assert.Equal(t, 2, tenantCalls, "near-expiry entry must be refreshed")
	})

	t.Run("skips entries far from expiry", func(t *testing.T) {
		client, fetcher, p := preheatClient(t)
		fetcher.ttl = 2 * time.Hour

		_, err := client.appAccessToken(ctx)
		require.NoError(t, err)

		p.run()

		appCalls, _, _ := fetcher.calls()
		assert.Equal(t, 1, appCalls, "fresh entry must not be refreshed")
	})

	t.Run("skips user tokens", func(t *testing.T) {
		client, fetcher, p := preheatClient(t)

		_, err := client.RefreshUserAccessToken(ctx, "sess_1", "r-1")
		require.NoError(t, err)
		_, _, userCalls := fetcher.calls()
		require.Equal(t, 1, userCalls)

		p.run()

		_, _, userCalls = fetcher.calls()
		assert.Equal(t, 1, userCalls, "user tokens cannot be refreshed without a refresh_token")
	})

	t.Run("skips stale entries", func(t *testing.T) {
		client, fetcher, p := preheatClient(t)
		p.recentWindow = time.Nanosecond

		_, err := client.tenantAccessToken(ctx, "")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)

		p.run()

		_, tenantCalls, _ := fetcher.calls()
		assert.Equal(t, 1, tenantCalls, "inactive entries must not be kept warm")
	})

	t.Run("refresh failure does not break the scan", func(t *testing.T) {
		client, fetcher, p := preheatClient(t)

		_, err := client.tenantAccessToken(ctx, "")
		require.NoError(t, err)

		fetcher.mu.Lock()
		fetcher.tenantErr = &TransportError{Err: context.DeadlineExceeded, Timeout: true}
		fetcher.mu.Unlock()

		p.run() // must not panic, failure is logged only

		// foreground path still works once the platform recovers
		fetcher.mu.Lock()
		fetcher.tenantErr = nil
		fetcher.mu.Unlock()
		_, err = client.tenantAccessToken(ctx, "")
		require.NoError(t, err)
	})
}

func TestPreheater_Lifecycle(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.EnablePreheat = true
	cfg.PreheatInterval = 20 * time.Millisecond

	fetcher := newMockFetcher()
	fetcher.ttl = time.Minute
	client := newTestClient(t, cfg, fetcher)

	_, err := client.tenantAccessToken(ctx, "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, tenantCalls, _ := fetcher.calls()
		return tenantCalls >= 2
	}, 2*time.Second, 10*time.Millisecond, "scheduled preheat must refresh the entry")

	// Close stops the scheduler; the call count settles
	require.NoError(t, client.Close())
	_, settled, _ := fetcher.calls()
	time.Sleep(100 * time.Millisecond)
	_, after, _ := fetcher.calls()
	assert.Equal(t, settled, after, "no refreshes may run after Close")
}
