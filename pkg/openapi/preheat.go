package openapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// =============================================================================
// 令牌预热
// =============================================================================

const (
	// preheatWindow 预热窗口：剩余有效期进入该窗口的条目会被提前刷新。
	// 令牌的 expiresAt 已扣除安全边际，窗口在此之上再留出调度余量。
	preheatWindow = 5 * time.Minute

	// preheatRecentWindow 活跃窗口：仅刷新最近用过的条目，
	// 避免为不再使用的租户持续请求平台。
	preheatRecentWindow = 30 * time.Minute
)

// preheater 周期性刷新临近过期的活跃令牌，让前台请求尽量命中缓存。
// 刷新失败只记日志：前台请求路径自身会按需获取，预热失败不影响正确性。
type preheater struct {
	client       *Client
	cron         *cron.Cron
	window       time.Duration
	recentWindow time.Duration
	logger       *slog.Logger
}

// newPreheater 创建预热器，按 interval 周期检查。
func newPreheater(c *Client, interval time.Duration) (*preheater, error) {
	p := &preheater{
		client:       c,
		cron:         cron.New(),
		window:       preheatWindow,
		recentWindow: preheatRecentWindow,
		logger:       c.logger,
	}
	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", interval), p.run); err != nil {
		return nil, fmt.Errorf("openapi: schedule preheat failed: %w", err)
	}
	return p, nil
}

func (p *preheater) start() {
	p.cron.Start()
}

// stop 停止调度并等待执行中的刷新结束。
func (p *preheater) stop() {
	<-p.cron.Stop().Done()
}

// run 扫描缓存快照，刷新满足条件的条目：
// 非用户令牌（用户令牌无法凭应用凭据换新）、近期使用过、临近过期。
func (p *preheater) run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.config.Timeout)
	defer cancel()

	now := time.Now()
	for _, entry := range p.client.cache.snapshot() {
		if entry.key.kind == TokenKindUser {
			continue
		}
		if now.Sub(entry.lastUsed) > p.recentWindow {
			continue
		}
		if entry.expiresAt.Sub(now) > p.window {
			continue
		}

		if err := p.client.refreshKey(ctx, entry.key); err != nil {
			p.logger.WarnContext(ctx, "token preheat refresh failed",
				"key", entry.key.String(), "error", err)
			continue
		}
		p.logger.DebugContext(ctx, "token preheated", "key", entry.key.String())
	}
}
