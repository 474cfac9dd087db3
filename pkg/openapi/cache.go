package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// 外部缓存接口
// =============================================================================

// StoredToken 是令牌在外部缓存中的序列化形态。
// 时间用 Unix 秒存储，跨进程共享时不依赖本地单调时钟。
type StoredToken struct {
	Value     string `json:"value"`
	FetchedAt int64  `json:"fetched_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// CacheStore 定义令牌的外部共享缓存。
// 多实例部署时通过共享缓存复用令牌，减少向平台的获取请求。
// 实现必须把未命中报告为 ErrCacheMiss（可包装）。
type CacheStore interface {
	// GetToken 读取令牌，未命中返回 ErrCacheMiss。
	GetToken(ctx context.Context, key string) (*StoredToken, error)

	// SetToken 写入令牌，ttl 为条目剩余可用时长。
	SetToken(ctx context.Context, key string, token *StoredToken, ttl time.Duration) error

	// DeleteToken 删除令牌，键不存在不算错误。
	DeleteToken(ctx context.Context, key string) error
}

// =============================================================================
// Redis 实现
// =============================================================================

// DefaultCacheKeyPrefix Redis 键前缀默认值。
const DefaultCacheKeyPrefix = "openkit:token:"

// RedisCacheStore 基于 Redis 的 CacheStore 实现。
type RedisCacheStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisCacheOption 定义 RedisCacheStore 的配置选项。
type RedisCacheOption func(*RedisCacheStore)

// WithKeyPrefix 设置 Redis 键前缀。
func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(s *RedisCacheStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// NewRedisCacheStore 创建 Redis 缓存存储。
func NewRedisCacheStore(client redis.UniversalClient, opts ...RedisCacheOption) (*RedisCacheStore, error) {
	if client == nil {
		return nil, errors.New("openapi: nil redis client")
	}

	store := &RedisCacheStore{
		client:    client,
		keyPrefix: DefaultCacheKeyPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// GetToken 读取令牌，未命中返回 ErrCacheMiss。
func (s *RedisCacheStore) GetToken(ctx context.Context, key string) (*StoredToken, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("openapi: redis get failed: %w", err)
	}

	var token StoredToken
	if err := json.Unmarshal(data, &token); err != nil {
		// 损坏的条目视为未命中，由上层重新获取并覆盖
		return nil, fmt.Errorf("%w: corrupt cache entry: %w", ErrCacheMiss, err)
	}
	return &token, nil
}

// SetToken 写入令牌。
func (s *RedisCacheStore) SetToken(ctx context.Context, key string, token *StoredToken, ttl time.Duration) error {
	if token == nil || ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("openapi: marshal token failed: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("openapi: redis set failed: %w", err)
	}
	return nil
}

// DeleteToken 删除令牌，键不存在不算错误。
func (s *RedisCacheStore) DeleteToken(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("openapi: redis del failed: %w", err)
	}
	return nil
}

// =============================================================================
// 空实现
// =============================================================================

// NoopCacheStore 是 CacheStore 的空实现，等价于不配置外部缓存。
type NoopCacheStore struct{}

// GetToken 恒定未命中。
func (NoopCacheStore) GetToken(_ context.Context, _ string) (*StoredToken, error) {
	return nil, ErrCacheMiss
}

// SetToken 丢弃写入。
func (NoopCacheStore) SetToken(_ context.Context, _ string, _ *StoredToken, _ time.Duration) error {
	return nil
}

// DeleteToken 空操作。
func (NoopCacheStore) DeleteToken(_ context.Context, _ string) error {
	return nil
}
