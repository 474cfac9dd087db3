package openapi

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// =============================================================================
// 调用方重试
// =============================================================================

// 传输核心从不自动重试；Retry/RetryWithResult 是提供给调用方的
// 便捷包装，按 IsRetryable 分类决定是否重试（传输失败、5xx、
// 临时性令牌错误重试，构造错误与平台业务拒绝不重试）。

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 100 * time.Millisecond
	defaultRetryMaxDelay = 2 * time.Second
)

// retryOptions 聚合重试配置。
type retryOptions struct {
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	onRetry  retry.OnRetryFunc
}

// RetryOption 定义重试配置选项。
type RetryOption func(*retryOptions)

// WithRetryAttempts 设置总尝试次数（包含首次）。默认 3。
func WithRetryAttempts(attempts uint) RetryOption {
	return func(o *retryOptions) {
		if attempts > 0 {
			o.attempts = attempts
		}
	}
}

// WithRetryDelay 设置基础重试间隔。默认 100ms，指数退避。
func WithRetryDelay(delay time.Duration) RetryOption {
	return func(o *retryOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithRetryMaxDelay 设置重试间隔上限。默认 2s。
func WithRetryMaxDelay(maxDelay time.Duration) RetryOption {
	return func(o *retryOptions) {
		if maxDelay > 0 {
			o.maxDelay = maxDelay
		}
	}
}

// WithOnRetry 设置每次重试前的回调（n 为已完成的尝试次数，从 0 开始）。
func WithOnRetry(fn func(n uint, err error)) RetryOption {
	return func(o *retryOptions) {
		if fn != nil {
			o.onRetry = fn
		}
	}
}

// Retry 以指数退避重试 fn，直到成功、错误不可重试或次数耗尽。
// ctx 取消会中止等待。返回最后一次的错误。
//
// 示例：
//
//	err := openapi.Retry(ctx, func(ctx context.Context) error {
//	    return openapi.ExecuteNoResult(ctx, client, spec)
//	}, openapi.WithRetryAttempts(5))
func Retry(ctx context.Context, fn func(ctx context.Context) error, opts ...RetryOption) error {
	return retry.New(buildRetryOpts(ctx, opts)...).Do(func() error {
		return fn(ctx)
	})
}

// RetryWithResult 是 Retry 的带返回值版本。
func RetryWithResult[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...RetryOption) (T, error) {
	return retry.NewWithData[T](buildRetryOpts(ctx, opts)...).Do(func() (T, error) {
		return fn(ctx)
	})
}

func buildRetryOpts(ctx context.Context, opts []RetryOption) []retry.Option {
	o := &retryOptions{
		attempts: defaultRetryAttempts,
		delay:    defaultRetryDelay,
		maxDelay: defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	built := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(o.attempts),
		retry.Delay(o.delay),
		retry.MaxDelay(o.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
	}
	if o.onRetry != nil {
		built = append(built, retry.OnRetry(o.onRetry))
	}
	return built
}
