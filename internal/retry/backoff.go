package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	// BackoffLinear waits InitialDelay·attempt.
	BackoffLinear Backoff = "linear"
	// BackoffExponential waits InitialDelay·Multiplier^(attempt-1).
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间
	Backoff      Backoff       // 退避方式
	Multiplier   float64       // 指数退避倍增因子
	Jitter       bool          // 是否添加 ±25% 随机抖动
	// ShouldRetry 决定错误是否可重试；为空时除 context 取消外的错误都会重试
	ShouldRetry func(err error) bool
	OnRetry     func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回工具调用的默认策略：共 3 次尝试，线性等待 0.5s、1s。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Backoff:      BackoffLinear,
		Multiplier:   2.0,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.Backoff == "" {
		p.Backoff = BackoffLinear
	}

	return &backoffRetryer{policy: &p, logger: logger}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("重试被取消: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			return nil, err
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return nil, &ExhaustedError{Attempts: r.policy.MaxRetries + 1, Err: lastErr}
}

// calculateDelay returns the wait before the given 1-based retry.
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	var delay float64
	switch r.policy.Backoff {
	case BackoffExponential:
		delay = float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	default:
		delay = float64(r.policy.InitialDelay) * float64(attempt)
	}
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}

func (r *backoffRetryer) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if r.policy.ShouldRetry != nil {
		return r.policy.ShouldRetry(err)
	}
	return true
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("重试 %d 次后仍失败: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
