package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy 重试策略
type Policy struct {
	MaxRetries   int                                               // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration                                     // 第一次重试前的等待
	MaxDelay     time.Duration                                     // 单次等待上限
	Multiplier   float64                                           // 指数退避倍数
	Jitter       bool                                              // ±25% 随机抖动，默认关闭以保证退避时长可预期
	Retryable    func(err error) bool                              // 为空时除 Permanent 外全部重试
	OnRetry      func(attempt int, err error, delay time.Duration) // 每次等待前回调
}

// DefaultPolicy 3 次重试，1s 起步，每次翻倍
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行 fn，失败时按策略重试。fn 收到的 attempt 从 1 开始。
	Do(ctx context.Context, fn func(attempt int) error) error
}

type backoffRetryer struct {
	policy Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: p, logger: logger.With(zap.String("component", "retry"))}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := r.Delay(attempt - 1)
			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt-1, lastErr, delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &ExhaustedError{Attempts: attempt - 1, Err: lastErr, Cause: ctx.Err()}
			case <-timer.C:
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return nil
		}
		if !r.retryable(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return lastErr
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return &ExhaustedError{Attempts: r.policy.MaxRetries + 1, Err: lastErr}
}

// Delay 第 n 次重试（n 从 1 开始）前的等待：InitialDelay·Multiplier^(n-1)，不超过 MaxDelay
func (r *backoffRetryer) Delay(n int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(n-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
		if delay < float64(r.policy.InitialDelay) {
			delay = float64(r.policy.InitialDelay)
		}
	}
	return time.Duration(delay)
}

func (r *backoffRetryer) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if r.policy.Retryable == nil {
		return true
	}
	return r.policy.Retryable(err)
}

// =============================================================================
// 错误类型
// =============================================================================

// ExhaustedError 重试次数耗尽或等待期间 ctx 结束
type ExhaustedError struct {
	Attempts int
	Err      error // 最后一次尝试的错误
	Cause    error // 非空表示等待被 ctx 中断
}

func (e *ExhaustedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("重试被取消（已尝试 %d 次）: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("尝试 %d 次后仍失败: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记错误为不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 检查错误是否被 Permanent 标记
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
