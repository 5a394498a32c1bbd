// Package ratelimit gates how fast a Client opens new MySQL connections,
// moved out of the teacher's pool/connlimit package and trimmed to the one
// strategy BeginConnection actually needs.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrWaitTimeout 当等待连接超过最大等待时间时返回
	ErrWaitTimeout = errors.New("wait for connect permit timed out")
)

// Limiter 提供连接限流功能
type Limiter interface {
	// Allow 检查是否允许新的连接请求，不等待
	Allow() bool

	// Wait 等待直到允许新的连接请求或上下文取消
	Wait(ctx context.Context) error

	// Reserve 返回需要等待的时间
	Reserve() (time.Duration, bool)
}

// TokenBucketLimiter 使用令牌桶算法实现连接限流
type TokenBucketLimiter struct {
	limiter     *rate.Limiter
	maxWaitTime time.Duration
}

// TokenBucketOption 是令牌桶限流器的配置选项
type TokenBucketOption func(*TokenBucketLimiter)

// WithMaxWaitTime 设置最大等待时间
func WithMaxWaitTime(d time.Duration) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		l.maxWaitTime = d
	}
}

// NewTokenBucketLimiter 创建一个新的基于令牌桶算法的限流器
// 参数:
// - r: 每秒允许的连接请求数
// - burst: 允许的最大突发请求数
func NewTokenBucketLimiter(r float64, burst int, opts ...TokenBucketOption) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		limiter:     rate.NewLimiter(rate.Limit(r), burst),
		maxWaitTime: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TokenBucketLimiter) Allow() bool {
	return l.limiter.Allow()
}

func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	parent := ctx
	if l.maxWaitTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.maxWaitTime)
		defer cancel()
	}

	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrWaitTimeout
		}
		// rate.Limiter.Wait fails at once, without waiting, when the next
		// token would arrive after ctx's deadline.
		if l.maxWaitTime > 0 && parent.Err() == nil {
			return ErrWaitTimeout
		}
		return err
	}
	return nil
}

func (l *TokenBucketLimiter) Reserve() (time.Duration, bool) {
	r := l.limiter.Reserve()
	if !r.OK() {
		return 0, false
	}
	return r.Delay(), true
}
