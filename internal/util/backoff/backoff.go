// Package backoff 实现 WebSocket 断线重连的延迟策略。
// 默认策略为固定延迟（与交易所客户端的既有行为保持一致）；
// 可选指数退避（基础间隔 1s 量级，封顶 30s，抖动 ±20%），
// 避免频繁重连导致服务端拒绝。
package backoff

import (
	"math/rand"
	"time"
)

// Policy 重连延迟策略
// Next 返回下一次重试前的等待时间，Reset 在连接成功后调用。
type Policy interface {
	Next() time.Duration
	Reset()
}

// Fixed 固定延迟策略
// 每次重连等待相同的时间，不做退避。
type Fixed struct {
	// delay 固定等待时间
	delay time.Duration
}

// NewFixed 创建固定延迟策略
// 参数 delay: 每次重连前的等待时间
func NewFixed(delay time.Duration) *Fixed {
	return &Fixed{delay: delay}
}

// Next 获取下次重试的等待时间（恒为固定值）
func (f *Fixed) Next() time.Duration {
	return f.delay
}

// Reset 固定策略无状态，Reset 为 no-op
func (f *Fixed) Reset() {}

// Exponential 指数退避策略
// 每次调用 Next() 返回的等待时间按指数增长，直到达到最大值。
type Exponential struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// attempt 当前重试次数
	attempt int
}

// NewExponential 创建指数退避策略
// 参数 base: 基础等待时间（建议 1s）
// 参数 max: 最大等待时间（建议 30s）
// 参数 jitter: 抖动比例（建议 0.2，即 ±20%）
func NewExponential(base, max time.Duration, jitter float64) *Exponential {
	return &Exponential{
		base:   base,
		max:    max,
		jitter: jitter,
	}
}

// Next 获取下次重试的等待时间
// 计算公式: base * 2^attempt，然后应用抖动
// 返回值不会超过 max
func (e *Exponential) Next() time.Duration {
	// 使用位移运算避免浮点数计算
	multiplier := int64(1) << e.attempt
	delay := e.base * time.Duration(multiplier)

	// 达到上限后不再增加重试次数，防止长时间断线导致位移溢出
	if delay > e.max || delay <= 0 {
		delay = e.max
	} else {
		e.attempt++
	}

	// 应用抖动: delay * (1 ± jitter)
	if e.jitter > 0 {
		jitterFactor := 1.0 + (rand.Float64()*2-1)*e.jitter
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	return delay
}

// Reset 重置退避计算器
// 在连接成功后调用，重置重试次数。
func (e *Exponential) Reset() {
	e.attempt = 0
}

// Attempt 获取当前重试次数
func (e *Exponential) Attempt() int {
	return e.attempt
}

// FromConfig 按配置构造延迟策略
// 参数 policy: "fixed" 或 "exponential"，其余值按 fixed 处理
// 参数 delayMs: 固定延迟或指数退避的基础延迟（毫秒）
// 参数 maxDelayMs: 指数退避的最大延迟（毫秒）
func FromConfig(policy string, delayMs, maxDelayMs int) Policy {
	delay := time.Duration(delayMs) * time.Millisecond
	if policy == "exponential" {
		return NewExponential(delay, time.Duration(maxDelayMs)*time.Millisecond, 0.2)
	}
	return NewFixed(delay)
}
