// Package backoff 重连延迟策略测试
package backoff

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestFixed_ConstantDelay 测试固定延迟策略
// 属性: 无论调用多少次 Next()，返回值恒为固定延迟。
func TestFixed_ConstantDelay(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("固定延迟不随调用次数变化", prop.ForAll(
		func(delayMs int, calls int) bool {
			delay := time.Duration(delayMs) * time.Millisecond
			f := NewFixed(delay)
			for i := 0; i < calls; i++ {
				if f.Next() != delay {
					return false
				}
			}
			f.Reset()
			return f.Next() == delay
		},
		gen.IntRange(100, 60000),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

// TestExponential_Growth 测试退避时间指数增长
func TestExponential_Growth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 退避时间应该指数增长（在达到最大值之前）
	properties.Property("退避时间指数增长", prop.ForAll(
		func(baseMs int, maxMs int) bool {
			if baseMs <= 0 || maxMs <= baseMs {
				return true // 跳过无效输入
			}

			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			e := NewExponential(base, max, 0) // 无抖动，便于验证

			prev := time.Duration(0)
			for i := 0; i < 10; i++ {
				delay := e.Next()

				// 验证: 每次延迟应该 >= 前一次（指数增长）
				// 或者已经达到最大值
				if delay < prev && delay != max {
					return false
				}

				// 验证: 延迟不应超过最大值
				if delay > max {
					return false
				}

				prev = delay
			}
			return true
		},
		gen.IntRange(100, 2000),   // base: 100ms - 2s
		gen.IntRange(5000, 60000), // max: 5s - 60s
	))

	properties.TestingRun(t)
}

// TestExponential_JitterBounds 测试抖动范围
func TestExponential_JitterBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 抖动后的延迟应在 ±jitter 范围内
	properties.Property("抖动在指定范围内", prop.ForAll(
		func(jitterPercent int) bool {
			jitter := float64(jitterPercent) / 100.0
			base := time.Second
			max := 30 * time.Second
			e := NewExponential(base, max, jitter)

			// 多次测试以验证抖动范围
			for i := 0; i < 50; i++ {
				e.Reset()
				delay := e.Next()

				// 第一次调用 attempt=0，基础值即 base
				expectedBase := float64(base)
				minExpected := expectedBase * (1 - jitter)
				maxExpected := expectedBase * (1 + jitter)

				delayFloat := float64(delay)
				if delayFloat < minExpected || delayFloat > maxExpected {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50), // jitter: 0% - 50%
	))

	properties.TestingRun(t)
}

// TestExponential_MaxBound 测试最大值边界
func TestExponential_MaxBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 延迟永远不应超过最大值（考虑抖动）
	properties.Property("延迟不超过最大值上限", prop.ForAll(
		func(baseMs int, maxMs int, jitterPercent int) bool {
			if baseMs <= 0 || maxMs <= 0 {
				return true
			}

			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			jitter := float64(jitterPercent) / 100.0
			e := NewExponential(base, max, jitter)

			// 最大可能的延迟（考虑抖动）
			maxPossible := float64(max) * (1 + jitter)

			for i := 0; i < 20; i++ {
				delay := e.Next()
				if float64(delay) > maxPossible {
					return false
				}
			}
			return true
		},
		gen.IntRange(100, 2000),   // base
		gen.IntRange(1000, 60000), // max
		gen.IntRange(0, 30),       // jitter %
	))

	properties.TestingRun(t)
}

// TestExponential_Reset 测试重置功能
func TestExponential_Reset(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 重置后应该从基础值重新开始
	properties.Property("重置后从基础值开始", prop.ForAll(
		func(attempts int) bool {
			if attempts <= 0 {
				return true
			}

			e := NewExponential(time.Second, 30*time.Second, 0) // 无抖动

			// 进行多次重试
			for i := 0; i < attempts; i++ {
				e.Next()
			}

			// 重置
			e.Reset()

			// 验证重试次数归零
			if e.Attempt() != 0 {
				return false
			}

			// 验证下次延迟回到基础值
			delay := e.Next()
			return delay == time.Second
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestExponential_SpecificValues 测试特定值（单元测试）
func TestExponential_SpecificValues(t *testing.T) {
	// 无抖动的情况下验证指数增长
	e := NewExponential(time.Second, 30*time.Second, 0)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},      // 2^0 = 1
		{1, 2 * time.Second},  // 2^1 = 2
		{2, 4 * time.Second},  // 2^2 = 4
		{3, 8 * time.Second},  // 2^3 = 8
		{4, 16 * time.Second}, // 2^4 = 16
		{5, 30 * time.Second}, // 2^5 = 32, 但限制为 30
		{6, 30 * time.Second}, // 继续保持最大值
	}

	for _, tt := range tests {
		e.Reset()
		// 跳过到指定的 attempt
		for i := 0; i < tt.attempt; i++ {
			e.Next()
		}
		got := e.Next()
		if got != tt.expected {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

// TestExponential_LongOutage 测试长时间断线不溢出
// 达到上限后重试次数不再增长，位移不会溢出为负数。
func TestExponential_LongOutage(t *testing.T) {
	e := NewExponential(time.Second, 30*time.Second, 0)

	for i := 0; i < 100; i++ {
		delay := e.Next()
		if delay <= 0 || delay > 30*time.Second {
			t.Fatalf("第 %d 次: delay = %v, 超出 (0, 30s]", i, delay)
		}
	}
}

// TestFromConfig 测试按配置构造策略
func TestFromConfig(t *testing.T) {
	p := FromConfig("fixed", 5000, 30000)
	if _, ok := p.(*Fixed); !ok {
		t.Errorf("FromConfig(fixed) 返回类型 = %T, want *Fixed", p)
	}
	if got := p.Next(); got != 5*time.Second {
		t.Errorf("fixed Next() = %v, want 5s", got)
	}

	p = FromConfig("exponential", 1000, 30000)
	if _, ok := p.(*Exponential); !ok {
		t.Errorf("FromConfig(exponential) 返回类型 = %T, want *Exponential", p)
	}

	// 未知策略按 fixed 处理
	p = FromConfig("unknown", 2000, 30000)
	if _, ok := p.(*Fixed); !ok {
		t.Errorf("FromConfig(unknown) 返回类型 = %T, want *Fixed", p)
	}
}
