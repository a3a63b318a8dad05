// Package timeutil 提供时间相关的工具函数。
// 主要用于获取高精度时间戳，用于消息年龄统计和事件记录。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// 使用“单调时钟 + 启动时 Unix 时间”组合实现：
// NowNano = baseUnixNs + time.Since(baseTime).Nanoseconds()
// 这样在系统时间跳变（NTP/手动调整）时也能保持时间差的单调性，
// 避免污染最后消息年龄等统计。
// 返回: 当前时间的 Unix 纳秒时间戳
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NowMs 获取当前时间的毫秒时间戳
// 用于与交易所时间戳对比（交易所使用毫秒）
// 返回: 当前时间的 Unix 毫秒时间戳
func NowMs() int64 {
	return NowNano() / 1_000_000
}

// SinceMs 计算从指定毫秒时间戳到现在的时间差
// 参数 startMs: 开始时间（毫秒）
// 返回: 时间差（毫秒）
func SinceMs(startMs int64) int64 {
	return NowMs() - startMs
}
