// Package fastparse 提供高性能的字符串解析函数。
// 避免在热路径使用 fmt，使用 strconv 进行转换。
// 主要用于解析交易所 WebSocket 消息中的时间戳和挂单笔数字段。
package fastparse

import (
	"strconv"
)

// ParseInt 快速解析整数字符串
// 使用 strconv.ParseInt 实现，支持 64 位整数
// 参数 s: 待解析的字符串，如 "12345"
// 返回: 解析后的整数和可能的错误
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// MustParseInt 解析整数，失败时返回 0
// 用于已知格式正确的场景，简化错误处理
// 参数 s: 待解析的字符串
// 返回: 解析后的整数，失败返回 0
func MustParseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatInt 格式化整数为字符串
// 使用 strconv.FormatInt 实现
// 参数 i: 待格式化的整数
// 返回: 格式化后的字符串
func FormatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
