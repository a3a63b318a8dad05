// Package okx 定义 OKX 风格交易所的 WebSocket 消息类型。
package okx

// Request WebSocket 操作请求
// 用于订阅、取消订阅与心跳
type Request struct {
	// Op 操作类型: subscribe, unsubscribe, ping, pong
	Op string `json:"op"`
	// Args 操作参数列表，ping/pong 时省略
	Args []Arg `json:"args,omitempty"`
}

// Arg 频道参数
type Arg struct {
	// Channel 频道名称: books, books5, bbo-tbt, books50-l2-tbt, books-l2-tbt, trades
	Channel string `json:"channel"`
	// InstId 合约 ID: BTC-USDT-SWAP
	InstId string `json:"instId"`
}

// EventResponse 服务端事件消息
// 订阅确认、错误，以及服务端主动下发的 ping
type EventResponse struct {
	// Event 事件类型: subscribe, unsubscribe, error, ping
	Event string `json:"event"`
	// Arg 关联的频道参数
	Arg *Arg `json:"arg,omitempty"`
	// Code 错误码
	Code string `json:"code,omitempty"`
	// Msg 错误消息
	Msg string `json:"msg,omitempty"`
}

// BooksMessage 深度频道推送消息
type BooksMessage struct {
	// Arg 频道参数，路由键为 (channel, instId)
	Arg Arg `json:"arg"`
	// Action 动作类型: snapshot, update
	// 首次推送可能缺失，按 snapshot 处理
	Action string `json:"action"`
	// Data 深度数据列表
	Data []BooksData `json:"data"`
}

// BooksData 单条深度数据
// bids/asks 档位格式: [[价格, 数量, 废弃, 挂单笔数], ...]
type BooksData struct {
	// Bids 买盘档位
	Bids [][]string `json:"bids"`
	// Asks 卖盘档位
	Asks [][]string `json:"asks"`
	// Ts 交易所时间戳（毫秒字符串）
	Ts string `json:"ts"`
	// Checksum 交易所对前 25 档计算的有符号 32 位校验和
	Checksum int32 `json:"checksum"`
	// InstId 合约 ID（部分频道携带）
	InstId string `json:"instId,omitempty"`
	// SeqId 序列号
	SeqId int64 `json:"seqId,omitempty"`
}

// ConnState 连接状态
// 状态机: Disconnected → Connecting → Connected → Disconnected（出错或服务端关闭）
// → Connecting（延迟后）→ …；除用户显式 Close 外没有终态。
type ConnState int32

const (
	// StateDisconnected 未连接
	StateDisconnected ConnState = iota
	// StateConnecting 连接中
	StateConnecting
	// StateConnected 已连接
	StateConnected
)

// String 连接状态的文本表示
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64 `json:"reconnect_count"`
	// DecodeErrorCount 消息解码/解析失败次数
	DecodeErrorCount int64 `json:"decode_error_count"`
	// ResyncCount 校验和失败触发的重订阅次数
	ResyncCount int64 `json:"resync_count"`
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
}
