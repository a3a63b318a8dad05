// Package okx 实现 OKX 风格交易所消息的分类与解析。
// 深度档位先整体解析再整体应用：任一档位畸形时整条消息被拒绝，
// 保证订单簿不会被部分更新污染。
package okx

import (
	"encoding/json"
	"fmt"

	"orderbook-watch/internal/book"
	"orderbook-watch/internal/util/fastparse"
)

// bookChannels 深度频道白名单
// 这些频道的推送会路由到订单簿引擎，其余频道仅触发回调。
var bookChannels = map[string]bool{
	"books":          true,
	"books5":         true,
	"bbo-tbt":        true,
	"books50-l2-tbt": true,
	"books-l2-tbt":   true,
}

// IsBookChannel 判断频道是否为深度频道
func IsBookChannel(channel string) bool {
	return bookChannels[channel]
}

// IsPing 判断是否为服务端 ping
// 服务端下发 {"event":"ping"}，期望客户端回复 {"op":"pong"}。
func IsPing(data []byte) bool {
	var resp EventResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false
	}
	return resp.Event == "ping"
}

// IsEventResponse 判断是否为订阅确认/错误等事件消息
func IsEventResponse(data []byte) (*EventResponse, bool) {
	var resp EventResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	if resp.Event == "" {
		return nil, false
	}
	return &resp, true
}

// BookDelta 解析后的单条深度数据
// 档位已全部解析完成，可以原子地应用到订单簿。
type BookDelta struct {
	// InstID 合约 ID
	InstID string
	// Snapshot 是否为全量快照（action 为 snapshot 或缺失）
	Snapshot bool
	// Bids 买盘档位
	Bids []book.Level
	// Asks 卖盘档位
	Asks []book.Level
	// TimestampMs 交易所时间戳（毫秒），解析失败时为 0
	TimestampMs int64
	// Checksum 交易所断言的校验和，0 表示未断言
	Checksum int32
}

// ParseBooksMessage 解析深度频道推送
// 返回按 data 数组顺序排列的 BookDelta 列表。
// data 数组缺失或任一档位畸形时返回错误，整条消息由调用方丢弃。
func ParseBooksMessage(msg *BooksMessage) ([]BookDelta, error) {
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("深度消息缺少 data 数组: channel=%s instId=%s", msg.Arg.Channel, msg.Arg.InstId)
	}

	snapshot := msg.Action == "snapshot" || msg.Action == ""

	deltas := make([]BookDelta, 0, len(msg.Data))
	for i, d := range msg.Data {
		bids, err := book.ParseLevels(d.Bids)
		if err != nil {
			return nil, fmt.Errorf("data[%d] 买盘解析失败: %w", i, err)
		}
		asks, err := book.ParseLevels(d.Asks)
		if err != nil {
			return nil, fmt.Errorf("data[%d] 卖盘解析失败: %w", i, err)
		}

		// ts 缺失或畸形不致命，记 0 即可
		var ts int64
		if d.Ts != "" {
			if v, err := fastparse.ParseInt(d.Ts); err == nil {
				ts = v
			}
		}

		instID := d.InstId
		if instID == "" {
			instID = msg.Arg.InstId
		}

		deltas = append(deltas, BookDelta{
			InstID:      instID,
			Snapshot:    snapshot,
			Bids:        bids,
			Asks:        asks,
			TimestampMs: ts,
			Checksum:    d.Checksum,
		})
	}

	return deltas, nil
}

// ApplyDelta 将解析后的深度数据应用到订单簿
// 快照整体替换两侧；增量更新逐档 upsert/delete。
func ApplyDelta(b *book.OrderBook, d *BookDelta) {
	if d.Snapshot {
		if len(d.Asks) > 0 {
			b.ApplySnapshot(book.SideAsk, d.Asks)
		}
		if len(d.Bids) > 0 {
			b.ApplySnapshot(book.SideBid, d.Bids)
		}
	} else {
		for _, lv := range d.Asks {
			b.ApplyUpdate(book.SideAsk, lv)
		}
		for _, lv := range d.Bids {
			b.ApplyUpdate(book.SideBid, lv)
		}
	}

	if d.TimestampMs != 0 {
		b.SetTimestamp(d.TimestampMs)
	}
	if d.Checksum != 0 {
		b.SetExchChecksum(d.Checksum)
	}
}
