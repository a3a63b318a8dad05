// Package okx 消息解析测试
package okx

import (
	"encoding/json"
	"testing"

	"orderbook-watch/internal/book"
)

// TestIsPing 测试服务端 ping 判定
func TestIsPing(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{`{"event": "ping"}`, true},
		{`{"event": "subscribe"}`, false},
		{`{"op": "ping"}`, false},
		{`not json`, false},
	}

	for _, tt := range tests {
		if got := IsPing([]byte(tt.data)); got != tt.want {
			t.Errorf("IsPing(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

// TestIsEventResponse 测试事件消息判定
func TestIsEventResponse(t *testing.T) {
	tests := []struct {
		data      string
		want      bool
		wantEvent string
	}{
		{`{"event": "subscribe", "arg": {"channel": "books5", "instId": "BTC-USDT"}}`, true, "subscribe"},
		{`{"event": "unsubscribe", "arg": {"channel": "books5", "instId": "BTC-USDT"}}`, true, "unsubscribe"},
		{`{"event": "error", "code": "60012", "msg": "Invalid request"}`, true, "error"},
		{`{"arg": {"channel": "books5"}, "data": []}`, false, ""},
		{`not json`, false, ""},
	}

	for _, tt := range tests {
		resp, got := IsEventResponse([]byte(tt.data))
		if got != tt.want {
			t.Errorf("IsEventResponse(%q) = %v, want %v", tt.data, got, tt.want)
			continue
		}
		if got && resp.Event != tt.wantEvent {
			t.Errorf("Event = %s, want %s", resp.Event, tt.wantEvent)
		}
	}
}

// TestIsBookChannel 测试深度频道白名单
func TestIsBookChannel(t *testing.T) {
	for _, ch := range []string{"books", "books5", "bbo-tbt", "books50-l2-tbt", "books-l2-tbt"} {
		if !IsBookChannel(ch) {
			t.Errorf("IsBookChannel(%q) = false, want true", ch)
		}
	}
	for _, ch := range []string{"trades", "tickers", ""} {
		if IsBookChannel(ch) {
			t.Errorf("IsBookChannel(%q) = true, want false", ch)
		}
	}
}

// TestParseBooksMessage 测试深度消息解析
func TestParseBooksMessage(t *testing.T) {
	raw := `{
		"arg": {"channel": "books", "instId": "BTC-USDT"},
		"action": "snapshot",
		"data": [{
			"bids": [["50000.5", "1.5", "0", "3"], ["50000.0", "2.0", "0", "1"]],
			"asks": [["50001.0", "2.0", "0", "5"]],
			"ts": "1700000000000",
			"checksum": 1748738089
		}]
	}`

	var msg BooksMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("解码失败: %v", err)
	}

	deltas, err := ParseBooksMessage(&msg)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("delta 数量 = %d, want 1", len(deltas))
	}

	d := deltas[0]
	if d.InstID != "BTC-USDT" {
		t.Errorf("InstID = %s, want BTC-USDT", d.InstID)
	}
	if !d.Snapshot {
		t.Errorf("action snapshot 应标记为快照")
	}
	if len(d.Bids) != 2 || len(d.Asks) != 1 {
		t.Errorf("档位数 = %d/%d, want 2/1", len(d.Bids), len(d.Asks))
	}
	if d.Bids[0].PriceRaw != "50000.5" || d.Bids[0].QtyRaw != "1.5" {
		t.Errorf("买一原始串 = %s@%s, want 1.5@50000.5", d.Bids[0].QtyRaw, d.Bids[0].PriceRaw)
	}
	if d.TimestampMs != 1700000000000 {
		t.Errorf("TimestampMs = %d, want 1700000000000", d.TimestampMs)
	}
	if d.Checksum != 1748738089 {
		t.Errorf("Checksum = %d, want 1748738089", d.Checksum)
	}
}

// TestParseBooksMessage_AbsentActionIsSnapshot 测试缺失 action 按快照处理
// 首次推送可能不携带 action 字段。
func TestParseBooksMessage_AbsentActionIsSnapshot(t *testing.T) {
	msg := BooksMessage{
		Arg: Arg{Channel: "books5", InstId: "BTC-USDT"},
		Data: []BooksData{{
			Bids: [][]string{{"100", "1", "0", "1"}},
			Asks: [][]string{{"101", "1", "0", "1"}},
			Ts:   "1700000000000",
		}},
	}

	deltas, err := ParseBooksMessage(&msg)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if !deltas[0].Snapshot {
		t.Errorf("缺失 action 应按快照处理")
	}

	msg.Action = "update"
	deltas, err = ParseBooksMessage(&msg)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if deltas[0].Snapshot {
		t.Errorf("action update 不应标记为快照")
	}
}

// TestParseBooksMessage_Malformed 测试畸形消息整体拒绝
// 任一档位畸形即拒绝整条消息——半个订单簿比丢一条消息更危险。
func TestParseBooksMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  BooksMessage
	}{
		{
			name: "缺少 data 数组",
			msg: BooksMessage{
				Arg: Arg{Channel: "books5", InstId: "BTC-USDT"},
			},
		},
		{
			name: "买盘档位价格畸形",
			msg: BooksMessage{
				Arg:    Arg{Channel: "books5", InstId: "BTC-USDT"},
				Action: "update",
				Data: []BooksData{{
					Bids: [][]string{{"100", "1", "0", "1"}, {"bad", "1", "0", "1"}},
				}},
			},
		},
		{
			name: "卖盘档位元素不足",
			msg: BooksMessage{
				Arg:    Arg{Channel: "books5", InstId: "BTC-USDT"},
				Action: "update",
				Data: []BooksData{{
					Asks: [][]string{{"101", "1"}},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBooksMessage(&tt.msg); err == nil {
				t.Errorf("畸形消息应返回错误")
			}
		})
	}
}

// TestApplyDelta 测试解析结果应用到订单簿
func TestApplyDelta(t *testing.T) {
	b := book.New("BTC-USDT")

	snap := BooksMessage{
		Arg:    Arg{Channel: "books5", InstId: "BTC-USDT"},
		Action: "snapshot",
		Data: []BooksData{{
			Bids:     [][]string{{"100", "2", "0", "1"}, {"99", "5", "0", "1"}},
			Asks:     [][]string{{"101", "3", "0", "1"}},
			Ts:       "1700000000000",
			Checksum: -1950127063,
		}},
	}
	deltas, err := ParseBooksMessage(&snap)
	if err != nil {
		t.Fatalf("解析快照失败: %v", err)
	}
	ApplyDelta(b, &deltas[0])

	q, err := b.Quote()
	if err != nil {
		t.Fatalf("Quote 失败: %v", err)
	}
	if q.Bid.String() != "100" || q.Ask.String() != "101" {
		t.Errorf("顶档 = %s/%s, want 100/101", q.Bid, q.Ask)
	}
	if q.TimestampMs != 1700000000000 {
		t.Errorf("TimestampMs = %d, want 1700000000000", q.TimestampMs)
	}
	// 快照携带的校验和与本地计算一致
	if !b.Verify() {
		t.Errorf("快照应用后 Verify() = false, want true（本地 %d）", b.Checksum())
	}

	upd := BooksMessage{
		Arg:    Arg{Channel: "books5", InstId: "BTC-USDT"},
		Action: "update",
		Data: []BooksData{{
			Bids: [][]string{{"100", "0", "0", "0"}},
			Ts:   "1700000001000",
		}},
	}
	deltas, err = ParseBooksMessage(&upd)
	if err != nil {
		t.Fatalf("解析更新失败: %v", err)
	}
	ApplyDelta(b, &deltas[0])

	q, err = b.Quote()
	if err != nil {
		t.Fatalf("Quote 失败: %v", err)
	}
	if q.Bid.String() != "99" {
		t.Errorf("删除后最优买 = %s, want 99", q.Bid)
	}
}
