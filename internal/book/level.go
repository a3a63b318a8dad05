// Package book 实现订单簿的本地重建与校验。
// 维护按价格排序的买卖档位序列，支持快照全量替换与增量更新，
// 并通过 CRC32 校验和检测本地订单簿与交易所真实订单簿的静默偏离。
package book

import (
	"fmt"

	"github.com/shopspring/decimal"

	"orderbook-watch/internal/util/fastparse"
)

// Side 订单簿方向
type Side string

const (
	// SideBid 买盘（按价格降序）
	SideBid Side = "bids"
	// SideAsk 卖盘（按价格升序）
	SideAsk Side = "asks"
)

// Level 订单簿单个价格档位
// 同时保留解析后的数值与原始报文字符串：
// 交易所的校验和是基于其原始十进制字符串计算的，
// 若从数值重新格式化（尾随零、科学计数法）会导致 CRC 不再匹配，
// 因此 PriceRaw/QtyRaw 是校验和计算的唯一合法输入，不可省略。
type Level struct {
	// Price 价格，仅用于排序与比较
	Price decimal.Decimal
	// Qty 该价位剩余数量，0 表示删除该档位
	Qty decimal.Decimal
	// OrderCount 该价位聚合的挂单笔数（信息性字段）
	OrderCount int64

	// PriceRaw 价格的原始报文字符串
	PriceRaw string
	// QtyRaw 数量的原始报文字符串
	QtyRaw string
	// OrderCountRaw 挂单笔数的原始报文字符串
	OrderCountRaw string
}

// ParseLevel 解析单个档位的报文元组
// 报文格式为 4 元素数组: [价格, 数量, 废弃字段, 挂单笔数]
// 任一字段无法解析即返回错误，由调用方整条消息拒绝——
// 半个订单簿比拒绝一条更新更危险。
func ParseLevel(raw []string) (Level, error) {
	if len(raw) < 4 {
		return Level{}, fmt.Errorf("档位元组长度不足: 期望 4 个元素，实际 %d 个", len(raw))
	}

	price, err := decimal.NewFromString(raw[0])
	if err != nil {
		return Level{}, fmt.Errorf("解析档位价格失败 %q: %w", raw[0], err)
	}

	qty, err := decimal.NewFromString(raw[1])
	if err != nil {
		return Level{}, fmt.Errorf("解析档位数量失败 %q: %w", raw[1], err)
	}

	count, err := fastparse.ParseInt(raw[3])
	if err != nil {
		return Level{}, fmt.Errorf("解析档位挂单笔数失败 %q: %w", raw[3], err)
	}

	return Level{
		Price:         price,
		Qty:           qty,
		OrderCount:    count,
		PriceRaw:      raw[0],
		QtyRaw:        raw[1],
		OrderCountRaw: raw[3],
	}, nil
}

// ParseLevels 解析一侧的档位列表
// 任一档位解析失败即整体失败，不做部分解析。
func ParseLevels(raws [][]string) ([]Level, error) {
	levels := make([]Level, 0, len(raws))
	for i, raw := range raws {
		lv, err := ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("第 %d 个档位解析失败: %w", i, err)
		}
		levels = append(levels, lv)
	}
	return levels, nil
}

// Better 判断本档位在指定方向上是否优于 other
// 买盘价格越高越优，卖盘价格越低越优。
func (l Level) Better(other Level, side Side) bool {
	if side == SideBid {
		return l.Price.GreaterThan(other.Price)
	}
	return l.Price.LessThan(other.Price)
}

// EqualPrice 判断两个档位价格是否相等
// 档位的 upsert/delete 仅以价格为键，数量与笔数不参与比较。
func (l Level) EqualPrice(other Level) bool {
	return l.Price.Equal(other.Price)
}
