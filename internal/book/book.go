package book

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// checksumDepth 校验和覆盖的最大档位深度
// 交易所仅对买卖双方交替拼接的前 25 档计算 CRC32，更深的档位不参与校验。
const checksumDepth = 25

var (
	// ErrBookNotReady 订单簿一侧尚无档位时的读取错误
	// 必须显式失败而非返回零值哨兵——零价格会被误认为真实行情。
	ErrBookNotReady = errors.New("订单簿尚未就绪")
	// ErrLevelOutOfRange 请求的档位序号超出当前深度
	ErrLevelOutOfRange = errors.New("档位序号超出订单簿深度")
)

// Quote 顶档行情快照
// 供外部调用方（策略、展示层）读取的一致性快照。
type Quote struct {
	// InstID 合约 ID
	InstID string
	// Bid 最优买价
	Bid decimal.Decimal
	// BidQty 最优买量
	BidQty decimal.Decimal
	// Ask 最优卖价
	Ask decimal.Decimal
	// AskQty 最优卖量
	AskQty decimal.Decimal
	// TimestampMs 交易所报告的最后更新时间（毫秒）
	TimestampMs int64
}

// OrderBook 单个合约的本地订单簿
// bids 严格降序、asks 严格升序，价格不重复。
// 读写都通过内部 RWMutex 串行化：消息处理 goroutine 写入，
// 校验循环与外部调用方并发读取。
type OrderBook struct {
	mu sync.RWMutex

	// instID 合约 ID，注册表中的唯一键
	instID string
	// bids 买盘档位，按价格严格降序
	bids []Level
	// asks 卖盘档位，按价格严格升序
	asks []Level
	// timestampMs 交易所报告的最后更新时间（毫秒）
	timestampMs int64
	// exchChecksum 交易所最近一次断言的校验和
	// 0 表示尚未断言，校验时直接放行。
	exchChecksum int32
}

// New 创建指定合约的空订单簿
func New(instID string) *OrderBook {
	return &OrderBook{instID: instID}
}

// InstID 获取合约 ID
func (b *OrderBook) InstID() string {
	return b.instID
}

// ApplySnapshot 全量替换一侧档位
// 快照是权威数据，完全覆盖之前的状态，不做合并。
// 输入列表无需有序，内部按方向排序后存储。
func (b *OrderBook) ApplySnapshot(side Side, levels []Level) {
	sorted := make([]Level, len(levels))
	copy(sorted, levels)

	if side == SideBid {
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Price.GreaterThan(sorted[j].Price)
		})
	} else {
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Price.LessThan(sorted[j].Price)
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if side == SideBid {
		b.bids = sorted
	} else {
		b.asks = sorted
	}
}

// ApplyUpdate 对已排序的一侧做单档位 upsert/delete
// 线性扫描定位插入点，不做全量重排——实际深度在 25~400 档，
// 该路径不是延迟敏感热点。
// 数量为 0 表示删除；删除不存在的价格为静默 no-op
// （真实行情流上乱序/重复投递的 delta 属于预期情况）。
func (b *OrderBook) ApplyUpdate(side Side, lv Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ls := b.bids
	if side == SideAsk {
		ls = b.asks
	}

	if len(ls) == 0 || ls[len(ls)-1].Better(lv, side) {
		// 空侧或新档位劣于当前最差档位：追加到尾部
		// 对不在簿内价格的删除指令是静默 no-op，不追加墓碑档位
		if !lv.Qty.IsZero() {
			ls = append(ls, lv)
		}
	} else {
		// 从最优价向最差价扫描
		for i := 0; i < len(ls); i++ {
			if lv.Better(ls[i], side) {
				// 新价格优于当前位置：在其之前插入
				if lv.Qty.IsZero() {
					break
				}
				ls = append(ls, Level{})
				copy(ls[i+1:], ls[i:])
				ls[i] = lv
				break
			}
			if lv.EqualPrice(ls[i]) {
				if lv.Qty.IsZero() {
					// 删除该档位
					ls = append(ls[:i], ls[i+1:]...)
				} else {
					// 原地替换（数量/笔数更新）
					ls[i] = lv
				}
				break
			}
		}
	}

	if side == SideBid {
		b.bids = ls
	} else {
		b.asks = ls
	}
}

// SetTimestamp 记录交易所报告的更新时间（毫秒）
func (b *OrderBook) SetTimestamp(ms int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timestampMs = ms
}

// SetExchChecksum 记录交易所断言的校验和
func (b *OrderBook) SetExchChecksum(sum int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchChecksum = sum
}

// Checksum 计算当前订单簿的有符号 CRC32 校验和
// 算法: 按档位序号交替拼接 "买价:买量:卖价:卖量:"（使用原始报文字符串），
// 覆盖前 25 档，去掉末尾冒号后对 UTF-8 字节计算 CRC32，
// 再按有符号 32 位整数解释，与交易所下发的 checksum 字段直接可比。
func (b *OrderBook) Checksum() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.checksumLocked()
}

func (b *OrderBook) checksumLocked() int32 {
	depth := len(b.bids)
	if len(b.asks) > depth {
		depth = len(b.asks)
	}
	if depth > checksumDepth {
		depth = checksumDepth
	}

	var sb strings.Builder
	for i := 0; i < depth; i++ {
		if i < len(b.bids) {
			sb.WriteString(b.bids[i].PriceRaw)
			sb.WriteByte(':')
			sb.WriteString(b.bids[i].QtyRaw)
			sb.WriteByte(':')
		}
		if i < len(b.asks) {
			sb.WriteString(b.asks[i].PriceRaw)
			sb.WriteByte(':')
			sb.WriteString(b.asks[i].QtyRaw)
			sb.WriteByte(':')
		}
	}

	s := strings.TrimSuffix(sb.String(), ":")
	// uint32 到 int32 的转换即是 ≥2^31 减 2^32 的有符号重解释
	return int32(crc32.ChecksumIEEE([]byte(s)))
}

// Verify 校验本地订单簿与交易所断言的校验和是否一致
// 交易所尚未断言校验和（0）时无从比较，直接放行。
func (b *OrderBook) Verify() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.exchChecksum == 0 {
		return true
	}
	return b.checksumLocked() == b.exchChecksum
}

// Quote 获取顶档行情快照
// 任一侧为空时返回 ErrBookNotReady。
func (b *OrderBook) Quote() (Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return Quote{}, fmt.Errorf("%s: %w", b.instID, ErrBookNotReady)
	}

	return Quote{
		InstID:      b.instID,
		Bid:         b.bids[0].Price,
		BidQty:      b.bids[0].Qty,
		Ask:         b.asks[0].Price,
		AskQty:      b.asks[0].Qty,
		TimestampMs: b.timestampMs,
	}, nil
}

// BestBid 获取最优买档
// 买盘为空时返回 ErrBookNotReady。
func (b *OrderBook) BestBid() (Level, error) {
	return b.levelAt(SideBid, 1)
}

// BestAsk 获取最优卖档
// 卖盘为空时返回 ErrBookNotReady。
func (b *OrderBook) BestAsk() (Level, error) {
	return b.levelAt(SideAsk, 1)
}

// BidByLevel 获取买盘第 n 档（1 为最优）
// n 超出当前深度时返回 ErrLevelOutOfRange，不回退到最差档。
func (b *OrderBook) BidByLevel(n int) (Level, error) {
	return b.levelAt(SideBid, n)
}

// AskByLevel 获取卖盘第 n 档（1 为最优）
func (b *OrderBook) AskByLevel(n int) (Level, error) {
	return b.levelAt(SideAsk, n)
}

func (b *OrderBook) levelAt(side Side, n int) (Level, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ls := b.bids
	if side == SideAsk {
		ls = b.asks
	}

	if len(ls) == 0 {
		return Level{}, fmt.Errorf("%s %s: %w", b.instID, side, ErrBookNotReady)
	}
	if n < 1 || n > len(ls) {
		return Level{}, fmt.Errorf("%s %s: 档位 %d 超出深度 %d: %w", b.instID, side, n, len(ls), ErrLevelOutOfRange)
	}
	return ls[n-1], nil
}

// MidPrice 计算中间价
// 公式: (最优买价 + 最优卖价) / 2，任一侧为空时返回错误。
func (b *OrderBook) MidPrice() (decimal.Decimal, error) {
	q, err := b.Quote()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2)), nil
}

// Depth 获取一侧的当前档位数
func (b *OrderBook) Depth(side Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == SideBid {
		return len(b.bids)
	}
	return len(b.asks)
}

// Levels 获取一侧档位的拷贝（按优劣排序）
// 返回拷贝而非内部切片，调用方可安全持有。
func (b *OrderBook) Levels(side Side) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.bids
	if side == SideAsk {
		src = b.asks
	}
	out := make([]Level, len(src))
	copy(out, src)
	return out
}
