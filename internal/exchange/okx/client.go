// Package okx 实现 OKX 风格交易所的 WebSocket 连接管理。
// 连接地址: wss://ws.okx.com:8443/ws/v5/public
// 心跳机制: 客户端周期发送 {"op":"ping"}；服务端 {"event":"ping"} 回复 {"op":"pong"}
// 深度频道推送经解析后路由到注入的订单簿注册表，
// 后台校验循环周期比对 CRC32 校验和，失配时取消订阅再重新订阅以强制获取新快照。
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orderbook-watch/internal/book"
	"orderbook-watch/internal/config"
	"orderbook-watch/internal/util/backoff"
	"orderbook-watch/internal/util/timeutil"
)

// Callback 频道消息回调
// 参数为原始报文字节，在读取 goroutine 上同步调用，不可阻塞。
type Callback func(raw []byte)

// subKey 订阅键: (频道, 合约)
type subKey struct {
	channel string
	instID  string
}

// Client OKX WebSocket 连接管理器
// 持有一条连接的读取循环、心跳循环与校验循环，
// 订单簿注册表由外部注入（依赖注入，不使用全局状态）。
type Client struct {
	// cfg 应用配置
	cfg *config.Config
	// logger 日志记录器
	logger *zap.Logger
	// books 订单簿注册表
	books *book.Registry

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁
	// gorilla/websocket 不允许并发多写者，所有写入经 connMu 串行化
	connMu sync.Mutex

	// state 连接状态（原子读写）
	state int32

	// subMu 订阅表锁
	subMu sync.Mutex
	// subs 重连时需要恢复的订阅集合
	subs map[subKey]struct{}
	// callbacks 按订阅键注册的消息回调
	callbacks map[subKey]Callback

	// reconnect 重连延迟策略（默认固定延迟）
	reconnect backoff.Policy

	// closed 是否已由用户显式关闭
	closed int32

	// lastMsgNs 最后收到消息的时间（纳秒）
	lastMsgNs int64
	// lastPingSentNs 上次发送 ping 的时间（纳秒）
	lastPingSentNs int64

	// metricsMu 指标锁
	metricsMu sync.Mutex
	// metrics 连接指标
	metrics ConnectionMetrics
}

// NewClient 创建连接管理器
// 参数 cfg: 应用配置
// 参数 books: 订单簿注册表（由调用方持有）
// 参数 logger: 日志记录器
func NewClient(cfg *config.Config, books *book.Registry, logger *zap.Logger) *Client {
	return &Client{
		cfg:       cfg,
		logger:    logger.Named("okx"),
		books:     books,
		subs:      make(map[subKey]struct{}),
		callbacks: make(map[subKey]Callback),
		reconnect: backoff.FromConfig(cfg.WS.Reconnect.Policy, cfg.WS.Reconnect.DelayMs, cfg.WS.Reconnect.MaxDelayMs),
	}
}

// Connect 建立 WebSocket 连接
// 阻塞直到连接建立或失败。
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	atomic.StoreInt32(&c.state, int32(StateConnecting))

	header := http.Header{}
	header.Set("User-Agent", "orderbook-watch/1.0")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	url := c.cfg.WS.EffectiveURL()
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		atomic.StoreInt32(&c.state, int32(StateDisconnected))
		return fmt.Errorf("连接 WebSocket 失败: %w", err)
	}

	c.conn = conn
	atomic.StoreInt32(&c.state, int32(StateConnected))
	atomic.StoreInt64(&c.lastPingSentNs, 0)
	c.reconnect.Reset()
	c.logger.Info("WebSocket 连接成功", zap.String("url", url))

	return nil
}

// State 获取当前连接状态
func (c *Client) State() ConnState {
	return ConnState(atomic.LoadInt32(&c.state))
}

// Run 启动客户端主循环
// 包含读取循环、心跳循环与校验和验证循环；
// 读取循环在本 goroutine 上运行，直到 ctx 取消或客户端关闭。
func (c *Client) Run(ctx context.Context) {
	go c.pingLoop(ctx)
	go c.checksumLoop(ctx)

	c.readLoop(ctx)
}

// readLoop 读取循环
// 单消费者顺序处理消息，读取出错时走固定延迟重连。
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.doReconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 || ctx.Err() != nil {
				return
			}
			c.logger.Warn("读取消息失败", zap.Error(err))
			c.doReconnect(ctx)
			continue
		}

		atomic.StoreInt64(&c.lastMsgNs, timeutil.NowNano())
		c.handleMessage(data)
	}
}

// handleMessage 按报文形态分发单条消息
// ping → 回复 pong；订阅确认/错误 → 仅记录日志；
// 深度频道 → 解析后路由到订单簿；其余频道 → 仅触发回调。
// 解码或解析失败只丢弃当前消息，连接保持。
func (c *Client) handleMessage(data []byte) {
	if IsPing(data) {
		c.sendPong()
		return
	}

	if resp, ok := IsEventResponse(data); ok {
		if resp.Event == "error" {
			c.logger.Warn("服务端返回错误", zap.String("code", resp.Code), zap.String("msg", resp.Msg))
		} else {
			c.logger.Debug("收到事件消息", zap.String("event", resp.Event))
		}
		return
	}

	var msg BooksMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.incrementDecodeErrorCount()
		c.logger.Warn("解码消息失败", zap.Error(err))
		return
	}
	if msg.Arg.Channel == "" {
		return
	}

	if IsBookChannel(msg.Arg.Channel) {
		deltas, err := ParseBooksMessage(&msg)
		if err != nil {
			// 半个订单簿比丢一条消息更危险：整条拒绝，不做部分应用
			c.incrementDecodeErrorCount()
			c.logger.Warn("解析深度消息失败", zap.Error(err))
			return
		}
		for i := range deltas {
			b := c.books.GetOrCreate(deltas[i].InstID)
			ApplyDelta(b, &deltas[i])
		}
	}

	c.dispatchCallback(msg.Arg.Channel, msg.Arg.InstId, data)
}

// dispatchCallback 触发注册的频道回调
func (c *Client) dispatchCallback(channel, instID string, raw []byte) {
	c.subMu.Lock()
	cb := c.callbacks[subKey{channel: channel, instID: instID}]
	c.subMu.Unlock()

	if cb != nil {
		cb(raw)
	}
}

// SubscribeOrderBook 订阅指定合约的深度频道
// 参数 channel: books, books5, bbo-tbt, books50-l2-tbt, books-l2-tbt 之一
// 参数 cb: 可选回调，收到该频道消息时以原始报文调用
// 订阅请求为 fire-and-forget，不等待确认。
func (c *Client) SubscribeOrderBook(instID, channel string, cb Callback) error {
	if !IsBookChannel(channel) {
		return fmt.Errorf("无效的深度频道: %s", channel)
	}
	return c.subscribe(instID, channel, cb)
}

// UnsubscribeOrderBook 取消订阅深度频道
// 从重连恢复列表与回调表中移除，但保留订单簿已累积的状态——
// 重新订阅时新快照会整体覆盖。
func (c *Client) UnsubscribeOrderBook(instID, channel string) error {
	return c.unsubscribe(instID, channel)
}

// SubscribeTrades 订阅指定合约的成交频道
// 成交频道不参与订单簿重建，仅触发回调。
func (c *Client) SubscribeTrades(instID string, cb Callback) error {
	return c.subscribe(instID, "trades", cb)
}

// UnsubscribeTrades 取消订阅成交频道
func (c *Client) UnsubscribeTrades(instID string) error {
	return c.unsubscribe(instID, "trades")
}

func (c *Client) subscribe(instID, channel string, cb Callback) error {
	key := subKey{channel: channel, instID: instID}

	c.subMu.Lock()
	c.subs[key] = struct{}{}
	if cb != nil {
		c.callbacks[key] = cb
	}
	c.subMu.Unlock()

	if err := c.sendOp("subscribe", channel, instID); err != nil {
		return err
	}
	c.logger.Info("订阅请求已发送", zap.String("channel", channel), zap.String("instId", instID))
	return nil
}

func (c *Client) unsubscribe(instID, channel string) error {
	key := subKey{channel: channel, instID: instID}

	c.subMu.Lock()
	delete(c.subs, key)
	delete(c.callbacks, key)
	c.subMu.Unlock()

	if err := c.sendOp("unsubscribe", channel, instID); err != nil {
		return err
	}
	c.logger.Info("取消订阅请求已发送", zap.String("channel", channel), zap.String("instId", instID))
	return nil
}

// resubscribeAll 重连后恢复全部订阅
func (c *Client) resubscribeAll() {
	c.subMu.Lock()
	keys := make([]subKey, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	c.subMu.Unlock()

	for _, key := range keys {
		if err := c.sendOp("subscribe", key.channel, key.instID); err != nil {
			c.logger.Error("恢复订阅失败", zap.Error(err), zap.String("channel", key.channel), zap.String("instId", key.instID))
		}
	}
	if len(keys) > 0 {
		c.logger.Info("已恢复订阅", zap.Int("count", len(keys)))
	}
}

// sendOp 发送订阅/取消订阅请求
func (c *Client) sendOp(op, channel, instID string) error {
	return c.sendJSON(Request{
		Op:   op,
		Args: []Arg{{Channel: channel, InstId: instID}},
	})
}

// sendJSON 序列化并写入一条消息
// 所有写入经 connMu 串行化。
func (c *Client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	return nil
}

// sendPong 回复服务端 ping
func (c *Client) sendPong() {
	if err := c.sendJSON(Request{Op: "pong"}); err != nil {
		c.logger.Warn("发送 pong 失败", zap.Error(err))
	}
}

// pingLoop 心跳循环
// 周期发送 {"op":"ping"} 保持空闲连接存活。
// 上一次 ping 之后超时仍无任何入站消息（pong 或行情推送）
// 则判定连接僵死，关闭连接交由读取循环重连。
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.WS.PingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			if c.State() != StateConnected {
				continue
			}

			lastPing := atomic.LoadInt64(&c.lastPingSentNs)
			lastMsg := atomic.LoadInt64(&c.lastMsgNs)
			if lastPing > 0 && lastMsg < lastPing &&
				timeutil.NowNano()-lastPing > int64(c.cfg.WS.PongTimeoutMs)*1_000_000 {
				c.logger.Warn("心跳超时，关闭连接触发重连")
				c.closeConn()
				continue
			}

			if err := c.sendJSON(Request{Op: "ping"}); err != nil {
				c.logger.Warn("发送 ping 失败", zap.Error(err))
				continue
			}
			atomic.StoreInt64(&c.lastPingSentNs, timeutil.NowNano())
		}
	}
}

// checksumLoop 校验和验证循环
// 周期遍历所有订阅中的订单簿并调用 Verify()；
// 失配时对该合约执行重同步：取消订阅 → 短暂等待让服务端生效 →
// 重新订阅（服务端随即推送保证正确的新快照）。
// 每个周期最多重同步一个合约，大面积失配时（如批量重连后）以此限流。
func (c *Client) checksumLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.Checksum.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			if c.State() != StateConnected {
				continue
			}
			c.sweepChecksums(ctx)
		}
	}
}

// sweepChecksums 执行一轮校验和检查
// 找到第一个失配的订单簿后重同步并结束本轮，其余失配留待下个周期。
func (c *Client) sweepChecksums(ctx context.Context) {
	c.books.Range(func(instID string, b *book.OrderBook) bool {
		if b.Verify() {
			return true
		}

		channel, ok := c.bookChannelOf(instID)
		if !ok {
			// 已取消订阅的合约无从重订阅，留在注册表中的旧状态不再校验
			return true
		}

		c.logger.Warn("校验和失配，触发重同步",
			zap.String("instId", instID),
			zap.String("channel", channel),
			zap.Int32("localChecksum", b.Checksum()))

		c.resync(ctx, instID, channel)
		return false
	})
}

// resync 对单个合约执行取消订阅-重新订阅循环
func (c *Client) resync(ctx context.Context, instID, channel string) {
	if err := c.unsubscribe(instID, channel); err != nil {
		c.logger.Error("重同步取消订阅失败", zap.Error(err), zap.String("instId", instID))
		return
	}

	// 等待服务端处理取消订阅
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(c.cfg.Checksum.ResyncWaitMs) * time.Millisecond):
	}

	if err := c.subscribe(instID, channel, nil); err != nil {
		c.logger.Error("重同步重新订阅失败", zap.Error(err), zap.String("instId", instID))
		return
	}

	c.metricsMu.Lock()
	c.metrics.ResyncCount++
	c.metricsMu.Unlock()
}

// bookChannelOf 查找合约当前订阅的深度频道
func (c *Client) bookChannelOf(instID string) (string, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for key := range c.subs {
		if key.instID == instID && IsBookChannel(key.channel) {
			return key.channel, true
		}
	}
	return "", false
}

// doReconnect 按延迟策略重连并恢复订阅
func (c *Client) doReconnect(ctx context.Context) {
	c.closeConn()
	c.incrementReconnectCount()

	delay := c.reconnect.Next()
	c.logger.Info("准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("重连失败", zap.Error(err))
		return
	}

	c.resubscribeAll()
}

// closeConn 关闭底层连接
func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	atomic.StoreInt32(&c.state, int32(StateDisconnected))
}

// Close 关闭客户端
// 先尽力取消全部订阅（失败仅记录日志），再关闭连接。
// 后台循环通过 closed 标志与 ctx 取消退出。
func (c *Client) Close() error {
	atomic.StoreInt32(&c.closed, 1)

	c.subMu.Lock()
	keys := make([]subKey, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	c.subMu.Unlock()

	for _, key := range keys {
		if err := c.unsubscribe(key.instID, key.channel); err != nil {
			c.logger.Warn("关闭时取消订阅失败", zap.Error(err),
				zap.String("channel", key.channel), zap.String("instId", key.instID))
		}
	}

	c.closeConn()
	c.logger.Info("客户端已关闭")
	return nil
}

// Quote 获取指定合约的顶档行情
// 订单簿不存在或任一侧为空时返回错误。
func (c *Client) Quote(instID string) (book.Quote, error) {
	b := c.books.Get(instID)
	if b == nil {
		return book.Quote{}, fmt.Errorf("%s: %w", instID, book.ErrBookNotReady)
	}
	return b.Quote()
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.Lock()
	m := c.metrics
	c.metricsMu.Unlock()

	if last := atomic.LoadInt64(&c.lastMsgNs); last > 0 {
		m.LastMessageAgeMs = (timeutil.NowNano() - last) / 1_000_000
	}
	return m
}

func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

func (c *Client) incrementDecodeErrorCount() {
	c.metricsMu.Lock()
	c.metrics.DecodeErrorCount++
	c.metricsMu.Unlock()
}
