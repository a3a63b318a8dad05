// Package main 是订单簿镜像器的入口点。
// 通过 WebSocket 订阅 OKX 风格交易所的深度频道，
// 在本地重建校验和验证的订单簿，并周期输出顶档行情与连接指标。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"orderbook-watch/internal/book"
	"orderbook-watch/internal/config"
	"orderbook-watch/internal/exchange/okx"
	"orderbook-watch/internal/output/jsonl"
	"orderbook-watch/internal/util/timeutil"
)

// quoteSnapshot 周期输出的顶档行情记录
type quoteSnapshot struct {
	// TsUnixNs 采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// InstID 合约 ID
	InstID string `json:"inst_id"`
	// Bid 最优买价
	Bid string `json:"bid"`
	// BidQty 最优买量
	BidQty string `json:"bid_qty"`
	// Ask 最优卖价
	Ask string `json:"ask"`
	// AskQty 最优卖量
	AskQty string `json:"ask_qty"`
	// BookTsMs 交易所报告的订单簿更新时间（毫秒）
	BookTsMs int64 `json:"book_ts_ms"`
}

// metricsSnapshot 周期输出的连接指标记录
type metricsSnapshot struct {
	// TsUnixNs 采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Conn 连接指标
	Conn okx.ConnectionMetrics `json:"conn"`
	// State 连接状态
	State string `json:"state"`
	// Books 当前注册的订单簿数量
	Books int `json:"books"`
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	books := book.NewRegistry()
	client := okx.NewClient(cfg, books, logger)

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()

	if err := client.Connect(startCtx); err != nil {
		logger.Error("连接失败", zap.Error(err))
		os.Exit(1)
	}

	for _, sub := range cfg.Subscriptions {
		if err := client.SubscribeOrderBook(sub.InstID, sub.Channel, nil); err != nil {
			logger.Error("订阅失败", zap.Error(err),
				zap.String("instId", sub.InstID), zap.String("channel", sub.Channel))
			os.Exit(1)
		}
	}

	var quotes *jsonl.Recorder
	if cfg.Output.QuotesEnabled {
		quotes, err = jsonl.NewRecorder(fmt.Sprintf("%s/quotes.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 quotes recorder 失败", zap.Error(err))
			os.Exit(1)
		}
	}

	go client.Run(ctx)

	runQuoteLoop(ctx, logger, cfg, books, client, quotes)

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Close()
		if quotes != nil {
			_ = quotes.Close()
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

// runQuoteLoop 周期读取顶档行情并输出
// 订单簿尚未就绪的合约跳过本轮，不视为错误。
func runQuoteLoop(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	books *book.Registry,
	client *okx.Client,
	quotes *jsonl.Recorder,
) {
	ticker := time.NewTicker(time.Duration(cfg.Output.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nowNs := timeutil.NowNano()

			for _, sub := range cfg.Subscriptions {
				q, err := client.Quote(sub.InstID)
				if err != nil {
					logger.Debug("订单簿尚未就绪", zap.String("instId", sub.InstID))
					continue
				}

				logger.Info("顶档行情",
					zap.String("instId", q.InstID),
					zap.String("bid", q.Bid.String()),
					zap.String("bidQty", q.BidQty.String()),
					zap.String("ask", q.Ask.String()),
					zap.String("askQty", q.AskQty.String()))

				if quotes != nil {
					_ = quotes.Append(quoteSnapshot{
						TsUnixNs: nowNs,
						InstID:   q.InstID,
						Bid:      q.Bid.String(),
						BidQty:   q.BidQty.String(),
						Ask:      q.Ask.String(),
						AskQty:   q.AskQty.String(),
						BookTsMs: q.TimestampMs,
					})
				}
			}

			if quotes != nil {
				_ = quotes.Append(metricsSnapshot{
					TsUnixNs: nowNs,
					Conn:     client.Metrics(),
					State:    client.State().String(),
					Books:    books.Len(),
				})
				_ = quotes.Flush()
			}
		}
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
