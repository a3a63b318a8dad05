// Package config 负责加载和验证 YAML 配置文件。
// 提供 WebSocket 连接、校验循环、订阅列表与输出等全部配置项。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// validChannels 合法的深度频道集合
var validChannels = map[string]bool{
	"books":          true,
	"books5":         true,
	"bbo-tbt":        true,
	"books50-l2-tbt": true,
	"books-l2-tbt":   true,
}

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// WS WebSocket 连接配置
	WS WSConfig `yaml:"ws"`
	// Checksum 校验循环配置
	Checksum ChecksumConfig `yaml:"checksum"`
	// Subscriptions 启动时订阅的合约/频道列表
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	// Output 行情快照输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// WSConfig WebSocket 连接配置
type WSConfig struct {
	// URL 主网 WebSocket 地址
	URL string `yaml:"url"`
	// TestnetURL 测试网 WebSocket 地址
	TestnetURL string `yaml:"testnet_url"`
	// Testnet 是否使用测试网
	Testnet bool `yaml:"testnet"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳超时（毫秒）
	// 发出 ping 后该时长内未收到任何消息则判定连接僵死，强制重连
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
	// Reconnect 重连策略配置
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig 重连策略配置
type ReconnectConfig struct {
	// Policy 延迟策略: fixed（默认）或 exponential
	Policy string `yaml:"policy"`
	// DelayMs 固定延迟或指数退避的基础延迟（毫秒）
	DelayMs int `yaml:"delay_ms"`
	// MaxDelayMs 指数退避的最大延迟（毫秒），fixed 策略忽略
	MaxDelayMs int `yaml:"max_delay_ms"`
}

// ChecksumConfig 校验循环配置
type ChecksumConfig struct {
	// IntervalMs 校验扫描间隔（毫秒）
	IntervalMs int `yaml:"interval_ms"`
	// ResyncWaitMs 重同步时取消订阅与重新订阅之间的等待（毫秒）
	ResyncWaitMs int `yaml:"resync_wait_ms"`
}

// SubscriptionConfig 单条订阅配置
type SubscriptionConfig struct {
	// InstID 合约 ID，如 BTC-USDT-SWAP
	InstID string `yaml:"inst_id"`
	// Channel 深度频道，如 books5
	Channel string `yaml:"channel"`
}

// OutputConfig 行情快照输出配置
type OutputConfig struct {
	// QuotesEnabled 是否输出顶档行情 JSONL 文件
	QuotesEnabled bool `yaml:"quotes_enabled"`
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// IntervalMs 快照输出间隔（毫秒）
	IntervalMs int `yaml:"interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// EffectiveURL 根据环境选择 WebSocket 地址
func (w *WSConfig) EffectiveURL() string {
	if w.Testnet && w.TestnetURL != "" {
		return w.TestnetURL
	}
	return w.URL
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// SetDefaults 设置配置默认值
func (c *Config) SetDefaults() {
	if c.App.Name == "" {
		c.App.Name = "orderbook-watch"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.WS.PingIntervalMs == 0 {
		c.WS.PingIntervalMs = 20000 // 20 秒
	}
	if c.WS.PongTimeoutMs == 0 {
		c.WS.PongTimeoutMs = 10000 // 10 秒
	}
	if c.WS.Reconnect.Policy == "" {
		c.WS.Reconnect.Policy = "fixed"
	}
	if c.WS.Reconnect.DelayMs == 0 {
		c.WS.Reconnect.DelayMs = 5000 // 5 秒
	}
	if c.WS.Reconnect.MaxDelayMs == 0 {
		c.WS.Reconnect.MaxDelayMs = 30000 // 30 秒
	}

	if c.Checksum.IntervalMs == 0 {
		c.Checksum.IntervalMs = 5000 // 5 秒
	}
	if c.Checksum.ResyncWaitMs == 0 {
		c.Checksum.ResyncWaitMs = 1000 // 1 秒
	}

	for i := range c.Subscriptions {
		if c.Subscriptions[i].Channel == "" {
			c.Subscriptions[i].Channel = "books5"
		}
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.IntervalMs == 0 {
		c.Output.IntervalMs = 5000 // 5 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	if c.WS.URL == "" {
		errs = append(errs, "ws.url: WebSocket 地址不能为空")
	}
	if c.WS.Testnet && c.WS.TestnetURL == "" {
		errs = append(errs, "ws.testnet_url: 启用测试网时测试网地址不能为空")
	}
	if c.WS.PingIntervalMs <= 0 {
		errs = append(errs, "ws.ping_interval_ms: 心跳间隔必须为正数")
	}
	if c.WS.PongTimeoutMs <= 0 {
		errs = append(errs, "ws.pong_timeout_ms: 心跳超时必须为正数")
	}

	switch c.WS.Reconnect.Policy {
	case "fixed", "exponential":
	default:
		errs = append(errs, fmt.Sprintf("ws.reconnect.policy: 无效的策略 '%s'，有效值: fixed, exponential", c.WS.Reconnect.Policy))
	}
	if c.WS.Reconnect.DelayMs <= 0 {
		errs = append(errs, "ws.reconnect.delay_ms: 重连延迟必须为正数")
	}
	if c.WS.Reconnect.Policy == "exponential" && c.WS.Reconnect.MaxDelayMs < c.WS.Reconnect.DelayMs {
		errs = append(errs, "ws.reconnect.max_delay_ms: 最大延迟不能小于基础延迟")
	}

	if c.Checksum.IntervalMs <= 0 {
		errs = append(errs, "checksum.interval_ms: 校验间隔必须为正数")
	}
	if c.Checksum.ResyncWaitMs < 0 {
		errs = append(errs, "checksum.resync_wait_ms: 重同步等待不能为负数")
	}

	if len(c.Subscriptions) == 0 {
		errs = append(errs, "subscriptions: 至少需要配置一条订阅")
	}
	for i, sub := range c.Subscriptions {
		if sub.InstID == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].inst_id: 合约 ID 不能为空", i))
		}
		if !validChannels[sub.Channel] {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].channel: 无效的深度频道 '%s'", i, sub.Channel))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
