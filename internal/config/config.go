// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 可靠性核心的监听、定时器、套接字与中继参数
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是可靠性核心的主配置。
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Reliability ReliabilityConfig `yaml:"reliability"`
	Socket      SocketConfig      `yaml:"socket"`
	Relay       RelayConfig       `yaml:"relay"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ReliabilityConfig 对应 spec 第6节配置表中的定时器与缓冲区参数。
type ReliabilityConfig struct {
	// NakDepthMessages是`nak_depth`：SendBuffer容量，单位为消息数。
	NakDepthMessages int `yaml:"nak_depth"`

	NakResponseDelayMs       int `yaml:"nak_response_delay_ms"`
	HeartbeatResponseDelayMs int `yaml:"heartbeat_response_delay_ms"`
	HeartbeatPeriodMs        int `yaml:"heartbeat_period_ms"`
	DurableDataTimeoutMs     int `yaml:"durable_data_timeout_ms"`

	MaxBundleSize int `yaml:"max_bundle_size"`

	// PassiveConnectDurationMs被解析并保存，但当前没有调度决策读取它，
	// 与原始实现自身留下的悬而未决保持一致（见DESIGN.md）。
	PassiveConnectDurationMs int `yaml:"passive_connect_duration_ms"`

	HeldDeliveryQueueDepth int `yaml:"held_delivery_queue_depth"`

	// DoesNotExistThreshold是writer_does_not_exist/reader_does_not_exist
	// 判定静默对等方所用的心跳周期倍数。
	DoesNotExistThreshold int `yaml:"does_not_exist_threshold"`
}

func (c ReliabilityConfig) nakResponseDelay() time.Duration {
	return time.Duration(c.NakResponseDelayMs) * time.Millisecond
}

func (c ReliabilityConfig) heartbeatResponseDelay() time.Duration {
	return time.Duration(c.HeartbeatResponseDelayMs) * time.Millisecond
}

func (c ReliabilityConfig) heartbeatPeriod() time.Duration {
	return time.Duration(c.HeartbeatPeriodMs) * time.Millisecond
}

func (c ReliabilityConfig) durableDataTimeout() time.Duration {
	return time.Duration(c.DurableDataTimeoutMs) * time.Millisecond
}

func (c ReliabilityConfig) passiveConnectDuration() time.Duration {
	return time.Duration(c.PassiveConnectDurationMs) * time.Millisecond
}

// SocketConfig对应`use_multicast`/`multicast_group_address`/
// `multicast_interface`/`ttl`/`send_buffer_size`/`rcv_buffer_size`。
type SocketConfig struct {
	UseMulticast           bool   `yaml:"use_multicast"`
	MulticastGroupAddress  string `yaml:"multicast_group_address"`
	MulticastInterface     string `yaml:"multicast_interface"`
	TTL                    int    `yaml:"ttl"`
	SendBufferSizeBytes    int    `yaml:"send_buffer_size"`
	ReceiveBufferSizeBytes int    `yaml:"rcv_buffer_size"`
}

// RelayConfig对应`rtps_relay_address`。
type RelayConfig struct {
	Address string `yaml:"rtps_relay_address"`
}

// MetricsConfig是伴生栈的一部分：HTTP暴露的/metrics与/healthz。
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	HealthPath string `yaml:"health_path"`
}

// Load从path读取并解析yaml配置，套用默认值后校验。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig返回一组保守、可直接运行的默认值。
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":7400",
		LogLevel: "info",

		Reliability: ReliabilityConfig{
			NakDepthMessages:         256,
			NakResponseDelayMs:       10,
			HeartbeatResponseDelayMs: 10,
			HeartbeatPeriodMs:        3000,
			DurableDataTimeoutMs:     60000,
			MaxBundleSize:            1472, // typical Ethernet MTU minus IP/UDP headers
			HeldDeliveryQueueDepth:   256,
			DoesNotExistThreshold:    10,
		},

		Socket: SocketConfig{
			UseMulticast: false,
			TTL:          1,
		},

		Metrics: MetricsConfig{
			Enabled:    true,
			Listen:     ":9100",
			Path:       "/metrics",
			HealthPath: "/healthz",
		},
	}
}

// Validate校验配置字段之间的一致性。
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen 地址无效: %w", err)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	case "":
		c.LogLevel = "info"
	default:
		return fmt.Errorf("无效的 log_level: %s (支持: debug, info, warn, error)", c.LogLevel)
	}

	if c.Reliability.NakDepthMessages <= 0 {
		return fmt.Errorf("reliability.nak_depth 必须大于0")
	}
	if c.Reliability.HeartbeatPeriodMs <= 0 {
		return fmt.Errorf("reliability.heartbeat_period_ms 必须大于0")
	}
	if c.Reliability.MaxBundleSize < 64 {
		return fmt.Errorf("reliability.max_bundle_size 太小，至少需要64字节")
	}
	if c.Reliability.DoesNotExistThreshold <= 0 {
		c.Reliability.DoesNotExistThreshold = 10
	}

	if c.Socket.UseMulticast {
		if c.Socket.MulticastGroupAddress == "" {
			return fmt.Errorf("socket.use_multicast 为真时必须配置 multicast_group_address")
		}
		if ip := net.ParseIP(c.Socket.MulticastGroupAddress); ip == nil || !ip.IsMulticast() {
			return fmt.Errorf("socket.multicast_group_address 不是有效的多播地址: %s", c.Socket.MulticastGroupAddress)
		}
	}
	if c.Socket.TTL < 0 || c.Socket.TTL > 255 {
		return fmt.Errorf("socket.ttl 需在 0-255 之间")
	}

	if c.Relay.Address != "" {
		if _, _, err := net.SplitHostPort(c.Relay.Address); err != nil {
			return fmt.Errorf("relay.rtps_relay_address 无效: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen 地址无效: %w", err)
		}
	}

	return nil
}

// RelayUDPAddr解析Relay.Address为*net.UDPAddr，nil表示未配置中继。
func (c *Config) RelayUDPAddr() (*net.UDPAddr, error) {
	if c.Relay.Address == "" {
		return nil, nil
	}
	return net.ResolveUDPAddr("udp", c.Relay.Address)
}

// ToReliabilityConfig把yaml层配置转换成reliability.Config所需的time.Duration形式。
func (c *Config) ToReliabilityConfig() (nakDepth int, nakResponseDelay, heartbeatResponseDelay, heartbeatPeriod, durableDataTimeout, passiveConnectDuration time.Duration, maxBundleSize, heldDeliveryQueueDepth, doesNotExistThreshold int) {
	r := c.Reliability
	return r.NakDepthMessages, r.nakResponseDelay(), r.heartbeatResponseDelay(), r.heartbeatPeriod(),
		r.durableDataTimeout(), r.passiveConnectDuration(), r.MaxBundleSize, r.HeldDeliveryQueueDepth, r.DoesNotExistThreshold
}
