package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	t.Run("默认配置校验通过", func(t *testing.T) {
		cfg := DefaultConfig()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("从yaml文件加载并与默认值合并", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		content := []byte("listen: \":8400\"\nreliability:\n  nak_depth: 512\n")
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Listen != ":8400" {
			t.Errorf("Listen: got %q, want %q", cfg.Listen, ":8400")
		}
		if cfg.Reliability.NakDepthMessages != 512 {
			t.Errorf("NakDepthMessages: got %d, want 512", cfg.Reliability.NakDepthMessages)
		}
		// Fields not present in the file keep their defaults.
		if cfg.Reliability.HeartbeatPeriodMs != 3000 {
			t.Errorf("HeartbeatPeriodMs: got %d, want 3000 (default)", cfg.Reliability.HeartbeatPeriodMs)
		}
	})

	t.Run("文件不存在时返回错误", func(t *testing.T) {
		if _, err := Load("/nonexistent/path.yaml"); err == nil {
			t.Errorf("Load with missing file: got nil error, want non-nil")
		}
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"无效listen地址", func(c *Config) { c.Listen = "not-an-addr" }, true},
		{"无效log_level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"空log_level回落到info", func(c *Config) { c.LogLevel = "" }, false},
		{"nak_depth为0", func(c *Config) { c.Reliability.NakDepthMessages = 0 }, true},
		{"heartbeat_period为0", func(c *Config) { c.Reliability.HeartbeatPeriodMs = 0 }, true},
		{"max_bundle_size过小", func(c *Config) { c.Reliability.MaxBundleSize = 10 }, true},
		{"多播开启但缺少组地址", func(c *Config) { c.Socket.UseMulticast = true }, true},
		{"多播组地址非多播地址", func(c *Config) {
			c.Socket.UseMulticast = true
			c.Socket.MulticastGroupAddress = "127.0.0.1"
		}, true},
		{"多播组地址合法", func(c *Config) {
			c.Socket.UseMulticast = true
			c.Socket.MulticastGroupAddress = "239.255.0.1"
		}, false},
		{"ttl超出范围", func(c *Config) { c.Socket.TTL = 300 }, true},
		{"中继地址无效", func(c *Config) { c.Relay.Address = "not-an-addr" }, true},
		{"中继地址合法", func(c *Config) { c.Relay.Address = "relay.example.com:7400" }, false},
		{"metrics监听地址无效", func(c *Config) { c.Metrics.Listen = "bad" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Errorf("Validate: got nil error, want non-nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate: got %v, want nil", err)
			}
		})
	}

	t.Run("does_not_exist_threshold非正数回落到10", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Reliability.DoesNotExistThreshold = 0
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if cfg.Reliability.DoesNotExistThreshold != 10 {
			t.Errorf("DoesNotExistThreshold: got %d, want 10", cfg.Reliability.DoesNotExistThreshold)
		}
	})
}

func TestRelayUDPAddr(t *testing.T) {
	t.Run("未配置中继时返回nil", func(t *testing.T) {
		cfg := DefaultConfig()
		addr, err := cfg.RelayUDPAddr()
		if err != nil {
			t.Fatalf("RelayUDPAddr: %v", err)
		}
		if addr != nil {
			t.Errorf("addr: got %v, want nil", addr)
		}
	})

	t.Run("配置了中继时解析出UDP地址", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Relay.Address = "127.0.0.1:7400"
		addr, err := cfg.RelayUDPAddr()
		if err != nil {
			t.Fatalf("RelayUDPAddr: %v", err)
		}
		if addr == nil || addr.Port != 7400 {
			t.Errorf("addr: got %v, want port 7400", addr)
		}
	})
}

func TestToReliabilityConfig(t *testing.T) {
	t.Run("毫秒字段被转换为time.Duration", func(t *testing.T) {
		cfg := DefaultConfig()
		nakDepth, nakDelay, hbDelay, hbPeriod, durableTimeout, passive, maxBundle, queueDepth, threshold := cfg.ToReliabilityConfig()
		if nakDepth != 256 {
			t.Errorf("nakDepth: got %d, want 256", nakDepth)
		}
		if nakDelay.Milliseconds() != 10 {
			t.Errorf("nakDelay: got %v, want 10ms", nakDelay)
		}
		if hbDelay.Milliseconds() != 10 {
			t.Errorf("hbDelay: got %v, want 10ms", hbDelay)
		}
		if hbPeriod.Seconds() != 3 {
			t.Errorf("hbPeriod: got %v, want 3s", hbPeriod)
		}
		if durableTimeout.Seconds() != 60 {
			t.Errorf("durableTimeout: got %v, want 60s", durableTimeout)
		}
		if passive != 0 {
			t.Errorf("passive: got %v, want 0 (unset default)", passive)
		}
		if maxBundle != 1472 {
			t.Errorf("maxBundle: got %d, want 1472", maxBundle)
		}
		if queueDepth != 256 {
			t.Errorf("queueDepth: got %d, want 256", queueDepth)
		}
		if threshold != 10 {
			t.Errorf("threshold: got %d, want 10", threshold)
		}
	})
}
