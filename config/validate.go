package config

import (
	"errors"
	"fmt"
	"net"
)

// 配置校验错误
var (
	// ErrInvalidSeed 种子节点地址格式错误
	ErrInvalidSeed = errors.New("config: invalid seed address")

	// ErrInvalidCanonicalAddr 规范地址格式错误
	ErrInvalidCanonicalAddr = errors.New("config: invalid canonical address")

	// ErrInvalidLogLevel 日志级别无效
	ErrInvalidLogLevel = errors.New("config: invalid log level")
)

// Validate 验证配置的有效性
//
// 可修复的缺省值（零超时、零并发上限）会被填充为默认值；
// 无法修复的错误（地址格式非法）返回 error。
func (c *Config) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return err
	}
	if err := c.Heartbeat.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// Validate 验证集群配置
func (c *ClusterConfig) Validate() error {
	def := DefaultClusterConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MaxConcurrentDials <= 0 {
		c.MaxConcurrentDials = def.MaxConcurrentDials
	}

	if c.CanonicalAddr != "" {
		if _, _, err := net.SplitHostPort(c.CanonicalAddr); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidCanonicalAddr, c.CanonicalAddr)
		}
	}
	for _, seed := range c.Seeds {
		if _, _, err := net.SplitHostPort(seed); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidSeed, seed)
		}
	}
	return nil
}

// Validate 验证心跳配置
func (c *HeartbeatConfig) Validate() error {
	def := DefaultHeartbeatConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Timeout <= c.Interval {
		// 超时必须长于间隔，否则健康连接也会被判死
		c.Timeout = 5 * c.Interval
	}
	return nil
}

// Validate 验证日志配置
func (c *LogConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
		if c.Level == "" {
			c.Level = "info"
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Level)
	}
}
