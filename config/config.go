// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Cluster.Port = 29015
//
//	// 从文件加载
//	cfg, err := config.LoadFromFile("dbmesh.json")
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ============================================================================
//                              子配置
// ============================================================================

// ClusterConfig 集群连接层配置
type ClusterConfig struct {
	// BindHosts 监听的本地地址列表
	//
	// 为空表示监听所有接口（"::"）。
	BindHosts []string `json:"bind_hosts,omitempty"`

	// Port 集群监听端口，0 表示由系统分配临时端口
	Port uint16 `json:"port"`

	// ClientPort 出站连接固定源端口，0 表示由系统分配
	//
	// 配置后所有出站拨号复用同一个本地端口，便于穿越只放行
	// 固定端口的防火墙。
	ClientPort uint16 `json:"client_port,omitempty"`

	// CanonicalAddr 对外通告的规范地址（"host:port"）
	//
	// 设置后握手时只通告该地址，不再通告本机接口地址。
	CanonicalAddr string `json:"canonical_addr,omitempty"`

	// Seeds 启动时加入的种子节点地址列表（"host:port"）
	Seeds []string `json:"seeds,omitempty"`

	// DialTimeout 单次拨号超时
	DialTimeout time.Duration `json:"dial_timeout"`

	// HandshakeTimeout 握手整体超时
	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	// MaxConcurrentDials 并发拨号上限
	MaxConcurrentDials int `json:"max_concurrent_dials"`
}

// DefaultClusterConfig 返回默认集群配置
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		Port:               29015,
		DialTimeout:        5 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		MaxConcurrentDials: 16,
	}
}

// HeartbeatConfig 心跳配置
type HeartbeatConfig struct {
	// Interval 心跳发送间隔
	Interval time.Duration `json:"interval"`

	// Timeout 活性超时：超过该时长未收到任何入站数据即判定连接死亡
	Timeout time.Duration `json:"timeout"`
}

// DefaultHeartbeatConfig 返回默认心跳配置
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 2 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug/info/warn/error
	Level string `json:"level"`

	// File 日志输出文件，为空输出到 stderr
	File string `json:"file,omitempty"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level: "info",
	}
}

// ============================================================================
//                              Config
// ============================================================================

// Config 是 dbmesh 的完整配置结构
type Config struct {
	// Cluster 集群连接层配置
	Cluster ClusterConfig `json:"cluster"`

	// Heartbeat 心跳配置
	Heartbeat HeartbeatConfig `json:"heartbeat"`

	// Log 日志配置
	Log LogConfig `json:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Cluster:   DefaultClusterConfig(),
		Heartbeat: DefaultHeartbeatConfig(),
		Log:       DefaultLogConfig(),
	}
}

// ============================================================================
//                              JSON 读写
// ============================================================================

// FromJSON 从 JSON 数据解析配置
//
// 未出现的字段保持默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}
	return cfg, nil
}

// ToJSON 序列化配置为 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// LoadFromFile 从文件加载配置
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return FromJSON(data)
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
