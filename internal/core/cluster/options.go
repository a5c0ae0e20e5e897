package cluster

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
//                              Config
// ============================================================================

// Config 集群会话配置
type Config struct {
	// BindHosts 监听的本地地址列表，为空表示监听所有接口
	BindHosts []string

	// Port 集群监听端口，0 表示由系统分配
	Port uint16

	// ClientPort 出站连接固定源端口，0 表示由系统分配
	ClientPort uint16

	// CanonicalAddr 对外通告的规范地址，零值表示通告本机接口地址
	CanonicalAddr types.HostPort

	// Seeds 会话启动时加入的种子节点
	Seeds []types.HostPort

	// DialTimeout 单次拨号超时
	DialTimeout time.Duration

	// HandshakeTimeout 握手整体超时
	HandshakeTimeout time.Duration

	// MaxConcurrentDials 并发拨号上限（拨号风暴闸门）
	MaxConcurrentDials int64

	// HeartbeatInterval 心跳发送间隔
	HeartbeatInterval time.Duration

	// HeartbeatTimeout 活性超时：超时未收到任何入站帧即判定连接死亡
	HeartbeatTimeout time.Duration

	// DialRetries 对端繁忙或连接竞争时的重试次数
	DialRetries int

	// RetryJitterMin/Max 重试抖动区间
	//
	// 双方同时互拨时两条连接可能互相挤掉，带抖动的重试让竞争
	// 收敛到恰好一条存活连接。
	RetryJitterMin time.Duration
	RetryJitterMax time.Duration

	// DialCooldown 拨号失败地址的冷却时间，期间重复的 Join 被忽略
	DialCooldown time.Duration

	// Clock 时钟源，测试中可注入 mock
	Clock clock.Clock
}

// DefaultConfig 返回默认会话配置
func DefaultConfig() Config {
	return Config{
		Port:               29015,
		DialTimeout:        5 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		MaxConcurrentDials: 16,
		HeartbeatInterval:  2 * time.Second,
		HeartbeatTimeout:   10 * time.Second,
		DialRetries:        5,
		RetryJitterMin:     50 * time.Millisecond,
		RetryJitterMax:     150 * time.Millisecond,
		DialCooldown:       3 * time.Second,
		Clock:              clock.New(),
	}
}

// withDefaults 填充零值字段
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MaxConcurrentDials <= 0 {
		c.MaxConcurrentDials = def.MaxConcurrentDials
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		c.HeartbeatTimeout = 5 * c.HeartbeatInterval
	}
	if c.DialRetries < 0 {
		c.DialRetries = def.DialRetries
	}
	if c.RetryJitterMin <= 0 {
		c.RetryJitterMin = def.RetryJitterMin
	}
	if c.RetryJitterMax <= c.RetryJitterMin {
		c.RetryJitterMax = c.RetryJitterMin + def.RetryJitterMax - def.RetryJitterMin
	}
	if c.DialCooldown <= 0 {
		c.DialCooldown = def.DialCooldown
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// ============================================================================
//                              Option
// ============================================================================

// Option 配置修改函数
type Option func(*Config)

// WithBindHosts 设置监听地址
func WithBindHosts(hosts ...string) Option {
	return func(c *Config) { c.BindHosts = hosts }
}

// WithPort 设置监听端口
func WithPort(port uint16) Option {
	return func(c *Config) { c.Port = port }
}

// WithClientPort 设置出站固定源端口
func WithClientPort(port uint16) Option {
	return func(c *Config) { c.ClientPort = port }
}

// WithCanonicalAddr 设置对外通告的规范地址
func WithCanonicalAddr(addr types.HostPort) Option {
	return func(c *Config) { c.CanonicalAddr = addr }
}

// WithSeeds 设置启动时加入的种子节点
func WithSeeds(seeds ...types.HostPort) Option {
	return func(c *Config) { c.Seeds = seeds }
}

// WithHeartbeat 设置心跳间隔与活性超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithDialTimeout 设置拨号超时
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

// WithClock 注入时钟源（测试用）
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}
