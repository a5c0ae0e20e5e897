package dbmesh

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-dbmesh/config"
	"github.com/dep2p/go-dbmesh/internal/core/cluster"
	"github.com/dep2p/go-dbmesh/pkg/lib/log"
	"github.com/dep2p/go-dbmesh/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// config 完整配置，选项在其上逐项覆盖
	config *config.Config

	// clk 时钟源，测试中注入 mock
	clk clock.Clock

	// userFxOptions 用户自定义 Fx 选项
	userFxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{
		config: config.NewConfig(),
	}
}

// ============================================================================
//                              选项构造函数
// ============================================================================

// WithConfig 使用完整配置
//
// 与其他选项组合时，后应用的选项覆盖配置中的对应字段。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("dbmesh: nil config")
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithListenPort 设置集群监听端口，0 表示由系统分配
func WithListenPort(port uint16) Option {
	return func(o *options) error {
		o.config.Cluster.Port = port
		return nil
	}
}

// WithBindHosts 设置监听的本地地址
func WithBindHosts(hosts ...string) Option {
	return func(o *options) error {
		o.config.Cluster.BindHosts = hosts
		return nil
	}
}

// WithClientPort 设置出站连接的固定源端口
func WithClientPort(port uint16) Option {
	return func(o *options) error {
		o.config.Cluster.ClientPort = port
		return nil
	}
}

// WithCanonicalAddr 设置对外通告的规范地址（"host:port"）
func WithCanonicalAddr(addr string) Option {
	return func(o *options) error {
		if _, err := types.ParseHostPort(addr); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
		o.config.Cluster.CanonicalAddr = addr
		return nil
	}
}

// WithSeeds 设置启动时加入的种子节点（"host:port"）
func WithSeeds(addrs ...string) Option {
	return func(o *options) error {
		for _, addr := range addrs {
			if _, err := types.ParseHostPort(addr); err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
			}
		}
		o.config.Cluster.Seeds = append(o.config.Cluster.Seeds, addrs...)
		return nil
	}
}

// WithHeartbeat 设置心跳间隔与活性超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *options) error {
		o.config.Heartbeat.Interval = interval
		o.config.Heartbeat.Timeout = timeout
		return nil
	}
}

// WithLogLevel 设置日志级别（debug/info/warn/error）
func WithLogLevel(level string) Option {
	return func(o *options) error {
		o.config.Log.Level = level
		return nil
	}
}

// WithLogFile 设置日志输出文件
func WithLogFile(path string) Option {
	return func(o *options) error {
		o.config.Log.File = path
		return nil
	}
}

// WithClock 注入时钟源（测试用）
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clk = clk
		return nil
	}
}

// WithFxOptions 追加用户自定义 Fx 选项（高级用法）
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}

// ============================================================================
//                              配置转换
// ============================================================================

// clusterOptions 将配置转换为连接层选项
//
// 调用前配置必须已通过 Validate，地址字段保证可解析。
func (o *options) clusterOptions() ([]cluster.Option, error) {
	cfg := o.config
	opts := []cluster.Option{
		cluster.WithBindHosts(cfg.Cluster.BindHosts...),
		cluster.WithPort(cfg.Cluster.Port),
		cluster.WithClientPort(cfg.Cluster.ClientPort),
		cluster.WithHeartbeat(cfg.Heartbeat.Interval, cfg.Heartbeat.Timeout),
		cluster.WithDialTimeout(cfg.Cluster.DialTimeout),
	}

	if cfg.Cluster.CanonicalAddr != "" {
		hp, err := types.ParseHostPort(cfg.Cluster.CanonicalAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, cfg.Cluster.CanonicalAddr)
		}
		opts = append(opts, cluster.WithCanonicalAddr(hp))
	}

	if len(cfg.Cluster.Seeds) > 0 {
		seeds := make([]types.HostPort, 0, len(cfg.Cluster.Seeds))
		for _, s := range cfg.Cluster.Seeds {
			hp, err := types.ParseHostPort(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
			}
			seeds = append(seeds, hp)
		}
		opts = append(opts, cluster.WithSeeds(seeds...))
	}

	if o.clk != nil {
		opts = append(opts, cluster.WithClock(o.clk))
	}
	return opts, nil
}

// applyLogConfig 应用日志配置
//
// 必须在任何组件产生日志前调用。
func (o *options) applyLogConfig() error {
	var level slog.Level
	switch o.config.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, o.config.Log.Level)
	}

	if o.config.Log.File != "" {
		f, err := os.OpenFile(o.config.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("dbmesh: open log file: %w", err)
		}
		log.SetOutputWithLevel(f, level)
		return nil
	}

	log.SetLevel(level)
	return nil
}
