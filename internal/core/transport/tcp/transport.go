package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-dbmesh/pkg/types"
	"go.uber.org/multierr"
)

// ============================================================================
//                              Options
// ============================================================================

// Options 传输层选项
type Options struct {
	// DialTimeout 单次拨号超时
	DialTimeout time.Duration

	// KeepAlive TCP keepalive 间隔，0 使用系统默认
	KeepAlive time.Duration

	// ClientPort 出站连接固定源端口，0 表示由系统分配
	//
	// 设置后所有出站拨号复用同一本地端口（SO_REUSEADDR），
	// 用于只放行固定端口的防火墙环境。
	ClientPort uint16
}

// DefaultOptions 返回默认传输选项
func DefaultOptions() Options {
	return Options{
		DialTimeout: 5 * time.Second,
		KeepAlive:   30 * time.Second,
	}
}

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport TCP 传输层
//
// 负责出站拨号和监听器的创建与统一关闭。
type Transport struct {
	opts Options

	listeners   map[string]*Listener
	listenersMu sync.Mutex

	closed atomic.Bool
}

// NewTransport 创建 TCP 传输层
func NewTransport(opts Options) *Transport {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultOptions().DialTimeout
	}
	return &Transport{
		opts:      opts,
		listeners: make(map[string]*Listener),
	}
}

// Dial 建立出站连接
func (t *Transport) Dial(ctx context.Context, addr types.HostPort) (*Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	dialer := &net.Dialer{
		Timeout:   t.opts.DialTimeout,
		KeepAlive: t.opts.KeepAlive,
	}
	if t.opts.ClientPort != 0 {
		dialer.LocalAddr = &net.TCPAddr{Port: int(t.opts.ClientPort)}
		dialer.Control = reuseAddrControl
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, ErrNotTCPConn
	}

	tcpConn.SetNoDelay(true)

	return newConn(tcpConn, types.DirectionOutbound), nil
}

// Listen 在指定地址上监听入站连接
//
// 监听器由传输层登记，Close 时统一关闭。
func (t *Transport) Listen(host string, port uint16) (*Listener, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	listener, err := NewListener(host, port)
	if err != nil {
		return nil, err
	}

	t.listenersMu.Lock()
	t.listeners[listener.Addr().String()] = listener
	t.listenersMu.Unlock()

	return listener, nil
}

// RemoveListener 移除监听器登记
func (t *Transport) RemoveListener(addr string) {
	t.listenersMu.Lock()
	delete(t.listeners, addr)
	t.listenersMu.Unlock()
}

// ListenerCount 返回监听器数量
func (t *Transport) ListenerCount() int {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	return len(t.listeners)
}

// IsClosed 检查传输层是否已关闭
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// Close 关闭传输层及其全部监听器
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs error

	t.listenersMu.Lock()
	for _, l := range t.listeners {
		errs = multierr.Append(errs, l.Close())
	}
	t.listeners = make(map[string]*Listener)
	t.listenersMu.Unlock()

	return errs
}

// ============================================================================
//                              辅助函数
// ============================================================================

// LocalHosts 枚举本机可对外通告的接口地址
//
// 跳过回环和未指定地址；用于监听通配地址时生成握手中通告的
// 地址候选集。枚举失败时返回空集，由调用方决定回退策略。
func LocalHosts() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	hosts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
			continue
		}
		hosts = append(hosts, ip.String())
	}
	return hosts
}
