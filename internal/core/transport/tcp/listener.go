package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
//                              Listener 实现
// ============================================================================

// Listener TCP 监听器
type Listener struct {
	listener *net.TCPListener
	addr     types.HostPort
	closed   atomic.Bool
}

// NewListener 在指定地址上创建 TCP 监听器
//
// host 为空表示监听所有接口。绑定失败（端口被占用、权限不足）
// 直接返回错误，由调用方决定是否致命。port 为 0 时由系统分配，
// 实际端口通过 Addr() 获取。
func NewListener(host string, port uint16) (*Listener, error) {
	listenAddr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", listenAddr, err)
	}

	tcpListener, ok := l.(*net.TCPListener)
	if !ok {
		_ = l.Close()
		return nil, ErrNotTCPConn
	}

	// 实际监听地址（端口可能是 0）
	actual := tcpListener.Addr().(*net.TCPAddr)

	return &Listener{
		listener: tcpListener,
		addr:     types.HostPort{Host: actual.IP.String(), Port: uint16(actual.Port)},
	}, nil
}

// Accept 接受一条入站连接
//
// 临时错误（文件描述符耗尽等）在内部退避重试，只有监听器
// 关闭或不可恢复的错误才返回。
func (l *Listener) Accept() (*Conn, error) {
	backoff := time.Millisecond
	const maxBackoff = time.Second

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil, ErrListenerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(backoff)
				if backoff *= 2; backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			return nil, err
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			_ = conn.Close()
			return nil, ErrNotTCPConn
		}

		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)

		return newConn(tcpConn, types.DirectionInbound), nil
	}
}

// Addr 返回实际监听地址
func (l *Listener) Addr() types.HostPort {
	return l.addr
}

// Port 返回实际监听端口
func (l *Listener) Port() uint16 {
	return l.addr.Port
}

// Close 关闭监听器（幂等）
func (l *Listener) Close() error {
	if l.closed.CompareAndSwap(false, true) {
		return l.listener.Close()
	}
	return nil
}

// IsClosed 检查监听器是否已关闭
func (l *Listener) IsClosed() bool {
	return l.closed.Load()
}
