package tcp

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
//                              Conn 实现
// ============================================================================

// Conn 原始 TCP 连接的薄包装
//
// 记录方向与建立时间，保证 Close 幂等。帧编解码由上层完成，
// 本类型只透传字节流。
type Conn struct {
	conn      *net.TCPConn
	direction types.Direction
	opened    time.Time
	closed    atomic.Bool
}

// 确保实现 net.Conn 接口
var _ net.Conn = (*Conn)(nil)

// newConn 包装一条已建立的 TCP 连接
func newConn(conn *net.TCPConn, dir types.Direction) *Conn {
	return &Conn{
		conn:      conn,
		direction: dir,
		opened:    time.Now(),
	}
}

// Read 从连接读取数据
func (c *Conn) Read(b []byte) (int, error) {
	return c.conn.Read(b)
}

// Write 向连接写入数据
func (c *Conn) Write(b []byte) (int, error) {
	return c.conn.Write(b)
}

// Close 关闭连接（幂等）
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// LocalAddr 返回本地地址
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr 返回远端地址
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline 设置读写截止时间
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline 设置读截止时间
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline 设置写截止时间
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Direction 返回连接建立方向
func (c *Conn) Direction() types.Direction {
	return c.direction
}

// Opened 返回连接建立时间
func (c *Conn) Opened() time.Time {
	return c.opened
}

// IsClosed 检查连接是否已关闭
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}
