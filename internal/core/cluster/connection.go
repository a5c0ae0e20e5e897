package cluster

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
//                              Connection
// ============================================================================

// Connection 到一个对端的集群连接
//
// 回环连接（节点与自身）没有底层套接字，发送走进程内快速路径。
// 发送互斥锁保证同一连接上的帧按调用顺序上线；回环分发也在该
// 锁内同步执行，使回环与真实连接的顺序语义一致。
type Connection struct {
	peerID    types.PeerID
	address   types.PeerAddress
	version   string
	direction types.Direction

	// conn/bw 仅非回环连接持有
	conn net.Conn
	bw   *bufio.Writer

	// sendMu 串行化本连接上的全部写入（含心跳）
	sendMu sync.Mutex

	drainer *Drainer

	// clk 与会话共用的时钟源，活性时间戳据此生成
	clk clock.Clock

	// lastSeen 最近一次收到入站帧的时间（UnixNano），活性检测用
	lastSeen atomic.Int64

	killed     atomic.Bool
	killReason atomic.Int32
}

// newConnection 创建非回环连接
func newConnection(conn net.Conn, peerID types.PeerID, addr types.PeerAddress, version string, dir types.Direction, clk clock.Clock) *Connection {
	c := &Connection{
		peerID:    peerID,
		address:   addr,
		version:   version,
		direction: dir,
		conn:      conn,
		bw:        bufio.NewWriter(conn),
		drainer:   newDrainer(),
		clk:       clk,
	}
	c.touch()
	return c
}

// newLoopbackConnection 创建回环连接
func newLoopbackConnection(peerID types.PeerID, addr types.PeerAddress, clk clock.Clock) *Connection {
	c := &Connection{
		peerID:    peerID,
		address:   addr,
		version:   "local",
		direction: types.DirectionLoopback,
		drainer:   newDrainer(),
		clk:       clk,
	}
	c.touch()
	return c
}

// PeerID 返回对端节点 ID
func (c *Connection) PeerID() types.PeerID {
	return c.peerID
}

// Address 返回对端地址候选集
func (c *Connection) Address() types.PeerAddress {
	return c.address
}

// Version 返回对端协议版本
func (c *Connection) Version() string {
	return c.version
}

// Direction 返回连接建立方向
func (c *Connection) Direction() types.Direction {
	return c.direction
}

// IsLoopback 检查是否为回环连接
func (c *Connection) IsLoopback() bool {
	return c.direction == types.DirectionLoopback
}

// Drainer 返回连接的排空令牌
func (c *Connection) Drainer() *Drainer {
	return c.drainer
}

// touch 记录入站活动时间
func (c *Connection) touch() {
	c.lastSeen.Store(c.clk.Now().UnixNano())
}

// LastSeen 返回最近一次入站活动时间
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Kill 强制断开连接
//
// 关闭底层套接字使读循环立即退出，随后由会话完成目录移除和
// 排空。回环连接没有套接字，只随会话整体拆除，Kill 是空操作。
func (c *Connection) Kill(reason types.DisconnectReason) {
	if c.IsLoopback() {
		return
	}
	if c.killed.CompareAndSwap(false, true) {
		c.killReason.Store(int32(reason))
		_ = c.conn.Close()
	}
}

// killedReason 返回 Kill 时记录的断开原因
//
// 未被 Kill 过返回 (0, false)。
func (c *Connection) killedReason() (types.DisconnectReason, bool) {
	if !c.killed.Load() {
		return types.DisconnectReasonUnknown, false
	}
	return types.DisconnectReason(c.killReason.Load()), true
}
