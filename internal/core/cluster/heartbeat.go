package cluster

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
//                              心跳管理
// ============================================================================

// heartbeatManager 按固定间隔发送心跳并检测活性
//
// 每条非回环连接一个心跳 goroutine。任何入站帧（不只是心跳）
// 都会刷新活性时间；超过 timeout 未见入站帧就地 Kill 连接，
// 由读循环完成后续拆除。
type heartbeatManager struct {
	clk      clock.Clock
	interval time.Duration
	timeout  time.Duration

	// send 在连接上发送一个心跳帧
	send func(*Connection) error
}

// newHeartbeatManager 创建心跳管理器
func newHeartbeatManager(clk clock.Clock, interval, timeout time.Duration, send func(*Connection) error) *heartbeatManager {
	return &heartbeatManager{
		clk:      clk,
		interval: interval,
		timeout:  timeout,
		send:     send,
	}
}

// run 驱动一条连接的心跳，直到连接排空或 ctx 取消
func (m *heartbeatManager) run(ctx context.Context, conn *Connection) {
	ticker := m.clk.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.drainer.Done():
			return
		case <-ticker.C:
			if m.clk.Now().Sub(conn.LastSeen()) > m.timeout {
				logger.Warn("对端活性超时，断开连接",
					"peer", conn.peerID.ShortString(),
					"last_seen", conn.LastSeen(),
					"timeout", m.timeout)
				conn.Kill(types.DisconnectReasonTimeout)
				return
			}
			if err := m.send(conn); err != nil {
				// 发送失败说明连接已坏，读循环会观察到同一故障
				logger.Debug("心跳发送失败",
					"peer", conn.peerID.ShortString(),
					"err", err)
				return
			}
		}
	}
}
