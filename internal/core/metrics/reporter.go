// Package metrics 实现集群流量统计
//
// 跟踪本地节点与每个对端之间收发的字节数和消息数。
// 计数器在消息收发热路径上更新，全部使用原子操作。
package metrics

import (
	"github.com/dep2p/go-dbmesh/pkg/types"
)

// Stats 流量统计快照
type Stats struct {
	// BytesIn 接收字节数
	BytesIn int64
	// BytesOut 发送字节数
	BytesOut int64
	// MsgsIn 接收消息数
	MsgsIn int64
	// MsgsOut 发送消息数
	MsgsOut int64
}

// Reporter 提供记录和检索流量指标的方法
type Reporter interface {
	// LogSentMessage 记录发往指定对端的消息
	LogSentMessage(size int64, peer types.PeerID)

	// LogRecvMessage 记录来自指定对端的消息
	LogRecvMessage(size int64, peer types.PeerID)

	// StatsForPeer 获取单个对端的流量统计
	StatsForPeer(peer types.PeerID) Stats

	// Totals 获取总流量统计
	Totals() Stats

	// ByPeer 获取所有对端的流量统计
	ByPeer() map[types.PeerID]Stats

	// RemovePeer 清理断开对端的统计
	RemovePeer(peer types.PeerID)

	// Reset 重置所有统计
	Reset()
}

// 确保 TrafficCounter 实现 Reporter 接口
var _ Reporter = (*TrafficCounter)(nil)
