package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

// peerCounters 单个对端的计数器组
type peerCounters struct {
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	msgsIn   atomic.Int64
	msgsOut  atomic.Int64
}

func (pc *peerCounters) snapshot() Stats {
	return Stats{
		BytesIn:  pc.bytesIn.Load(),
		BytesOut: pc.bytesOut.Load(),
		MsgsIn:   pc.msgsIn.Load(),
		MsgsOut:  pc.msgsOut.Load(),
	}
}

// TrafficCounter 流量计数器
//
// 全局计数器直接用原子变量；对端计数器懒创建，创建后只做
// 原子加，map 锁只在查找和清理时持有。
type TrafficCounter struct {
	totalBytesIn  atomic.Int64
	totalBytesOut atomic.Int64
	totalMsgsIn   atomic.Int64
	totalMsgsOut  atomic.Int64

	peerMu sync.RWMutex
	peers  map[types.PeerID]*peerCounters
}

// NewTrafficCounter 创建新的流量计数器
func NewTrafficCounter() *TrafficCounter {
	return &TrafficCounter{
		peers: make(map[types.PeerID]*peerCounters),
	}
}

// forPeer 获取或创建对端计数器
func (tc *TrafficCounter) forPeer(peer types.PeerID) *peerCounters {
	tc.peerMu.RLock()
	pc, ok := tc.peers[peer]
	tc.peerMu.RUnlock()
	if ok {
		return pc
	}

	tc.peerMu.Lock()
	defer tc.peerMu.Unlock()
	if pc, ok = tc.peers[peer]; ok {
		return pc
	}
	pc = &peerCounters{}
	tc.peers[peer] = pc
	return pc
}

// LogSentMessage 记录发往指定对端的消息
func (tc *TrafficCounter) LogSentMessage(size int64, peer types.PeerID) {
	tc.totalBytesOut.Add(size)
	tc.totalMsgsOut.Add(1)

	pc := tc.forPeer(peer)
	pc.bytesOut.Add(size)
	pc.msgsOut.Add(1)
}

// LogRecvMessage 记录来自指定对端的消息
func (tc *TrafficCounter) LogRecvMessage(size int64, peer types.PeerID) {
	tc.totalBytesIn.Add(size)
	tc.totalMsgsIn.Add(1)

	pc := tc.forPeer(peer)
	pc.bytesIn.Add(size)
	pc.msgsIn.Add(1)
}

// StatsForPeer 返回单个对端的流量统计
func (tc *TrafficCounter) StatsForPeer(peer types.PeerID) Stats {
	tc.peerMu.RLock()
	pc, ok := tc.peers[peer]
	tc.peerMu.RUnlock()

	if !ok {
		return Stats{}
	}
	return pc.snapshot()
}

// Totals 返回总流量统计
func (tc *TrafficCounter) Totals() Stats {
	return Stats{
		BytesIn:  tc.totalBytesIn.Load(),
		BytesOut: tc.totalBytesOut.Load(),
		MsgsIn:   tc.totalMsgsIn.Load(),
		MsgsOut:  tc.totalMsgsOut.Load(),
	}
}

// ByPeer 返回所有对端的流量统计
func (tc *TrafficCounter) ByPeer() map[types.PeerID]Stats {
	tc.peerMu.RLock()
	defer tc.peerMu.RUnlock()

	result := make(map[types.PeerID]Stats, len(tc.peers))
	for peer, pc := range tc.peers {
		result[peer] = pc.snapshot()
	}
	return result
}

// RemovePeer 清理断开对端的统计
func (tc *TrafficCounter) RemovePeer(peer types.PeerID) {
	tc.peerMu.Lock()
	delete(tc.peers, peer)
	tc.peerMu.Unlock()
}

// Reset 清除所有统计
func (tc *TrafficCounter) Reset() {
	tc.totalBytesIn.Store(0)
	tc.totalBytesOut.Store(0)
	tc.totalMsgsIn.Store(0)
	tc.totalMsgsOut.Store(0)

	tc.peerMu.Lock()
	tc.peers = make(map[types.PeerID]*peerCounters)
	tc.peerMu.Unlock()
}
