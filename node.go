package dbmesh

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-dbmesh/internal/core/cluster"
	"github.com/dep2p/go-dbmesh/internal/core/metrics"
	"github.com/dep2p/go-dbmesh/pkg/lib/log"
	"github.com/dep2p/go-dbmesh/pkg/types"
)

var logger = log.Logger("dbmesh")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int32

const (
	// StateIdle 空闲状态（已创建，未启动）
	StateIdle NodeState = iota

	// StateStarting 启动中
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopping 停止中
	StateStopping

	// StateStopped 已停止（不可重新启动）
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// 启动超时配置
const (
	// startTimeout Fx App 启动超时
	startTimeout = 30 * time.Second

	// stopTimeout Fx App 停止超时（含连接排空）
	stopTimeout = 30 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Handler 入站消息处理函数
//
// 在连接的读循环中同步调用：同一对端的消息严格按到达顺序处理。
type Handler func(from types.PeerID, payload []byte)

// PeerInfo 一个已连接对端的描述
type PeerInfo struct {
	// ID 对端节点 ID
	ID types.PeerID

	// Address 对端的地址候选集
	Address types.PeerAddress

	// Direction 连接建立方向
	Direction types.Direction

	// Version 对端协议版本
	Version string
}

// BandwidthStats 流量统计
type BandwidthStats struct {
	BytesIn  int64
	BytesOut int64
	MsgsIn   int64
	MsgsOut  int64
}

// Node dbmesh 集群节点
//
// Node 是用户与集群连接层交互的主入口，是聚合内部组件的门面。
// 每个 Node 持有一个随机生成的节点 ID，创建时即绑定监听端口，
// Start 后开始接受入站连接并加入种子节点。
//
// 使用示例：
//
//	node, err := dbmesh.New(
//	    dbmesh.WithListenPort(29015),
//	    dbmesh.WithSeeds("10.0.0.1:29015"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// 处理器必须在 Start 前注册
//	node.RegisterHandler('Q', queryHandler)
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close(ctx)
//
//	node.Send(peerID, 'Q', []byte("query"))
type Node struct {
	// id 本节点 ID，创建时随机生成
	id types.PeerID

	// opts 应用后的配置
	opts *options

	// app Fx 应用
	app *fx.App

	// 核心组件（由 Fx 注入）
	dispatcher *cluster.Dispatcher
	directory  *cluster.Directory
	reporter   metrics.Reporter
	session    *cluster.Session

	state atomic.Int32
}

// New 创建节点
//
// 应用全部选项、组装内部组件并绑定监听端口。端口被占用等绑定
// 错误在这里返回，而不是等到 Start。
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	if err := o.applyLogConfig(); err != nil {
		return nil, err
	}

	node := &Node{
		id:   types.NewPeerID(),
		opts: o,
	}

	app, err := buildFxApp(o, node)
	if err != nil {
		return nil, err
	}
	// 构造错误（监听端口被占用等）通过 app.Err 暴露
	if err := app.Err(); err != nil {
		return nil, err
	}
	node.app = app

	logger.Info("节点已创建",
		"peer", node.id.ShortString(),
		"port", node.session.Port())
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 开始接受入站连接并异步加入配置的种子节点。只能调用一次。
func (n *Node) Start(ctx context.Context) error {
	if !n.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		if NodeState(n.state.Load()) == StateRunning {
			return ErrAlreadyStarted
		}
		return ErrNodeClosed
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	if err := n.app.Start(startCtx); err != nil {
		n.state.Store(int32(StateStopped))
		return err
	}

	n.state.Store(int32(StateRunning))
	logger.Info("节点已启动",
		"peer", n.id.ShortString(),
		"addrs", n.session.LocalAddr().Strings())
	return nil
}

// Close 排空并关闭节点
//
// 断开全部连接并阻塞到所有后台 goroutine 退出。幂等，关闭后
// 节点不可重新启动。
func (n *Node) Close(ctx context.Context) error {
	// 未启动的节点也要释放已绑定的监听器
	if n.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		return n.session.Stop()
	}
	if !n.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	err := n.app.Stop(stopCtx)
	n.state.Store(int32(StateStopped))
	logger.Info("节点已关闭", "peer", n.id.ShortString())
	return err
}

// State 返回节点当前状态
func (n *Node) State() NodeState {
	return NodeState(n.state.Load())
}

// ════════════════════════════════════════════════════════════════════════════
//                              节点信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回本节点 ID
func (n *Node) ID() types.PeerID {
	return n.id
}

// Port 返回实际监听端口
func (n *Node) Port() uint16 {
	return n.session.Port()
}

// Addrs 返回全部监听地址
func (n *Node) Addrs() []types.HostPort {
	return n.session.Addrs()
}

// AdvertisedAddr 返回对外通告的地址候选集
func (n *Node) AdvertisedAddr() types.PeerAddress {
	return n.session.LocalAddr()
}

// ════════════════════════════════════════════════════════════════════════════
//                              消息收发
// ════════════════════════════════════════════════════════════════════════════

// RegisterHandler 注册标签处理器
//
// 只能在 Start 前调用：处理器表在节点运行期间保持不变，缺失
// 处理器的标签消息会被静默丢弃而不是乱序补投。
func (n *Node) RegisterHandler(tag types.MessageTag, h Handler) error {
	return n.dispatcher.RegisterHandler(tag, cluster.Handler(h))
}

// UnregisterHandler 注销标签处理器，同样只能在 Start 前调用
func (n *Node) UnregisterHandler(tag types.MessageTag) error {
	return n.dispatcher.UnregisterHandler(tag)
}

// Send 向指定对端发送一条带标签的消息
//
// 同一对端的发送按调用顺序交付。目标未连接时返回 ErrPeerNotFound。
func (n *Node) Send(peer types.PeerID, tag types.MessageTag, payload []byte) error {
	if NodeState(n.state.Load()) != StateRunning {
		return ErrNotStarted
	}
	err := n.session.Send(peer, tag, payload)
	if errors.Is(err, cluster.ErrPeerNotConnected) {
		return ErrPeerNotFound
	}
	return err
}

// ════════════════════════════════════════════════════════════════════════════
//                              集群成员
// ════════════════════════════════════════════════════════════════════════════

// Join 异步加入指定地址上的节点（"host:port"）
//
// 幂等：已连接或正在连接的地址是空操作。连接结果通过
// SubscribePeerConnected 观察。
func (n *Node) Join(addr string) error {
	if NodeState(n.state.Load()) != StateRunning {
		return ErrNotStarted
	}
	hp, err := types.ParseHostPort(addr)
	if err != nil {
		return ErrInvalidAddress
	}
	n.session.Join(hp)
	return nil
}

// Peer 返回指定对端的连接信息
func (n *Node) Peer(id types.PeerID) (PeerInfo, bool) {
	conn, ok := n.directory.Get(id)
	if !ok {
		return PeerInfo{}, false
	}
	return peerInfo(conn), true
}

// Peers 返回当前全部已连接对端（含本节点自身的回环连接）
func (n *Node) Peers() []PeerInfo {
	snap := n.directory.Snapshot()
	peers := make([]PeerInfo, 0, len(snap))
	for _, conn := range snap {
		peers = append(peers, peerInfo(conn))
	}
	return peers
}

// NumPeers 返回当前连接数（含回环）
func (n *Node) NumPeers() int {
	return n.directory.Len()
}

func peerInfo(conn *cluster.Connection) PeerInfo {
	return PeerInfo{
		ID:        conn.PeerID(),
		Address:   conn.Address(),
		Direction: conn.Direction(),
		Version:   conn.Version(),
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              事件订阅
// ════════════════════════════════════════════════════════════════════════════

// SubscribePeerConnected 订阅对端上线事件
//
// 返回事件通道和取消函数。订阅者消费过慢时事件会被丢弃而不是
// 阻塞连接处理。
func (n *Node) SubscribePeerConnected() (<-chan types.EvtPeerConnected, func(), error) {
	sub, err := n.directory.Subscribe(new(types.EvtPeerConnected))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan types.EvtPeerConnected, 16)
	go func() {
		defer close(out)
		for raw := range sub.Out() {
			out <- raw.(types.EvtPeerConnected)
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

// SubscribePeerDisconnected 订阅对端下线事件
func (n *Node) SubscribePeerDisconnected() (<-chan types.EvtPeerDisconnected, func(), error) {
	sub, err := n.directory.Subscribe(new(types.EvtPeerDisconnected))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan types.EvtPeerDisconnected, 16)
	go func() {
		defer close(out)
		for raw := range sub.Out() {
			out <- raw.(types.EvtPeerDisconnected)
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              流量统计
// ════════════════════════════════════════════════════════════════════════════

// Bandwidth 返回全部连接的累计流量
func (n *Node) Bandwidth() BandwidthStats {
	return bandwidthStats(n.reporter.Totals())
}

// BandwidthForPeer 返回与指定对端的累计流量
func (n *Node) BandwidthForPeer(id types.PeerID) BandwidthStats {
	return bandwidthStats(n.reporter.StatsForPeer(id))
}

func bandwidthStats(s metrics.Stats) BandwidthStats {
	return BandwidthStats{
		BytesIn:  s.BytesIn,
		BytesOut: s.BytesOut,
		MsgsIn:   s.MsgsIn,
		MsgsOut:  s.MsgsOut,
	}
}
