package cluster

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-dbmesh/internal/core/eventbus"
	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
//                              Directory - 连接目录
// ============================================================================

// Directory 当前已连接对端的目录
//
// 查询走写时复制快照（atomic.Value），稳态读取不加锁；插入和
// 移除由单个写者互斥锁串行化，并通过事件总线广播变更。快照是
// 不可变 map，读者拿到后可以随意遍历。
type Directory struct {
	writeMu  sync.Mutex
	snapshot atomic.Value // map[types.PeerID]*Connection

	bus *eventbus.Bus

	emitterMu   sync.Mutex
	connEmitter *eventbus.Emitter
	discEmitter *eventbus.Emitter
}

// NewDirectory 创建连接目录
func NewDirectory(bus *eventbus.Bus) *Directory {
	d := &Directory{bus: bus}
	d.snapshot.Store(map[types.PeerID]*Connection{})
	return d
}

// Get 按节点 ID 查找连接
func (d *Directory) Get(id types.PeerID) (*Connection, bool) {
	conn, ok := d.load()[id]
	return conn, ok
}

// Snapshot 返回当前全部连接的快照
//
// 返回的 map 不可修改。
func (d *Directory) Snapshot() map[types.PeerID]*Connection {
	return d.load()
}

// Len 返回当前连接数（含回环）
func (d *Directory) Len() int {
	return len(d.load())
}

// Subscribe 订阅连接事件
//
// eventType 为 new(types.EvtPeerConnected) 或
// new(types.EvtPeerDisconnected)。
func (d *Directory) Subscribe(eventType interface{}, opts ...eventbus.SubscriptionOpt) (*eventbus.Subscription, error) {
	return d.bus.Subscribe(eventType, opts...)
}

func (d *Directory) load() map[types.PeerID]*Connection {
	return d.snapshot.Load().(map[types.PeerID]*Connection)
}

// ============================================================================
//                              写路径（会话内部）
// ============================================================================

// insert 插入连接并广播上线事件
//
// 同一对端已有连接时返回 ErrDuplicateConnection；会话的注册
// 互斥锁保证正常路径不会走到这一步，这里是最后一道防线。
func (d *Directory) insert(conn *Connection) error {
	d.writeMu.Lock()

	old := d.load()
	if _, exists := old[conn.peerID]; exists {
		d.writeMu.Unlock()
		return ErrDuplicateConnection
	}

	next := make(map[types.PeerID]*Connection, len(old)+1)
	for id, c := range old {
		next[id] = c
	}
	next[conn.peerID] = conn
	d.snapshot.Store(next)
	d.writeMu.Unlock()

	d.emitConnected(conn)
	return nil
}

// remove 移除连接并广播下线事件
//
// 目录中不存在该连接时是空操作（幂等）。
func (d *Directory) remove(conn *Connection, reason types.DisconnectReason, cause error) {
	d.writeMu.Lock()

	old := d.load()
	if existing, ok := old[conn.peerID]; !ok || existing != conn {
		d.writeMu.Unlock()
		return
	}

	next := make(map[types.PeerID]*Connection, len(old)-1)
	for id, c := range old {
		if id != conn.peerID {
			next[id] = c
		}
	}
	d.snapshot.Store(next)
	d.writeMu.Unlock()

	d.emitDisconnected(conn, reason, cause)
}

// ============================================================================
//                              事件发布
// ============================================================================

func (d *Directory) emitConnected(conn *Connection) {
	d.emitterMu.Lock()
	if d.connEmitter == nil {
		em, err := d.bus.Emitter(new(types.EvtPeerConnected))
		if err != nil {
			d.emitterMu.Unlock()
			return
		}
		d.connEmitter = em
	}
	em := d.connEmitter
	d.emitterMu.Unlock()

	_ = em.Emit(types.EvtPeerConnected{
		BaseEvent: types.NewBaseEvent("peer_connected"),
		PeerID:    conn.peerID,
		Address:   conn.address,
		Direction: conn.direction,
	})
}

func (d *Directory) emitDisconnected(conn *Connection, reason types.DisconnectReason, cause error) {
	d.emitterMu.Lock()
	if d.discEmitter == nil {
		em, err := d.bus.Emitter(new(types.EvtPeerDisconnected))
		if err != nil {
			d.emitterMu.Unlock()
			return
		}
		d.discEmitter = em
	}
	em := d.discEmitter
	d.emitterMu.Unlock()

	_ = em.Emit(types.EvtPeerDisconnected{
		BaseEvent: types.NewBaseEvent("peer_disconnected"),
		PeerID:    conn.peerID,
		Reason:    reason,
		Error:     cause,
	})
}
