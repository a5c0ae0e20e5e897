package cluster

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-dbmesh/pkg/lib/log"
	"github.com/dep2p/go-dbmesh/pkg/types"
)

var logger = log.Logger("core/cluster")

// ============================================================================
//                              Dispatcher - 消息分发
// ============================================================================

// Handler 消息处理函数
//
// 在连接的读循环 goroutine 中同步调用：同一连接上的消息严格
// 按到达顺序处理，处理器阻塞会反压该连接。
type Handler func(from types.PeerID, payload []byte)

// Dispatcher 按标签分发入站消息
//
// 256 个槽位的固定处理器表。处理器只能在没有会话运行时注册，
// 注册成功后在进程生命期内保持不变，分发路径因此无需加锁。
type Dispatcher struct {
	mu       sync.Mutex
	handlers [types.NumMessageTags]atomic.Pointer[Handler]

	// sessionActive 有会话运行时禁止注册
	sessionActive atomic.Bool
}

// NewDispatcher 创建消息分发器
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// RegisterHandler 注册标签处理器
//
// 保留标签、重复注册、会话运行期间注册均被拒绝。
func (d *Dispatcher) RegisterHandler(tag types.MessageTag, h Handler) error {
	if tag.IsReserved() {
		return ErrReservedTag
	}
	if h == nil {
		return ErrDuplicateHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessionActive.Load() {
		return ErrSessionActive
	}
	if d.handlers[tag].Load() != nil {
		return ErrDuplicateHandler
	}
	d.handlers[tag].Store(&h)
	return nil
}

// UnregisterHandler 注销标签处理器
//
// 同样只允许在没有会话运行时调用。
func (d *Dispatcher) UnregisterHandler(tag types.MessageTag) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessionActive.Load() {
		return ErrSessionActive
	}
	d.handlers[tag].Store(nil)
	return nil
}

// HasHandler 检查标签是否已注册处理器
func (d *Dispatcher) HasHandler(tag types.MessageTag) bool {
	return d.handlers[tag].Load() != nil
}

// dispatch 分发一条入站消息
//
// 未注册标签的消息丢弃并记录警告。
func (d *Dispatcher) dispatch(tag types.MessageTag, from types.PeerID, payload []byte) {
	hp := d.handlers[tag].Load()
	if hp == nil {
		logger.Warn("丢弃未注册标签的消息",
			"tag", tag.String(),
			"from", from.ShortString(),
			"size", len(payload))
		return
	}
	(*hp)(from, payload)
}

// setSessionActive 由会话启动/停止时调用
//
// 与 mu 配合保证：标记置位后不会再有新的处理器写入。
func (d *Dispatcher) setSessionActive(active bool) {
	d.mu.Lock()
	d.sessionActive.Store(active)
	d.mu.Unlock()
}
