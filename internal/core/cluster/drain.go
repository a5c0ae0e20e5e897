package cluster

import (
	"sync"
)

// ============================================================================
//                              Drainer - 排空令牌
// ============================================================================

// Drainer 连接的排空令牌
//
// 连接的使用方在操作期间持有引用，连接丢失时 Done 通道恰好
// 关闭一次，最终销毁等到所有引用释放。这样"连接还在"与"连接
// 可以安全拆除"之间没有竞争窗口。
type Drainer struct {
	mu       sync.Mutex
	refs     int
	draining bool
	done     chan struct{} // 排空开始时关闭（丢失信号）
	idle     chan struct{} // 引用归零且已排空时关闭
}

// newDrainer 创建排空令牌
func newDrainer() *Drainer {
	return &Drainer{
		done: make(chan struct{}),
		idle: make(chan struct{}),
	}
}

// Acquire 获取一个引用
//
// 排空已开始时返回 ErrConnectionDraining。成功时必须配对调用
// Release。
func (d *Drainer) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining {
		return ErrConnectionDraining
	}
	d.refs++
	return nil
}

// Release 释放一个引用
func (d *Drainer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.refs <= 0 {
		panic("cluster: drainer release without acquire")
	}
	d.refs--
	if d.refs == 0 && d.draining {
		close(d.idle)
	}
}

// Done 返回丢失信号通道
//
// 排空开始时恰好关闭一次。持有引用的使用方应监听该通道以便
// 及时中止依赖此连接的操作。
func (d *Drainer) Done() <-chan struct{} {
	return d.done
}

// IsDraining 检查排空是否已开始
func (d *Drainer) IsDraining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}

// Drain 开始排空并阻塞到所有引用释放
//
// 幂等：后续调用等待同一次排空完成。
func (d *Drainer) Drain() {
	d.mu.Lock()
	if !d.draining {
		d.draining = true
		close(d.done)
		if d.refs == 0 {
			close(d.idle)
		}
	}
	d.mu.Unlock()

	<-d.idle
}
