package cluster

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dbmesh/internal/core/eventbus"
	"github.com/dep2p/go-dbmesh/internal/core/metrics"
	"github.com/dep2p/go-dbmesh/pkg/types"
)

// testNode 囊括一个会话及其依赖，方便端到端场景搭多个节点
type testNode struct {
	id         types.PeerID
	dispatcher *Dispatcher
	directory  *Directory
	reporter   *metrics.TrafficCounter
	session    *Session
}

// newTestNode 创建绑定回环临时端口的节点，不启动
func newTestNode(t *testing.T, opts ...Option) *testNode {
	t.Helper()

	n := &testNode{
		id:         types.NewPeerID(),
		dispatcher: NewDispatcher(),
		directory:  NewDirectory(eventbus.NewBus()),
		reporter:   metrics.NewTrafficCounter(),
	}

	opts = append([]Option{
		WithBindHosts("127.0.0.1"),
		WithPort(0),
	}, opts...)

	sess, err := NewSession(n.id, n.dispatcher, n.directory, n.reporter, opts...)
	require.NoError(t, err)
	n.session = sess
	t.Cleanup(func() { _ = sess.Stop() })
	return n
}

func startTestNode(t *testing.T, opts ...Option) *testNode {
	t.Helper()
	n := newTestNode(t, opts...)
	require.NoError(t, n.session.Start())
	return n
}

func (n *testNode) addr() types.HostPort {
	return types.HostPort{Host: "127.0.0.1", Port: n.session.Port()}
}

// waitConnected 等到 a 和 b 互相出现在对方目录里
func waitConnected(t *testing.T, a, b *testNode) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, aSeesB := a.directory.Get(b.id)
		_, bSeesA := b.directory.Get(a.id)
		return aSeesB && bSeesA
	}, 5*time.Second, 10*time.Millisecond, "节点 %s 与 %s 未建立连接",
		a.id.ShortString(), b.id.ShortString())
}

// ============================================================================
//                              单节点
// ============================================================================

func TestSessionLoneNodeHasLoopback(t *testing.T) {
	n := startTestNode(t)

	require.Equal(t, 1, n.directory.Len())
	conn, ok := n.directory.Get(n.id)
	require.True(t, ok)
	assert.True(t, conn.IsLoopback())
	assert.True(t, n.session.IsActive())
}

func TestSessionLoopbackSend(t *testing.T) {
	n := newTestNode(t)

	got := make(chan []byte, 1)
	require.NoError(t, n.dispatcher.RegisterHandler('E', func(from types.PeerID, payload []byte) {
		require.Equal(t, n.id, from)
		got <- payload
	}))
	require.NoError(t, n.session.Start())

	require.NoError(t, n.session.Send(n.id, 'E', []byte("to self")))

	// 回环分发是同步的，消息在 Send 返回前已经交付
	select {
	case payload := <-got:
		assert.Equal(t, []byte("to self"), payload)
	default:
		t.Fatal("回环消息未同步交付")
	}

	stats := n.reporter.StatsForPeer(n.id)
	assert.Equal(t, int64(1), stats.MsgsOut)
	assert.Equal(t, int64(1), stats.MsgsIn)
}

func TestSessionSelfJoinIsNoop(t *testing.T) {
	n := startTestNode(t)

	n.session.Join(n.addr())

	// 自连被路由表（含自身）挡下，目录始终只有回环
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, n.directory.Len())
}

func TestSessionSendChecks(t *testing.T) {
	n := newTestNode(t)

	// 未启动
	err := n.session.Send(types.NewPeerID(), 'E', nil)
	assert.ErrorIs(t, err, ErrSessionNotActive)

	require.NoError(t, n.session.Start())

	// 保留标签
	err = n.session.Send(n.id, types.HeartbeatTag, nil)
	assert.ErrorIs(t, err, ErrReservedTag)

	// 未连接对端
	err = n.session.Send(types.NewPeerID(), 'E', []byte("x"))
	assert.ErrorIs(t, err, ErrPeerNotConnected)
}

func TestSessionHandlerLockedWhileActive(t *testing.T) {
	n := startTestNode(t)

	err := n.dispatcher.RegisterHandler('E', func(types.PeerID, []byte) {})
	assert.ErrorIs(t, err, ErrSessionActive)
}

// ============================================================================
//                              生命周期
// ============================================================================

func TestSessionStopIdempotent(t *testing.T) {
	n := startTestNode(t)

	require.NoError(t, n.session.Stop())
	assert.False(t, n.session.IsActive())
	assert.Equal(t, 0, n.directory.Len())

	// 二次 Stop 是空操作
	assert.NoError(t, n.session.Stop())
}

func TestSessionNoRestart(t *testing.T) {
	n := startTestNode(t)

	require.NoError(t, n.session.Stop())
	assert.ErrorIs(t, n.session.Start(), ErrSessionStopped)
}

func TestSessionStopWithoutStart(t *testing.T) {
	n := newTestNode(t)

	// 未启动的会话 Stop 只释放监听器
	assert.NoError(t, n.session.Stop())
	assert.ErrorIs(t, n.session.Start(), ErrSessionStopped)
}

func TestSessionStopUnregistersHandlers(t *testing.T) {
	n := startTestNode(t)
	require.NoError(t, n.session.Stop())

	// 会话停止后处理器表解锁
	assert.NoError(t, n.dispatcher.RegisterHandler('E', func(types.PeerID, []byte) {}))
}

// ============================================================================
//                              双节点
// ============================================================================

func TestSessionTwoNodesConnect(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t)

	a.session.Join(b.addr())
	waitConnected(t, a, b)

	connAB, _ := a.directory.Get(b.id)
	connBA, _ := b.directory.Get(a.id)
	assert.Equal(t, types.DirectionOutbound, connAB.Direction())
	assert.Equal(t, types.DirectionInbound, connBA.Direction())
	assert.Equal(t, 2, a.directory.Len())
	assert.Equal(t, 2, b.directory.Len())
}

func TestSessionSendDelivers(t *testing.T) {
	a := startTestNode(t)

	got := make(chan []byte, 1)
	b := newTestNode(t)
	require.NoError(t, b.dispatcher.RegisterHandler('Q', func(from types.PeerID, payload []byte) {
		require.Equal(t, a.id, from)
		got <- payload
	}))
	require.NoError(t, b.session.Start())

	a.session.Join(b.addr())
	waitConnected(t, a, b)

	want := []byte{0x00, 0x01, 0xfe, 0xff, 'q', 'u', 'e', 'r', 'y'}
	require.NoError(t, a.session.Send(b.id, 'Q', want))

	select {
	case payload := <-got:
		assert.Equal(t, want, payload)
	case <-time.After(5 * time.Second):
		t.Fatal("消息未交付")
	}

	assert.Equal(t, int64(1), a.reporter.StatsForPeer(b.id).MsgsOut)
}

func TestSessionOrderingPerConnection(t *testing.T) {
	a := startTestNode(t)

	const total = 200
	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})

	b := newTestNode(t)
	require.NoError(t, b.dispatcher.RegisterHandler('S', func(_ types.PeerID, payload []byte) {
		mu.Lock()
		seen = append(seen, int(payload[0])<<8|int(payload[1]))
		if len(seen) == total {
			close(done)
		}
		mu.Unlock()
	}))
	require.NoError(t, b.session.Start())

	a.session.Join(b.addr())
	waitConnected(t, a, b)

	for i := 0; i < total; i++ {
		require.NoError(t, a.session.Send(b.id, 'S', []byte{byte(i >> 8), byte(i)}))
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("只收到 %d/%d 条消息", len(seen), total)
	}

	// 同一连接上的消息按发送顺序交付
	for i, v := range seen {
		require.Equal(t, i, v, "第 %d 条消息乱序", i)
	}
}

func TestSessionJoinIdempotent(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t)

	for i := 0; i < 5; i++ {
		a.session.Join(b.addr())
	}
	waitConnected(t, a, b)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, a.directory.Len())
	assert.Equal(t, 2, b.directory.Len())
}

func TestSessionSimultaneousJoinConverges(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t)

	// 双方同时互拨：交叉连接的竞争必须收敛到每边恰好一条
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a.session.Join(b.addr()) }()
	go func() { defer wg.Done(); b.session.Join(a.addr()) }()
	wg.Wait()

	waitConnected(t, a, b)

	require.Eventually(t, func() bool {
		return a.directory.Len() == 2 && b.directory.Len() == 2
	}, 5*time.Second, 10*time.Millisecond)

	// 收敛后保持稳定
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, a.directory.Len())
	assert.Equal(t, 2, b.directory.Len())
}

func TestSessionKillRemovesBothSides(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t)

	discSub, err := b.directory.Subscribe(new(types.EvtPeerDisconnected))
	require.NoError(t, err)
	defer discSub.Close()

	a.session.Join(b.addr())
	waitConnected(t, a, b)

	conn, ok := a.directory.Get(b.id)
	require.True(t, ok)
	conn.Kill(types.DisconnectReasonLocal)

	require.Eventually(t, func() bool {
		_, aSeesB := a.directory.Get(b.id)
		_, bSeesA := b.directory.Get(a.id)
		return !aSeesB && !bSeesA
	}, 5*time.Second, 10*time.Millisecond, "强制断开后目录未清理")

	// 排空信号恰好触发一次
	select {
	case <-conn.Drainer().Done():
	case <-time.After(time.Second):
		t.Fatal("排空信号未触发")
	}

	// 被动端观察到断开事件
	select {
	case raw := <-discSub.Out():
		evt := raw.(types.EvtPeerDisconnected)
		assert.Equal(t, a.id, evt.PeerID)
	case <-time.After(5 * time.Second):
		t.Fatal("未收到断开事件")
	}

	// 断开后发送立即报错
	err = a.session.Send(b.id, 'E', []byte("late"))
	assert.ErrorIs(t, err, ErrPeerNotConnected)
}

func TestSessionStopDisconnectsPeers(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t)

	a.session.Join(b.addr())
	waitConnected(t, a, b)

	require.NoError(t, a.session.Stop())
	assert.Equal(t, 0, a.directory.Len())

	require.Eventually(t, func() bool {
		_, bSeesA := b.directory.Get(a.id)
		return !bSeesA
	}, 5*time.Second, 10*time.Millisecond, "对端停止后目录未清理")
}

// ============================================================================
//                              多节点
// ============================================================================

func TestSessionTransitiveJoin(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t)
	c := startTestNode(t)

	// a 和 c 都只认识 b，通过路由表交换互相发现
	a.session.Join(b.addr())
	waitConnected(t, a, b)
	c.session.Join(b.addr())

	nodes := []*testNode{a, b, c}
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if n.directory.Len() != 3 {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond, "传递性加入未形成全连接")
}

func TestSessionSeedsJoinOnStart(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t, WithSeeds(a.addr()))
	waitConnected(t, a, b)
}

func TestSessionMeshBroadcast(t *testing.T) {
	// 4 节点全连接后，任意一对节点可以直接互发
	const numNodes = 4
	type inbox struct {
		mu   sync.Mutex
		msgs map[types.PeerID]string
	}

	nodes := make([]*testNode, 0, numNodes)
	inboxes := make([]*inbox, 0, numNodes)
	for i := 0; i < numNodes; i++ {
		ib := &inbox{msgs: make(map[types.PeerID]string)}
		n := newTestNode(t)
		require.NoError(t, n.dispatcher.RegisterHandler('M', func(from types.PeerID, payload []byte) {
			ib.mu.Lock()
			ib.msgs[from] = string(payload)
			ib.mu.Unlock()
		}))
		require.NoError(t, n.session.Start())
		nodes = append(nodes, n)
		inboxes = append(inboxes, ib)
	}

	for i := 1; i < numNodes; i++ {
		nodes[i].session.Join(nodes[0].addr())
	}

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if n.directory.Len() != numNodes {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond, "网格未形成全连接")

	for i, n := range nodes {
		for j, other := range nodes {
			if i == j {
				continue
			}
			msg := fmt.Sprintf("from-%d-to-%d", i, j)
			require.NoError(t, n.session.Send(other.id, 'M', []byte(msg)))
		}
	}

	require.Eventually(t, func() bool {
		for _, ib := range inboxes {
			ib.mu.Lock()
			n := len(ib.msgs)
			ib.mu.Unlock()
			if n != numNodes-1 {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond, "网格消息未全部交付")
}
