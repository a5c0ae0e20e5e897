package cluster

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dbmesh/internal/core/eventbus"
	"github.com/dep2p/go-dbmesh/pkg/types"
)

func testLoopback(t *testing.T) *Connection {
	t.Helper()
	addr, err := types.ParseHostPort("127.0.0.1:29015")
	require.NoError(t, err)
	return newLoopbackConnection(types.NewPeerID(), types.PeerAddress{Candidates: []types.HostPort{addr}}, clock.New())
}

func TestDirectoryInsertGet(t *testing.T) {
	d := NewDirectory(eventbus.NewBus())
	conn := testLoopback(t)

	require.NoError(t, d.insert(conn))
	got, ok := d.Get(conn.peerID)
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.Equal(t, 1, d.Len())
}

func TestDirectoryRejectsDuplicate(t *testing.T) {
	d := NewDirectory(eventbus.NewBus())
	conn := testLoopback(t)

	require.NoError(t, d.insert(conn))

	// 同一对端的第二个连接被拒绝
	dup := newLoopbackConnection(conn.peerID, conn.address, clock.New())
	assert.ErrorIs(t, d.insert(dup), ErrDuplicateConnection)
	assert.Equal(t, 1, d.Len())
}

func TestDirectoryRemoveIdempotent(t *testing.T) {
	d := NewDirectory(eventbus.NewBus())
	conn := testLoopback(t)

	require.NoError(t, d.insert(conn))
	d.remove(conn, types.DisconnectReasonGraceful, nil)
	assert.Equal(t, 0, d.Len())

	// 二次移除是空操作
	assert.NotPanics(t, func() {
		d.remove(conn, types.DisconnectReasonGraceful, nil)
	})
}

func TestDirectoryRemoveComparesPointer(t *testing.T) {
	d := NewDirectory(eventbus.NewBus())
	conn := testLoopback(t)
	require.NoError(t, d.insert(conn))

	// 同 ID 不同实例的移除不生效：防止旧连接的收尾误删新连接
	stale := newLoopbackConnection(conn.peerID, conn.address, clock.New())
	d.remove(stale, types.DisconnectReasonError, nil)

	got, ok := d.Get(conn.peerID)
	require.True(t, ok)
	assert.Same(t, conn, got)
}

func TestDirectorySnapshotIsStable(t *testing.T) {
	d := NewDirectory(eventbus.NewBus())
	a := testLoopback(t)
	b := testLoopback(t)

	require.NoError(t, d.insert(a))
	snap := d.Snapshot()
	require.NoError(t, d.insert(b))

	// 旧快照不受后续写入影响
	assert.Len(t, snap, 1)
	assert.Len(t, d.Snapshot(), 2)
}

func TestDirectoryEvents(t *testing.T) {
	d := NewDirectory(eventbus.NewBus())

	connSub, err := d.Subscribe(new(types.EvtPeerConnected))
	require.NoError(t, err)
	defer connSub.Close()
	discSub, err := d.Subscribe(new(types.EvtPeerDisconnected))
	require.NoError(t, err)
	defer discSub.Close()

	conn := testLoopback(t)
	require.NoError(t, d.insert(conn))

	select {
	case raw := <-connSub.Out():
		evt := raw.(types.EvtPeerConnected)
		assert.Equal(t, conn.peerID, evt.PeerID)
		assert.Equal(t, types.DirectionLoopback, evt.Direction)
	case <-time.After(time.Second):
		t.Fatal("未收到上线事件")
	}

	d.remove(conn, types.DisconnectReasonTimeout, nil)

	select {
	case raw := <-discSub.Out():
		evt := raw.(types.EvtPeerDisconnected)
		assert.Equal(t, conn.peerID, evt.PeerID)
		assert.Equal(t, types.DisconnectReasonTimeout, evt.Reason)
	case <-time.After(time.Second):
		t.Fatal("未收到下线事件")
	}
}
