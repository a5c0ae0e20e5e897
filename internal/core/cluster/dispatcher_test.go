package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

func TestDispatcherRegister(t *testing.T) {
	d := NewDispatcher()

	require.NoError(t, d.RegisterHandler('D', func(types.PeerID, []byte) {}))
	assert.True(t, d.HasHandler('D'))
	assert.False(t, d.HasHandler('E'))
}

func TestDispatcherRejectsReservedTag(t *testing.T) {
	d := NewDispatcher()
	err := d.RegisterHandler(types.HeartbeatTag, func(types.PeerID, []byte) {})
	assert.ErrorIs(t, err, ErrReservedTag)
}

func TestDispatcherRejectsDuplicate(t *testing.T) {
	d := NewDispatcher()

	require.NoError(t, d.RegisterHandler('D', func(types.PeerID, []byte) {}))
	err := d.RegisterHandler('D', func(types.PeerID, []byte) {})
	assert.ErrorIs(t, err, ErrDuplicateHandler)
}

func TestDispatcherRejectsWhileSessionActive(t *testing.T) {
	d := NewDispatcher()
	d.setSessionActive(true)

	err := d.RegisterHandler('D', func(types.PeerID, []byte) {})
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.ErrorIs(t, d.UnregisterHandler('D'), ErrSessionActive)

	// 会话结束后恢复可注册
	d.setSessionActive(false)
	assert.NoError(t, d.RegisterHandler('D', func(types.PeerID, []byte) {}))
}

func TestDispatcherDispatch(t *testing.T) {
	d := NewDispatcher()
	from := types.NewPeerID()

	var gotFrom types.PeerID
	var gotPayload []byte
	require.NoError(t, d.RegisterHandler('Q', func(f types.PeerID, p []byte) {
		gotFrom = f
		gotPayload = p
	}))

	d.dispatch('Q', from, []byte("query"))
	assert.Equal(t, from, gotFrom)
	assert.Equal(t, []byte("query"), gotPayload)
}

func TestDispatcherDropsUnknownTag(t *testing.T) {
	d := NewDispatcher()
	// 未注册标签：不 panic，静默丢弃
	assert.NotPanics(t, func() {
		d.dispatch('Z', types.NewPeerID(), []byte("dropped"))
	})
}

func TestDispatcherUnregister(t *testing.T) {
	d := NewDispatcher()

	require.NoError(t, d.RegisterHandler('D', func(types.PeerID, []byte) {}))
	require.NoError(t, d.UnregisterHandler('D'))
	assert.False(t, d.HasHandler('D'))

	// 注销后可重新注册
	assert.NoError(t, d.RegisterHandler('D', func(types.PeerID, []byte) {}))
}
