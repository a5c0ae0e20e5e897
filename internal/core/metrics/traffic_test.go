package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

func TestTrafficCounter(t *testing.T) {
	tc := NewTrafficCounter()
	p1 := types.NewPeerID()
	p2 := types.NewPeerID()

	tc.LogSentMessage(100, p1)
	tc.LogSentMessage(50, p2)
	tc.LogRecvMessage(30, p1)

	assert.Equal(t, Stats{BytesIn: 30, BytesOut: 100, MsgsIn: 1, MsgsOut: 1}, tc.StatsForPeer(p1))
	assert.Equal(t, Stats{BytesOut: 50, MsgsOut: 1}, tc.StatsForPeer(p2))
	assert.Equal(t, Stats{BytesIn: 30, BytesOut: 150, MsgsIn: 1, MsgsOut: 2}, tc.Totals())

	byPeer := tc.ByPeer()
	assert.Len(t, byPeer, 2)
	assert.Equal(t, int64(100), byPeer[p1].BytesOut)
}

func TestTrafficCounterUnknownPeer(t *testing.T) {
	tc := NewTrafficCounter()
	assert.Equal(t, Stats{}, tc.StatsForPeer(types.NewPeerID()))
}

func TestTrafficCounterRemovePeer(t *testing.T) {
	tc := NewTrafficCounter()
	p := types.NewPeerID()

	tc.LogSentMessage(10, p)
	tc.RemovePeer(p)

	assert.Equal(t, Stats{}, tc.StatsForPeer(p))
	// 总量不回退
	assert.Equal(t, int64(10), tc.Totals().BytesOut)
}

func TestTrafficCounterReset(t *testing.T) {
	tc := NewTrafficCounter()
	p := types.NewPeerID()

	tc.LogSentMessage(10, p)
	tc.LogRecvMessage(10, p)
	tc.Reset()

	assert.Equal(t, Stats{}, tc.Totals())
	assert.Empty(t, tc.ByPeer())
}

func TestTrafficCounterConcurrent(t *testing.T) {
	tc := NewTrafficCounter()
	p := types.NewPeerID()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tc.LogSentMessage(1, p)
				tc.LogRecvMessage(1, p)
			}
		}()
	}
	wg.Wait()

	stats := tc.StatsForPeer(p)
	assert.Equal(t, int64(8000), stats.BytesOut)
	assert.Equal(t, int64(8000), stats.BytesIn)
	assert.Equal(t, int64(8000), stats.MsgsOut)
	assert.Equal(t, int64(8000), stats.MsgsIn)
}
