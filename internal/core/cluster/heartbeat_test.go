package cluster

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

func testConnPair(t *testing.T, clk clock.Clock) (*Connection, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	addr, err := types.ParseHostPort("127.0.0.1:29015")
	require.NoError(t, err)
	conn := newConnection(local, types.NewPeerID(),
		types.PeerAddress{Candidates: []types.HostPort{addr}},
		"2.0", types.DirectionOutbound, clk)
	return conn, remote
}

func TestHeartbeatSendsOnInterval(t *testing.T) {
	mock := clock.NewMock()
	conn, _ := testConnPair(t, mock)

	sent := make(chan struct{}, 16)
	hb := newHeartbeatManager(mock, time.Second, time.Hour, func(*Connection) error {
		sent <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		hb.run(ctx, conn)
		close(done)
	}()

	// 让 goroutine 进入 select 后再推进时钟
	time.Sleep(10 * time.Millisecond)
	mock.Add(time.Second)

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("间隔到期后未发送心跳")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("取消后心跳循环未退出")
	}
	assert.False(t, conn.killed.Load())
}

func TestHeartbeatKillsOnLivenessTimeout(t *testing.T) {
	mock := clock.NewMock()
	conn, _ := testConnPair(t, mock)

	hb := newHeartbeatManager(mock, time.Second, 500*time.Millisecond, func(*Connection) error {
		return nil
	})

	done := make(chan struct{})
	go func() {
		hb.run(context.Background(), conn)
		close(done)
	}()

	// 对端静默超过超时阈值：第一个 tick 即判死
	time.Sleep(10 * time.Millisecond)
	mock.Add(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("活性超时后心跳循环未退出")
	}

	reason, ok := conn.killedReason()
	require.True(t, ok)
	assert.Equal(t, types.DisconnectReasonTimeout, reason)
}

func TestHeartbeatTouchDefersTimeout(t *testing.T) {
	mock := clock.NewMock()
	conn, _ := testConnPair(t, mock)

	hb := newHeartbeatManager(mock, time.Second, 1500*time.Millisecond, func(*Connection) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		hb.run(ctx, conn)
		close(done)
	}()

	// 每个 tick 前都有入站活动，连接保持存活
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		conn.touch()
		mock.Add(time.Second)
	}
	assert.False(t, conn.killed.Load())

	cancel()
	<-done
}

func TestHeartbeatExitsOnDrain(t *testing.T) {
	mock := clock.NewMock()
	conn, _ := testConnPair(t, mock)

	hb := newHeartbeatManager(mock, time.Second, time.Hour, func(*Connection) error {
		return nil
	})

	done := make(chan struct{})
	go func() {
		hb.run(context.Background(), conn)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	conn.drainer.Drain()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("排空后心跳循环未退出")
	}
}

func TestHeartbeatExitsOnSendError(t *testing.T) {
	mock := clock.NewMock()
	conn, _ := testConnPair(t, mock)

	hb := newHeartbeatManager(mock, time.Second, time.Hour, func(*Connection) error {
		return errors.New("broken pipe")
	})

	done := make(chan struct{})
	go func() {
		hb.run(context.Background(), conn)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	mock.Add(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("发送失败后心跳循环未退出")
	}
	assert.False(t, conn.killed.Load())
}
