package tcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

func TestListenerBind(t *testing.T) {
	t.Run("ephemeral port", func(t *testing.T) {
		l, err := NewListener("127.0.0.1", 0)
		require.NoError(t, err)
		defer l.Close()

		assert.NotZero(t, l.Port())
		assert.Equal(t, "127.0.0.1", l.Addr().Host)
	})

	t.Run("port conflict surfaces error", func(t *testing.T) {
		l, err := NewListener("127.0.0.1", 0)
		require.NoError(t, err)
		defer l.Close()

		_, err = NewListener("127.0.0.1", l.Port())
		assert.Error(t, err)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		l, err := NewListener("127.0.0.1", 0)
		require.NoError(t, err)

		require.NoError(t, l.Close())
		require.NoError(t, l.Close())
		assert.True(t, l.IsClosed())
	})
}

func TestDialAccept(t *testing.T) {
	tr := NewTransport(DefaultOptions())
	defer tr.Close()

	l, err := tr.Listen("127.0.0.1", 0)
	require.NoError(t, err)

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := tr.Dial(ctx, l.Addr())
	require.NoError(t, err)
	defer out.Close()

	select {
	case in := <-accepted:
		defer in.Close()
		assert.Equal(t, types.DirectionInbound, in.Direction())
		assert.Equal(t, types.DirectionOutbound, out.Direction())

		// 字节流透传
		_, err = out.Write([]byte("ping"))
		require.NoError(t, err)

		buf := make([]byte, 4)
		in.SetReadDeadline(time.Now().Add(time.Second))
		_, err = in.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf))
	case <-time.After(5 * time.Second):
		t.Fatal("接受连接超时")
	}
}

func TestDialFailure(t *testing.T) {
	tr := NewTransport(Options{DialTimeout: 500 * time.Millisecond})
	defer tr.Close()

	l, err := NewListener("127.0.0.1", 0)
	require.NoError(t, err)
	dead := l.Addr()
	require.NoError(t, l.Close())

	ctx := context.Background()
	_, err = tr.Dial(ctx, dead)
	assert.Error(t, err)
}

func TestTransportClose(t *testing.T) {
	tr := NewTransport(DefaultOptions())

	l, err := tr.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.ListenerCount())

	require.NoError(t, tr.Close())
	assert.True(t, tr.IsClosed())
	assert.True(t, l.IsClosed())

	_, err = tr.Dial(context.Background(), types.HostPort{Host: "127.0.0.1", Port: 1})
	assert.ErrorIs(t, err, ErrTransportClosed)

	_, err = tr.Listen("127.0.0.1", 0)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestAcceptAfterClose(t *testing.T) {
	l, err := NewListener("127.0.0.1", 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrListenerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept 未因关闭返回")
	}
}
