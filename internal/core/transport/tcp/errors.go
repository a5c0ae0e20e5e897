package tcp

import "errors"

var (
	// ErrTransportClosed 传输层已关闭
	ErrTransportClosed = errors.New("tcp: transport closed")

	// ErrListenerClosed 监听器已关闭
	ErrListenerClosed = errors.New("tcp: listener closed")

	// ErrNotTCPConn 底层连接不是 TCP 连接
	ErrNotTCPConn = errors.New("tcp: not a tcp connection")

	// ErrNoBindAddress 没有可用的监听地址
	ErrNoBindAddress = errors.New("tcp: no bind address")
)
