package handshake

import "errors"

var (
	// ErrBadMagic 对端未发送协议魔数（可能不是集群节点）
	ErrBadMagic = errors.New("handshake: bad magic header")

	// ErrVersionMismatch 协议主版本不兼容
	ErrVersionMismatch = errors.New("handshake: incompatible protocol version")

	// ErrArchMismatch 架构位宽不一致
	ErrArchMismatch = errors.New("handshake: architecture mismatch")

	// ErrBuildModeMismatch 构建模式不一致
	ErrBuildModeMismatch = errors.New("handshake: build mode mismatch")

	// ErrUnexpectedPeer 对端身份与期望不符
	ErrUnexpectedPeer = errors.New("handshake: unexpected peer identity")

	// ErrMalformed 握手数据格式非法
	ErrMalformed = errors.New("handshake: malformed message")
)
