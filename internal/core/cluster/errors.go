package cluster

import "errors"

var (
	// ErrSessionActive 会话运行期间禁止的操作（如注册处理器）
	ErrSessionActive = errors.New("cluster: session is active")

	// ErrSessionNotActive 会话未运行
	ErrSessionNotActive = errors.New("cluster: session not active")

	// ErrSessionStopped 会话已停止，不可重新启动
	ErrSessionStopped = errors.New("cluster: session stopped")

	// ErrPeerNotConnected 目标节点当前没有连接
	ErrPeerNotConnected = errors.New("cluster: peer not connected")

	// ErrReservedTag 标签为系统保留，不可注册
	ErrReservedTag = errors.New("cluster: message tag is reserved")

	// ErrDuplicateHandler 标签已注册处理器
	ErrDuplicateHandler = errors.New("cluster: handler already registered for tag")

	// ErrDuplicateConnection 同一对端已存在连接
	ErrDuplicateConnection = errors.New("cluster: duplicate connection to peer")

	// ErrConnectionDraining 连接正在排空，不再接受新的引用
	ErrConnectionDraining = errors.New("cluster: connection draining")

	// ErrFrameTooLarge 帧长度超出上限（帧本身可解析，连接保留）
	ErrFrameTooLarge = errors.New("cluster: frame exceeds size limit")

	// ErrMalformedFrame 帧头无法解析（字节流已失去同步，连接关闭）
	ErrMalformedFrame = errors.New("cluster: malformed frame header")
)
