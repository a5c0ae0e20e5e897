package types

import (
	"time"
)

// ============================================================================
//                              Event - 事件接口
// ============================================================================

// Event 基础事件接口
type Event interface {
	// Type 返回事件类型
	Type() string

	// Timestamp 返回事件时间戳
	Timestamp() time.Time
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType string
	Time      time.Time
}

// Type 返回事件类型
func (e BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
	}
}

// ============================================================================
//                              连接事件
// ============================================================================

// DisconnectReason 断开原因类型
type DisconnectReason int

const (
	// DisconnectReasonUnknown 未知原因
	DisconnectReasonUnknown DisconnectReason = iota
	// DisconnectReasonGraceful 优雅断开（对端主动关闭）
	DisconnectReasonGraceful
	// DisconnectReasonTimeout 心跳超时断开
	DisconnectReasonTimeout
	// DisconnectReasonError 连接错误导致断开
	DisconnectReasonError
	// DisconnectReasonLocal 本地主动关闭连接
	DisconnectReasonLocal
)

// String 返回断开原因的字符串表示
func (r DisconnectReason) String() string {
	switch r {
	case DisconnectReasonGraceful:
		return "graceful"
	case DisconnectReasonTimeout:
		return "timeout"
	case DisconnectReasonError:
		return "error"
	case DisconnectReasonLocal:
		return "local"
	default:
		return "unknown"
	}
}

// EvtPeerConnected 节点连接事件
//
// 在连接完成握手并加入连接目录后发布。
type EvtPeerConnected struct {
	BaseEvent
	PeerID    PeerID
	Address   PeerAddress
	Direction Direction
}

// EvtPeerDisconnected 节点断开事件
//
// 在连接从连接目录移除后发布。
type EvtPeerDisconnected struct {
	BaseEvent
	PeerID PeerID
	Reason DisconnectReason
	Error  error // 仅 Reason=Error 时有效
}
