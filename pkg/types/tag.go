package types

import "strconv"

// ============================================================================
//                              MessageTag - 消息标签
// ============================================================================

// MessageTag 消息分发标签
//
// 每条应用消息以单字节标签开头，接收端按标签查表分发给对应的
// 处理器。标签空间固定为 256 个槽位。
type MessageTag byte

// NumMessageTags 标签空间大小
const NumMessageTags = 256

// HeartbeatTag 心跳消息标签（'H'）
//
// 永久保留给心跳管理器，应用处理器不得注册该标签。
const HeartbeatTag MessageTag = 'H'

// String 返回标签的字符串表示
//
// 可打印 ASCII 标签返回 'X' 形式，其余返回十进制数值。
func (t MessageTag) String() string {
	if t >= 0x21 && t <= 0x7e {
		return "'" + string(rune(t)) + "'"
	}
	return strconv.Itoa(int(t))
}

// IsReserved 检查标签是否为系统保留标签
func (t MessageTag) IsReserved() bool {
	return t == HeartbeatTag
}

// ============================================================================
//                              Direction - 连接方向
// ============================================================================

// Direction 连接建立方向
type Direction int

const (
	// DirectionUnknown 未知方向
	DirectionUnknown Direction = iota
	// DirectionInbound 入站连接（对端拨入）
	DirectionInbound
	// DirectionOutbound 出站连接（本端拨出）
	DirectionOutbound
	// DirectionLoopback 回环连接（节点与自身）
	DirectionLoopback
)

// String 返回方向的字符串表示
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	case DirectionLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}
