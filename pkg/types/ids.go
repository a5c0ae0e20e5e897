package types

import (
	"errors"

	"github.com/google/uuid"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点唯一标识符
//
// 每个进程每次启动时随机生成（UUID v4），只在本次运行期内有效。
// 节点重启后会获得新的 PeerID，集群其他成员据此区分"同一地址上的
// 新实例"与"旧实例"。
//
// 外部表示格式：
//   - String(): 标准 UUID 字符串（日志、配置、调试）
//   - ShortString(): 前 8 个字符（日志简短标识）
type PeerID [16]byte

// PeerIDSize PeerID 的线上字节长度
const PeerIDSize = 16

// EmptyPeerID 空节点ID
var EmptyPeerID PeerID

// ErrInvalidPeerID 无效的节点ID错误
var ErrInvalidPeerID = errors.New("invalid peer ID")

// NewPeerID 生成新的随机 PeerID
//
// 使用密码学安全的随机源（UUID v4）。
func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

// String 返回 PeerID 的 UUID 字符串表示
func (id PeerID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return uuid.UUID(id).String()
}

// ShortString 返回 PeerID 的短字符串表示
//
// 格式：UUID 前 8 个字符，用于日志中的简短标识。
func (id PeerID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 PeerID 的字节切片
func (id PeerID) Bytes() []byte {
	return id[:]
}

// Equal 比较两个 PeerID 是否相等
func (id PeerID) Equal(other PeerID) bool {
	return id == other
}

// IsEmpty 检查 PeerID 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// PeerIDFromBytes 从字节切片创建 PeerID
func PeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != PeerIDSize {
		return EmptyPeerID, ErrInvalidPeerID
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

// ParsePeerID 从字符串解析 PeerID
//
// 仅支持标准 UUID 格式（用于用户输入和配置）。
func ParsePeerID(s string) (PeerID, error) {
	if s == "" {
		return EmptyPeerID, ErrInvalidPeerID
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerID(u), nil
}
