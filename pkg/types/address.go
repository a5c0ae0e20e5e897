package types

import (
	"errors"
	"net"
	"sort"
	"strconv"
)

// ============================================================================
//                              HostPort - 地址候选
// ============================================================================

// ErrInvalidHostPort 无效的 host:port 地址
var ErrInvalidHostPort = errors.New("invalid host:port address")

// HostPort 一个具体的 (主机, 端口) 地址候选
//
// 主机可以是 IP 字面量或域名，不在此处解析。
type HostPort struct {
	Host string
	Port uint16
}

// String 返回 "host:port" 形式（IPv6 主机自动加方括号）
func (hp HostPort) String() string {
	return net.JoinHostPort(hp.Host, strconv.Itoa(int(hp.Port)))
}

// IsZero 检查是否为零值
func (hp HostPort) IsZero() bool {
	return hp.Host == "" && hp.Port == 0
}

// ParseHostPort 从 "host:port" 字符串解析 HostPort
func ParseHostPort(s string) (HostPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return HostPort{}, ErrInvalidHostPort
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || host == "" {
		return HostPort{}, ErrInvalidHostPort
	}
	return HostPort{Host: host, Port: uint16(port)}, nil
}

// ============================================================================
//                              PeerAddress - 节点地址
// ============================================================================

// PeerAddress 一个节点的地址候选集
//
// 一台主机可能有多个网络接口，对端可以通过其中任意一个地址接入，
// 因此节点地址是一个候选集而非单个地址。Canonical 是管理员显式
// 配置的规范地址；设置后对外只通告规范地址。
type PeerAddress struct {
	// Candidates 地址候选列表（去重、有序）
	Candidates []HostPort

	// Canonical 规范地址（可选；IsZero() 表示未设置）
	Canonical HostPort
}

// NewPeerAddress 从主机列表和统一端口创建 PeerAddress
func NewPeerAddress(port uint16, hosts ...string) PeerAddress {
	candidates := make([]HostPort, 0, len(hosts))
	for _, h := range hosts {
		candidates = append(candidates, HostPort{Host: h, Port: port})
	}
	pa := PeerAddress{Candidates: candidates}
	pa.normalize()
	return pa
}

// PeerAddressFrom 从地址候选列表创建 PeerAddress
func PeerAddressFrom(candidates ...HostPort) PeerAddress {
	pa := PeerAddress{Candidates: append([]HostPort(nil), candidates...)}
	pa.normalize()
	return pa
}

// normalize 去重并排序候选列表，保证 Equal 语义稳定
func (pa *PeerAddress) normalize() {
	seen := make(map[HostPort]struct{}, len(pa.Candidates))
	out := pa.Candidates[:0]
	for _, hp := range pa.Candidates {
		if hp.IsZero() {
			continue
		}
		if _, ok := seen[hp]; ok {
			continue
		}
		seen[hp] = struct{}{}
		out = append(out, hp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Port < out[j].Port
	})
	pa.Candidates = out
}

// Advertised 返回对外通告的地址集
//
// 设置了规范地址时只通告规范地址，否则通告全部候选。
func (pa PeerAddress) Advertised() []HostPort {
	if !pa.Canonical.IsZero() {
		return []HostPort{pa.Canonical}
	}
	return pa.Candidates
}

// Contains 检查候选集中是否包含指定地址
func (pa PeerAddress) Contains(hp HostPort) bool {
	if pa.Canonical == hp {
		return true
	}
	for _, c := range pa.Candidates {
		if c == hp {
			return true
		}
	}
	return false
}

// IsEmpty 检查地址候选集是否为空
func (pa PeerAddress) IsEmpty() bool {
	return len(pa.Candidates) == 0 && pa.Canonical.IsZero()
}

// Equal 比较两个 PeerAddress 的通告地址集是否相同
func (pa PeerAddress) Equal(other PeerAddress) bool {
	a, b := pa.Advertised(), other.Advertised()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Strings 返回通告地址的字符串切片（用于日志）
func (pa PeerAddress) Strings() []string {
	adv := pa.Advertised()
	strs := make([]string, len(adv))
	for i, hp := range adv {
		strs[i] = hp.String()
	}
	return strs
}
