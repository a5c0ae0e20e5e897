// Package handshake 实现集群连接的初始协商
//
// 新连接建立后双方各自发送一段自我介绍，再读取对方的介绍：
//
//	magic | version | arch | buildmode | peer_id | 地址候选集
//
// 魔数、架构位宽、构建模式必须完全一致；协议版本要求主版本号
// 相同。任何不匹配只导致该连接被放弃，绝不影响进程本身。
package handshake

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
//                              协议常量
// ============================================================================

// Magic 协议魔数
//
// 先于一切数据发送，用于快速识别误连到集群端口的其他客户端。
const Magic = "dbmesh;"

// Version 当前协议版本
//
// 主版本号不同的节点互相拒绝；次版本号差异可以共存。
const Version = "2.0"

// BuildMode 构建模式标识
//
// debug 构建与 release 构建在线上行为可能不同，禁止混跑。
var BuildMode = "release"

// ArchToken 返回本进程的架构位宽标识
func ArchToken() string {
	return strconv.Itoa(strconv.IntSize)
}

// 握手数据上限，超出视为格式非法
const (
	maxTokenLen = 64
	maxHostLen  = 255
	maxAddrs    = 128
)

// ============================================================================
//                              参数与结果
// ============================================================================

// Params 本端握手参数
type Params struct {
	// LocalID 本节点 ID
	LocalID types.PeerID

	// Advertised 对外通告的地址候选集
	Advertised []types.HostPort

	// Timeout 握手整体超时，0 表示不限时
	Timeout time.Duration
}

// Expect 出站拨号时对远端的期望
//
// 零值表示不作校验（入站连接对远端一无所知）。
type Expect struct {
	// PeerID 期望的远端节点 ID
	PeerID types.PeerID
}

// Result 握手结果
type Result struct {
	// PeerID 远端节点 ID
	PeerID types.PeerID

	// Address 远端通告的地址候选集
	Address types.PeerAddress

	// Version 远端协议版本
	Version string
}

// ============================================================================
//                              握手执行
// ============================================================================

// Perform 在一条新连接上执行双向握手
//
// 先完整发出本端介绍，再读取远端介绍。介绍远小于套接字缓冲区，
// 双方同时发送不会死锁。
//
// br 必须是调用方持有的、包装 conn 的缓冲读取器：远端介绍之后
// 的字节（路由表、数据帧）可能已经被预读进缓冲区，握手结束后
// 调用方要继续从同一个 br 读取。
func Perform(conn net.Conn, br *bufio.Reader, params Params, expect Expect) (*Result, error) {
	if params.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(params.Timeout)); err != nil {
			return nil, fmt.Errorf("handshake: set deadline: %w", err)
		}
		defer conn.SetDeadline(time.Time{})
	}

	w := bufio.NewWriter(conn)
	if err := writeIntro(w, params); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("handshake: send intro: %w", err)
	}

	result, err := readIntro(br)
	if err != nil {
		return nil, err
	}

	if !expect.PeerID.IsEmpty() && !result.PeerID.Equal(expect.PeerID) {
		return nil, fmt.Errorf("%w: got %s, want %s",
			ErrUnexpectedPeer, result.PeerID.ShortString(), expect.PeerID.ShortString())
	}

	return result, nil
}

// writeIntro 写出本端介绍
func writeIntro(w *bufio.Writer, params Params) error {
	if _, err := w.WriteString(Magic); err != nil {
		return fmt.Errorf("handshake: write magic: %w", err)
	}
	for _, token := range []string{Version, ArchToken(), BuildMode} {
		if err := writeToken(w, token); err != nil {
			return err
		}
	}
	if _, err := w.Write(params.LocalID.Bytes()); err != nil {
		return fmt.Errorf("handshake: write peer id: %w", err)
	}
	return writeAddrSet(w, params.Advertised)
}

// readIntro 读取并校验远端介绍
func readIntro(r *bufio.Reader) (*Result, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic) != Magic {
		return nil, ErrBadMagic
	}

	version, err := readToken(r)
	if err != nil {
		return nil, err
	}
	if !versionCompatible(version) {
		return nil, fmt.Errorf("%w: local %s, remote %s", ErrVersionMismatch, Version, version)
	}

	arch, err := readToken(r)
	if err != nil {
		return nil, err
	}
	if arch != ArchToken() {
		return nil, fmt.Errorf("%w: local %s, remote %s", ErrArchMismatch, ArchToken(), arch)
	}

	buildMode, err := readToken(r)
	if err != nil {
		return nil, err
	}
	if buildMode != BuildMode {
		return nil, fmt.Errorf("%w: local %s, remote %s", ErrBuildModeMismatch, BuildMode, buildMode)
	}

	idBytes := make([]byte, types.PeerIDSize)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return nil, fmt.Errorf("%w: peer id: %v", ErrMalformed, err)
	}
	peerID, err := types.PeerIDFromBytes(idBytes)
	if err != nil {
		return nil, ErrMalformed
	}

	addrs, err := readAddrSet(r)
	if err != nil {
		return nil, err
	}

	return &Result{
		PeerID:  peerID,
		Address: types.PeerAddressFrom(addrs...),
		Version: version,
	}, nil
}

// versionCompatible 检查远端版本是否可接受（主版本号相同）
func versionCompatible(remote string) bool {
	localMajor, _, _ := strings.Cut(Version, ".")
	remoteMajor, _, ok := strings.Cut(remote, ".")
	return ok && remoteMajor == localMajor
}

// ============================================================================
//                              线上编码
// ============================================================================

// writeToken 写出一个长度前缀字符串
func writeToken(w *bufio.Writer, token string) error {
	if len(token) > maxTokenLen {
		return ErrMalformed
	}
	if err := w.WriteByte(byte(len(token))); err != nil {
		return fmt.Errorf("handshake: write token: %w", err)
	}
	if _, err := w.WriteString(token); err != nil {
		return fmt.Errorf("handshake: write token: %w", err)
	}
	return nil
}

// readToken 读取一个长度前缀字符串
func readToken(r *bufio.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("%w: token length: %v", ErrMalformed, err)
	}
	if int(n) > maxTokenLen {
		return "", ErrMalformed
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: token body: %v", ErrMalformed, err)
	}
	return string(buf), nil
}

// writeAddrSet 写出地址候选集
func writeAddrSet(w *bufio.Writer, addrs []types.HostPort) error {
	if len(addrs) > maxAddrs {
		return ErrMalformed
	}
	if err := w.WriteByte(byte(len(addrs))); err != nil {
		return fmt.Errorf("handshake: write addr count: %w", err)
	}
	for _, hp := range addrs {
		if len(hp.Host) > maxHostLen {
			return ErrMalformed
		}
		if err := w.WriteByte(byte(len(hp.Host))); err != nil {
			return fmt.Errorf("handshake: write host length: %w", err)
		}
		if _, err := w.WriteString(hp.Host); err != nil {
			return fmt.Errorf("handshake: write host: %w", err)
		}
		if err := w.WriteByte(byte(hp.Port >> 8)); err != nil {
			return fmt.Errorf("handshake: write port: %w", err)
		}
		if err := w.WriteByte(byte(hp.Port)); err != nil {
			return fmt.Errorf("handshake: write port: %w", err)
		}
	}
	return nil
}

// readAddrSet 读取地址候选集
func readAddrSet(r *bufio.Reader) ([]types.HostPort, error) {
	count, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: addr count: %v", ErrMalformed, err)
	}
	if int(count) > maxAddrs {
		return nil, ErrMalformed
	}

	addrs := make([]types.HostPort, 0, count)
	for i := 0; i < int(count); i++ {
		hostLen, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: host length: %v", ErrMalformed, err)
		}
		host := make([]byte, hostLen)
		if _, err := io.ReadFull(r, host); err != nil {
			return nil, fmt.Errorf("%w: host body: %v", ErrMalformed, err)
		}
		portBuf := make([]byte, 2)
		if _, err := io.ReadFull(r, portBuf); err != nil {
			return nil, fmt.Errorf("%w: port: %v", ErrMalformed, err)
		}
		addrs = append(addrs, types.HostPort{
			Host: string(host),
			Port: uint16(portBuf[0])<<8 | uint16(portBuf[1]),
		})
	}
	return addrs, nil
}
