package cluster

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
//                              帧编解码
// ============================================================================

// 帧格式：1 字节标签 + varint 负载长度 + 负载。
// 心跳帧是标签 'H'、负载长度 0 的普通帧。

// maxFrameSize 单帧负载上限
//
// 超限但可解析的帧被排空丢弃，连接保留；帧头本身解析失败则
// 无法重新同步字节流，连接关闭。
const maxFrameSize = 64 << 20

// writeFrame 写出一帧
func writeFrame(w *bufio.Writer, tag types.MessageTag, payload []byte) error {
	if err := w.WriteByte(byte(tag)); err != nil {
		return fmt.Errorf("cluster: write tag: %w", err)
	}
	if err := writeUvarint(w, uint64(len(payload))); err != nil {
		return fmt.Errorf("cluster: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("cluster: write frame payload: %w", err)
	}
	return nil
}

// readFrame 读取一帧
//
// 返回 ErrFrameTooLarge 时帧已被排空，调用方可以继续读下一帧；
// 返回其他错误时字节流不可恢复。
func readFrame(r *bufio.Reader) (types.MessageTag, []byte, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	tag := types.MessageTag(tagByte)

	length, err := readUvarint(r)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if length > maxFrameSize {
		// 排空负载，保持字节流同步
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return 0, nil, fmt.Errorf("%w: drain oversized frame: %v", ErrMalformedFrame, err)
		}
		return tag, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("cluster: read frame payload: %w", err)
	}
	return tag, payload, nil
}

// writeHeartbeat 写出一个心跳帧
func writeHeartbeat(w *bufio.Writer) error {
	return writeFrame(w, types.HeartbeatTag, nil)
}

// ============================================================================
//                              路由表编解码
// ============================================================================

// 路由表消息在握手完成后立即交换一次：
// varint 条目数，每条目为 16 字节 PeerID + varint 候选数 +
// （1 字节主机长度 + 主机 + 2 字节大端端口）*。

const (
	maxRoutingEntries = 1 << 16
	maxRoutingAddrs   = 128
	maxRoutingHostLen = 255
)

// writeRoutingTable 写出路由表快照
func writeRoutingTable(w *bufio.Writer, table map[types.PeerID]types.PeerAddress) error {
	if err := writeUvarint(w, uint64(len(table))); err != nil {
		return fmt.Errorf("cluster: write routing count: %w", err)
	}
	for id, addr := range table {
		if _, err := w.Write(id.Bytes()); err != nil {
			return fmt.Errorf("cluster: write routing peer id: %w", err)
		}
		adv := addr.Advertised()
		if len(adv) > maxRoutingAddrs {
			adv = adv[:maxRoutingAddrs]
		}
		if err := writeUvarint(w, uint64(len(adv))); err != nil {
			return fmt.Errorf("cluster: write routing addr count: %w", err)
		}
		for _, hp := range adv {
			if len(hp.Host) > maxRoutingHostLen {
				return fmt.Errorf("cluster: host too long: %q", hp.Host)
			}
			if err := w.WriteByte(byte(len(hp.Host))); err != nil {
				return fmt.Errorf("cluster: write routing host length: %w", err)
			}
			if _, err := w.WriteString(hp.Host); err != nil {
				return fmt.Errorf("cluster: write routing host: %w", err)
			}
			if err := w.WriteByte(byte(hp.Port >> 8)); err != nil {
				return fmt.Errorf("cluster: write routing port: %w", err)
			}
			if err := w.WriteByte(byte(hp.Port)); err != nil {
				return fmt.Errorf("cluster: write routing port: %w", err)
			}
		}
	}
	return nil
}

// readRoutingTable 读取对端路由表快照
func readRoutingTable(r *bufio.Reader) (map[types.PeerID]types.PeerAddress, error) {
	count, err := readUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("cluster: read routing count: %w", err)
	}
	if count > maxRoutingEntries {
		return nil, fmt.Errorf("cluster: routing table too large: %d entries", count)
	}

	table := make(map[types.PeerID]types.PeerAddress, count)
	idBuf := make([]byte, types.PeerIDSize)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return nil, fmt.Errorf("cluster: read routing peer id: %w", err)
		}
		id, err := types.PeerIDFromBytes(idBuf)
		if err != nil {
			return nil, err
		}

		addrCount, err := readUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("cluster: read routing addr count: %w", err)
		}
		if addrCount > maxRoutingAddrs {
			return nil, fmt.Errorf("cluster: too many addrs for peer: %d", addrCount)
		}

		addrs := make([]types.HostPort, 0, addrCount)
		for j := uint64(0); j < addrCount; j++ {
			hostLen, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("cluster: read routing host length: %w", err)
			}
			host := make([]byte, hostLen)
			if _, err := io.ReadFull(r, host); err != nil {
				return nil, fmt.Errorf("cluster: read routing host: %w", err)
			}
			portBuf := make([]byte, 2)
			if _, err := io.ReadFull(r, portBuf); err != nil {
				return nil, fmt.Errorf("cluster: read routing port: %w", err)
			}
			addrs = append(addrs, types.HostPort{
				Host: string(host),
				Port: uint16(portBuf[0])<<8 | uint16(portBuf[1]),
			})
		}
		table[id] = types.PeerAddressFrom(addrs...)
	}
	return table, nil
}

// ============================================================================
//                              varint
// ============================================================================

// writeUvarint 写入可变长度整数
func writeUvarint(w *bufio.Writer, v uint64) error {
	for v >= 0x80 {
		if err := w.WriteByte(byte(v) | 0x80); err != nil {
			return err
		}
		v >>= 7
	}
	return w.WriteByte(byte(v))
}

// readUvarint 读取可变长度整数
func readUvarint(r *bufio.Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b < 0x80 {
			if i == 9 && b > 1 {
				return 0, fmt.Errorf("varint overflow")
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, fmt.Errorf("varint too long")
}
