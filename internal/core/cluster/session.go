package cluster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-dbmesh/internal/core/handshake"
	"github.com/dep2p/go-dbmesh/internal/core/metrics"
	"github.com/dep2p/go-dbmesh/internal/core/transport/tcp"
	"github.com/dep2p/go-dbmesh/pkg/types"
)

// 会话状态
const (
	stateIdle int32 = iota
	stateActive
	stateDraining
	stateStopped
)

// ============================================================================
//                              Session
// ============================================================================

// Session 一次集群参与期
//
// 创建时绑定监听端口（绑定失败对调用方是致命错误），Start 后
// 开始接受入站连接并加入种子节点，Stop 排空：停止监听、断开
// 全部连接、阻塞到所有 goroutine 退出。会话停止后不可重启。
//
// 路由表（已连接对端，含自身）和在途拨号表共用一把互斥锁，
// 它同时充当新连接判定的串行化点：任意时刻每个对端至多一条
// 连接成立。
type Session struct {
	cfg     Config
	localID types.PeerID

	// localAddr 本节点对外通告的地址候选集
	localAddr types.PeerAddress

	transport *tcp.Transport
	listeners []*tcp.Listener

	dispatcher *Dispatcher
	directory  *Directory
	reporter   metrics.Reporter
	heartbeats *heartbeatManager

	// mu 保护 routing 与 attempts，并串行化重复连接判定
	mu       sync.Mutex
	routing  map[types.PeerID]types.PeerAddress
	attempts map[types.HostPort]struct{}

	// dialGate 并发拨号闸门
	dialGate *semaphore.Weighted

	// dialCooldown 近期拨号失败地址的冷却表
	dialCooldown *expirable.LRU[types.HostPort, struct{}]

	loopback *Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state atomic.Int32
}

// NewSession 创建会话并绑定监听端口
//
// 端口被占用等绑定错误直接返回，由调用方决定进程去留；这是
// 连接层唯一允许向上冒泡的致命错误。
func NewSession(localID types.PeerID, dispatcher *Dispatcher, directory *Directory, reporter metrics.Reporter, opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	transport := tcp.NewTransport(tcp.Options{
		DialTimeout: cfg.DialTimeout,
		KeepAlive:   30 * time.Second,
		ClientPort:  cfg.ClientPort,
	})

	hosts := cfg.BindHosts
	if len(hosts) == 0 {
		hosts = []string{""}
	}

	listeners := make([]*tcp.Listener, 0, len(hosts))
	port := cfg.Port
	for _, host := range hosts {
		l, err := transport.Listen(host, port)
		if err != nil {
			_ = transport.Close()
			return nil, err
		}
		listeners = append(listeners, l)
		// 临时端口（0）由首个监听器确定，其余接口复用同一端口
		port = l.Port()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:          cfg,
		localID:      localID,
		transport:    transport,
		listeners:    listeners,
		dispatcher:   dispatcher,
		directory:    directory,
		reporter:     reporter,
		routing:      make(map[types.PeerID]types.PeerAddress),
		attempts:     make(map[types.HostPort]struct{}),
		dialGate:     semaphore.NewWeighted(cfg.MaxConcurrentDials),
		dialCooldown: expirable.NewLRU[types.HostPort, struct{}](1024, nil, cfg.DialCooldown),
		ctx:          ctx,
		cancel:       cancel,
	}

	s.localAddr = s.advertisedAddress(port)
	s.loopback = newLoopbackConnection(localID, s.localAddr, cfg.Clock)
	s.routing[localID] = s.localAddr
	s.heartbeats = newHeartbeatManager(cfg.Clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, s.sendHeartbeat)

	return s, nil
}

// advertisedAddress 计算本节点对外通告的地址候选集
func (s *Session) advertisedAddress(port uint16) types.PeerAddress {
	if !s.cfg.CanonicalAddr.IsZero() {
		return types.PeerAddress{Canonical: s.cfg.CanonicalAddr}
	}

	var hosts []string
	for _, h := range s.cfg.BindHosts {
		if ip := net.ParseIP(h); ip != nil && ip.IsUnspecified() {
			continue
		}
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		hosts = tcp.LocalHosts()
	}
	if len(hosts) == 0 {
		hosts = []string{"127.0.0.1"}
	}
	return types.NewPeerAddress(port, hosts...)
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动会话
//
// 安装回环连接、锁定处理器表、开始接受入站连接并异步加入种子
// 节点。只能调用一次。
func (s *Session) Start() error {
	if !s.state.CompareAndSwap(stateIdle, stateActive) {
		if s.state.Load() == stateActive {
			return ErrSessionActive
		}
		return ErrSessionStopped
	}

	s.dispatcher.setSessionActive(true)
	if err := s.directory.insert(s.loopback); err != nil {
		return err
	}

	for _, l := range s.listeners {
		l := l
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(l)
		}()
	}

	logger.Info("集群会话已启动",
		"peer", s.localID.ShortString(),
		"addrs", s.localAddr.Strings())

	for _, seed := range s.cfg.Seeds {
		s.Join(seed)
	}
	return nil
}

// Stop 排空并停止会话
//
// 停止监听、强制断开全部连接、阻塞到所有连接 goroutine 退出，
// 最后移除回环连接并解锁处理器表。幂等。
func (s *Session) Stop() error {
	if !s.state.CompareAndSwap(stateActive, stateDraining) {
		// 未启动的会话也要释放已绑定的监听器
		if s.state.CompareAndSwap(stateIdle, stateStopped) {
			s.cancel()
			return s.transport.Close()
		}
		return nil
	}

	s.cancel()
	err := s.transport.Close()

	for _, conn := range s.directory.Snapshot() {
		conn.Kill(types.DisconnectReasonLocal)
	}

	s.wg.Wait()

	s.directory.remove(s.loopback, types.DisconnectReasonLocal, nil)
	s.loopback.drainer.Drain()

	s.dispatcher.setSessionActive(false)
	s.state.Store(stateStopped)

	logger.Info("集群会话已停止", "peer", s.localID.ShortString())
	return err
}

// IsActive 检查会话是否在运行
func (s *Session) IsActive() bool {
	return s.state.Load() == stateActive
}

// LocalID 返回本节点 ID
func (s *Session) LocalID() types.PeerID {
	return s.localID
}

// LocalAddr 返回本节点通告的地址候选集
func (s *Session) LocalAddr() types.PeerAddress {
	return s.localAddr
}

// Port 返回实际监听端口
func (s *Session) Port() uint16 {
	if len(s.listeners) == 0 {
		return 0
	}
	return s.listeners[0].Port()
}

// Addrs 返回全部监听地址
func (s *Session) Addrs() []types.HostPort {
	addrs := make([]types.HostPort, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// ============================================================================
//                              加入集群
// ============================================================================

// Join 异步加入指定地址上的节点
//
// 幂等：已连接、正在拨号或近期拨号失败仍在冷却期的地址都是
// 空操作。结果只能通过连接目录的事件观察。
func (s *Session) Join(addr types.HostPort) {
	s.joinPeer(types.PeerAddressFrom(addr), types.EmptyPeerID)
}

// joinPeer 异步加入一个地址候选集指向的节点
//
// expect 非空时要求对端身份匹配（传递性加入场景，地址来自
// 第三方的路由表）。
func (s *Session) joinPeer(addr types.PeerAddress, expect types.PeerID) {
	if s.state.Load() != stateActive {
		return
	}

	// 冷却中的候选不再重拨
	candidates := make([]types.HostPort, 0, len(addr.Candidates))
	for _, hp := range addr.Candidates {
		if _, cooling := s.dialCooldown.Get(hp); !cooling {
			candidates = append(candidates, hp)
		}
	}
	if len(candidates) == 0 {
		return
	}
	addr = types.PeerAddressFrom(candidates...)

	s.mu.Lock()
	if !expect.IsEmpty() {
		if _, connected := s.routing[expect]; connected {
			s.mu.Unlock()
			return
		}
	}
	if s.addrKnownLocked(addr) || !s.beginAttemptLocked(addr) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.endAttempt(addr)
		s.connectToPeer(addr, expect)
	}()
}

// addrKnownLocked 检查地址是否与某个已连接对端（含自身）重叠
func (s *Session) addrKnownLocked(addr types.PeerAddress) bool {
	for _, known := range s.routing {
		for _, hp := range addr.Candidates {
			if known.Contains(hp) {
				return true
			}
		}
	}
	return false
}

// addrOverlap 检查两个地址候选集是否有交集
func (s *Session) addrOverlap(a, b types.PeerAddress) bool {
	for _, hp := range a.Candidates {
		if b.Contains(hp) {
			return true
		}
	}
	return false
}

// beginAttemptLocked 登记在途拨号
//
// 在途表按地址而非节点 ID 登记：握手前对端身份未知，而固定
// 源端口场景下对同一地址的并行拨号会在对端互相挤掉。
func (s *Session) beginAttemptLocked(addr types.PeerAddress) bool {
	for _, hp := range addr.Candidates {
		if _, inflight := s.attempts[hp]; inflight {
			return false
		}
	}
	for _, hp := range addr.Candidates {
		s.attempts[hp] = struct{}{}
	}
	return true
}

// endAttempt 注销在途拨号
func (s *Session) endAttempt(addr types.PeerAddress) {
	s.mu.Lock()
	for _, hp := range addr.Candidates {
		delete(s.attempts, hp)
	}
	s.mu.Unlock()
}

// connectToPeer 拨号、握手并驱动连接的整个生命期
//
// 双方同时互拨时两条交叉连接可能双双被对端的重复判定挤掉；
// 此时对端不在目录中且本次生命期以错误结束，带抖动重试直到
// 竞争收敛出唯一存活连接。
func (s *Session) connectToPeer(addr types.PeerAddress, expect types.PeerID) {
	for attempt := 0; ; attempt++ {
		conn, err := s.dialFirst(addr)
		if err != nil {
			for _, hp := range addr.Candidates {
				s.dialCooldown.Add(hp, struct{}{})
			}
			logger.Debug("拨号失败",
				"addrs", addr.Strings(),
				"err", err)
			return
		}

		remoteID, err := s.handle(conn, addr, expect, types.DirectionOutbound)
		if err == nil {
			return
		}
		if remoteID.IsEmpty() || attempt >= s.cfg.DialRetries {
			return
		}
		if s.state.Load() != stateActive {
			return
		}
		if _, connected := s.directory.Get(remoteID); connected {
			return
		}

		jitter := s.cfg.RetryJitterMin +
			time.Duration(rand.Int63n(int64(s.cfg.RetryJitterMax-s.cfg.RetryJitterMin)))
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(jitter):
		}
		expect = remoteID
	}
}

// dialFirst 并发拨号全部候选，第一个成功者胜出
func (s *Session) dialFirst(addr types.PeerAddress) (*tcp.Conn, error) {
	candidates := addr.Candidates
	if len(candidates) == 0 {
		return nil, ErrPeerNotConnected
	}

	ctx, cancel := context.WithCancel(s.ctx)

	type result struct {
		conn *tcp.Conn
		err  error
	}
	ch := make(chan result, len(candidates))

	for _, hp := range candidates {
		hp := hp
		go func() {
			if err := s.dialGate.Acquire(ctx, 1); err != nil {
				ch <- result{nil, err}
				return
			}
			conn, err := s.transport.Dial(ctx, hp)
			s.dialGate.Release(1)
			ch <- result{conn, err}
		}()
	}

	var firstErr error
	for i := 0; i < len(candidates); i++ {
		r := <-ch
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		// 胜出：中止并回收其余拨号
		cancel()
		go func(remaining int) {
			for j := 0; j < remaining; j++ {
				if late := <-ch; late.conn != nil {
					_ = late.conn.Close()
				}
			}
		}(len(candidates) - i - 1)
		return r.conn, nil
	}
	cancel()
	return nil, firstErr
}

// ============================================================================
//                              连接处理
// ============================================================================

// acceptLoop 接受入站连接
func (s *Session) acceptLoop(l *tcp.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !errors.Is(err, tcp.ErrListenerClosed) && s.state.Load() == stateActive {
				logger.Error("监听器故障", "addr", l.Addr().String(), "err", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.handle(conn, types.PeerAddress{}, types.EmptyPeerID, types.DirectionInbound)
		}()
	}
}

// handle 驱动一条连接从握手到拆除的完整生命期
//
// 每个退出路径都会注销路由表和连接目录。dialed 是出站连接拨过
// 的地址候选集，入站连接传空。返回握手得到的对端 ID（握手前
// 失败时为空）和结束原因。
func (s *Session) handle(netConn net.Conn, dialed types.PeerAddress, expect types.PeerID, dir types.Direction) (types.PeerID, error) {
	defer netConn.Close()

	// 读缓冲贯穿连接整个生命期：握手可能预读后续字节
	br := bufio.NewReader(netConn)
	hk, err := handshake.Perform(netConn, br, handshake.Params{
		LocalID:    s.localID,
		Advertised: s.localAddr.Advertised(),
		Timeout:    s.cfg.HandshakeTimeout,
	}, handshake.Expect{PeerID: expect})
	if err != nil {
		logger.Debug("握手失败",
			"remote", netConn.RemoteAddr().String(),
			"direction", dir.String(),
			"err", err)
		return types.EmptyPeerID, err
	}

	// 对端通告的地址集不含我们拨的地址：多半是 NAT 或配置错误，
	// 传递性加入会拿通告地址重拨并失败。连接本身照常建立。
	if !dialed.IsEmpty() && !s.addrOverlap(dialed, hk.Address) {
		logger.Warn("对端通告的地址与拨号地址不符",
			"peer", hk.PeerID.ShortString(),
			"dialed", dialed.Strings(),
			"advertised", hk.Address.Strings())
	}

	// 重复连接判定：路由表里已有该对端（包括自身）即放弃。
	// 判定与登记在同一临界区内完成，保证每个对端至多一条连接。
	s.mu.Lock()
	if _, dup := s.routing[hk.PeerID]; dup {
		s.mu.Unlock()
		logger.Debug("放弃重复连接",
			"peer", hk.PeerID.ShortString(),
			"direction", dir.String())
		return hk.PeerID, ErrDuplicateConnection
	}
	s.routing[hk.PeerID] = hk.Address
	snapshot := make(map[types.PeerID]types.PeerAddress, len(s.routing))
	for id, a := range s.routing {
		snapshot[id] = a
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.routing, hk.PeerID)
		s.mu.Unlock()
	}()

	conn := newConnection(netConn, hk.PeerID, hk.Address, hk.Version, dir, s.cfg.Clock)

	// 路由表交换：双方各发一份当前快照
	if err := netConn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return hk.PeerID, err
	}
	if err := writeRoutingTable(conn.bw, snapshot); err != nil {
		return hk.PeerID, err
	}
	if err := conn.bw.Flush(); err != nil {
		return hk.PeerID, err
	}
	remoteTable, err := readRoutingTable(br)
	if err != nil {
		logger.Debug("路由表交换失败", "peer", hk.PeerID.ShortString(), "err", err)
		return hk.PeerID, err
	}
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		return hk.PeerID, err
	}

	// 传递性加入：对端认识而我们不认识的节点
	for id, addr := range remoteTable {
		if id.Equal(s.localID) || id.Equal(hk.PeerID) {
			continue
		}
		s.joinPeer(addr, id)
	}

	if err := s.directory.insert(conn); err != nil {
		return hk.PeerID, err
	}

	logger.Info("对端已连接",
		"peer", hk.PeerID.ShortString(),
		"direction", dir.String(),
		"addrs", hk.Address.Strings(),
		"version", hk.Version)

	hbCtx, hbCancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeats.run(hbCtx, conn)
	}()

	readErr := s.readLoop(conn, br)
	hbCancel()

	reason, cause := disconnectCause(conn, readErr)
	s.directory.remove(conn, reason, cause)
	conn.drainer.Drain()
	s.reporter.RemovePeer(conn.peerID)

	logger.Info("对端已断开",
		"peer", hk.PeerID.ShortString(),
		"reason", reason.String())

	if cause != nil {
		return hk.PeerID, cause
	}
	return hk.PeerID, nil
}

// readLoop 连接的唯一读取方
//
// 单读者加上分发的同步执行保证同一连接上的消息按线上顺序、
// 恰好一次地交给处理器。
func (s *Session) readLoop(conn *Connection, br *bufio.Reader) error {
	for {
		tag, payload, err := readFrame(br)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				// 帧已排空，字节流仍同步，连接保留
				conn.touch()
				logger.Warn("丢弃超限帧",
					"peer", conn.peerID.ShortString(),
					"tag", tag.String())
				continue
			}
			return err
		}

		conn.touch()
		if tag == types.HeartbeatTag {
			continue
		}

		s.reporter.LogRecvMessage(int64(len(payload)), conn.peerID)
		s.dispatcher.dispatch(tag, conn.peerID, payload)
	}
}

// disconnectCause 归纳连接结束原因
func disconnectCause(conn *Connection, readErr error) (types.DisconnectReason, error) {
	if reason, killed := conn.killedReason(); killed {
		return reason, nil
	}
	if readErr == nil || errors.Is(readErr, io.EOF) {
		return types.DisconnectReasonGraceful, nil
	}
	return types.DisconnectReasonError, readErr
}

// ============================================================================
//                              消息发送
// ============================================================================

// Send 向指定对端发送一条带标签的消息
//
// 同一连接上的发送按调用顺序上线。目标未连接或连接正在排空时
// 返回 ErrPeerNotConnected；发送成功不代表对端已处理，交付
// 保证只到"如果连接存活则按序恰好一次"。
func (s *Session) Send(peer types.PeerID, tag types.MessageTag, payload []byte) error {
	if tag.IsReserved() {
		return ErrReservedTag
	}
	if s.state.Load() != stateActive {
		return ErrSessionNotActive
	}
	conn, ok := s.directory.Get(peer)
	if !ok {
		return ErrPeerNotConnected
	}
	return s.send(conn, tag, payload)
}

// send 在一条具体连接上发送
func (s *Session) send(conn *Connection, tag types.MessageTag, payload []byte) error {
	if err := conn.drainer.Acquire(); err != nil {
		return ErrPeerNotConnected
	}
	defer conn.drainer.Release()

	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()

	if conn.IsLoopback() {
		// 回环快速路径：同一字节在锁内同步分发，顺序语义与
		// 真实连接一致。处理器不得在回环消息中再次同步发给自己。
		s.reporter.LogSentMessage(int64(len(payload)), conn.peerID)
		s.reporter.LogRecvMessage(int64(len(payload)), conn.peerID)
		s.dispatcher.dispatch(tag, s.localID, payload)
		return nil
	}

	if err := writeFrame(conn.bw, tag, payload); err != nil {
		return err
	}
	if err := conn.bw.Flush(); err != nil {
		return fmt.Errorf("cluster: flush frame: %w", err)
	}
	s.reporter.LogSentMessage(int64(len(payload)), conn.peerID)
	return nil
}

// sendHeartbeat 在一条连接上发送心跳帧
func (s *Session) sendHeartbeat(conn *Connection) error {
	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()

	if err := writeHeartbeat(conn.bw); err != nil {
		return err
	}
	return conn.bw.Flush()
}
