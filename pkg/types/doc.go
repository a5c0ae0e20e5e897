// Package types 定义 dbmesh 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 dbmesh 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据：
//
//   - PeerID: 节点运行期唯一标识（每次启动重新生成）
//   - HostPort / PeerAddress: 节点地址候选集
//   - MessageTag: 消息分发标签（单字节）
//   - 连接事件类型（EvtPeerConnected / EvtPeerDisconnected）
package types
