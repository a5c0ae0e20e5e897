// Package tcp 提供基于 TCP 的集群传输层
//
// 集群内节点间的全部通信都走一条可靠的 TCP 字节流。本包只负责
// 建立和接受原始连接：
//   - Transport: 拨号（支持固定出站源端口）
//   - Listener: 监听（绑定失败向调用方返回错误，由调用方决定是否致命）
//   - Conn: 原始连接的薄包装（方向、建立时间、关闭状态）
//
// 握手、帧编解码、心跳均由上层 cluster 包完成。
package tcp
