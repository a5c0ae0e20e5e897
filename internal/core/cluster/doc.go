// Package cluster 实现集群节点间的连接层
//
// 职责：让每对节点之间维持恰好一条带标签的消息连接，并把
// "谁当前可达"作为可观察状态暴露出去。
//
// 核心组件：
//
//   - Session: 一次集群参与期。绑定监听端口、接受和发起连接、
//     维护路由表与在途拨号表、排空时保证所有 goroutine 退出。
//   - Directory: 已连接对端目录。写时复制快照支撑无锁读取，
//     变更通过事件总线广播。
//   - Dispatcher: 按单字节标签分发入站消息，处理器只能在会话
//     启动前注册。
//   - Drainer: 连接排空令牌，"连接丢失"信号恰好触发一次，
//     销毁等到所有引用释放。
//
// 连接建立流程：TCP → 握手（魔数/版本/架构/构建模式/身份/
// 地址集）→ 重复连接判定 → 路由表交换 → 传递性加入 → 进入
// 目录 → 心跳与读循环。任何一步失败只丢弃该连接。
package cluster
