// Package dbmesh 提供数据库集群的对等连接层
//
// dbmesh 维护一个全连接的集群网格：每对节点之间恰好一条消息
// 连接，消息按标签分发、按连接保序交付。加入任意一个已有节点
// 即可通过路由表交换发现并连接整个集群。
//
// # 核心概念
//
// dbmesh 围绕三个核心概念构建：
//
//   - Node: 集群节点，用户交互的主入口
//   - Peer: 已连接的对端，由随机生成的 PeerID 标识
//   - Handler: 按消息标签注册的处理器，交付按连接保序
//
// # 快速开始
//
//	import "github.com/dep2p/go-dbmesh"
//
//	// 1. 创建节点
//	node, err := dbmesh.New(
//	    dbmesh.WithListenPort(29015),
//	    dbmesh.WithSeeds("10.0.0.1:29015"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// 2. 注册处理器（必须在 Start 前）
//	node.RegisterHandler('Q', func(from types.PeerID, payload []byte) {
//	    // 同一对端的消息按发送顺序到达
//	})
//
//	// 3. 启动并使用
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close(ctx)
//
//	node.Send(peerID, 'Q', []byte("query"))
//
// # 文件组织
//
// 本包按功能领域组织代码：
//
//	dbmesh/
//	├── doc.go        # 包文档
//	├── node.go       # Node 门面：生命周期、收发、成员、订阅
//	├── options.go    # WithXxx 配置选项
//	├── errors.go     # 错误定义
//	└── fx.go         # Fx 应用组装
//
// # 架构层次
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  1. API Layer                                               │
//	│     dbmesh.New(), Node                                      │
//	├─────────────────────────────────────────────────────────────┤
//	│  2. Core Layer                                              │
//	│     cluster (Session, Directory, Dispatcher)                │
//	│     handshake, transport/tcp, eventbus, metrics             │
//	├─────────────────────────────────────────────────────────────┤
//	│  3. 基础设施                                                 │
//	│     config, pkg/types, pkg/lib/log                          │
//	└─────────────────────────────────────────────────────────────┘
//
// 更多信息请访问: https://github.com/dep2p/go-dbmesh
package dbmesh
