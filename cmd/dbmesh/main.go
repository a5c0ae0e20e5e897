// Package main 提供 dbmesh 命令行入口
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dep2p/go-dbmesh"
	"github.com/dep2p/go-dbmesh/pkg/lib/log"
)

var logger = log.Logger("dbmesh/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 配置边界：
//
//	命令行参数：运行时覆盖 / 快速测试（「这次运行」想怎么跑）
//	JSON 配置文件：持久化配置 / 长期运行（「这个节点」的固定配置）
var (
	// ─────────────────────────────────────────────────────────────────────
	// 运行时参数（快速指定）
	// ─────────────────────────────────────────────────────────────────────
	port          = flag.Uint("port", 29015, "集群监听端口（0 = 随机端口）")
	clientPort    = flag.Uint("client-port", 0, "出站连接固定源端口（0 = 系统分配）")
	bindHosts     = flag.String("bind", "", "监听地址，逗号分隔（空 = 所有接口）")
	joinAddrs     = flag.String("join", "", "要加入的集群节点地址，逗号分隔（host:port）")
	canonicalAddr = flag.String("canonical-addr", "", "对外通告的规范地址（NAT 后必需）")
	configFile    = flag.String("config", "", "配置文件路径")

	// ─────────────────────────────────────────────────────────────────────
	// 日志参数
	// ─────────────────────────────────────────────────────────────────────
	logFile  = flag.String("log", "", "日志文件路径（空 = stderr）")
	logLevel = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")

	// ─────────────────────────────────────────────────────────────────────
	// 信息显示
	// ─────────────────────────────────────────────────────────────────────
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(dbmesh.VersionInfo())
		return nil
	}

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("📦 %s\n", dbmesh.VersionInfo())

	node, err := dbmesh.New(opts...)
	if err != nil {
		return fmt.Errorf("创建节点失败: %w", err)
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}

	printNodeInfo(node)
	go watchPeerEvents(node)

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在排空连接并关闭节点...")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	return node.Close(closeCtx)
}

// buildOptions 构建选项
//
// 配置优先级（从高到低）：
//  1. 命令行参数（运行时覆盖）
//  2. 配置文件（持久化配置）
//  3. 内置默认值
func buildOptions() ([]dbmesh.Option, error) {
	var opts []dbmesh.Option

	// 配置文件（持久化配置，先应用，命令行参数在其上覆盖）
	if *configFile != "" {
		opts = append(opts, dbmesh.WithConfigFile(*configFile))
	}

	if isFlagSet("port") || *configFile == "" {
		opts = append(opts, dbmesh.WithListenPort(uint16(*port)))
	}
	if *clientPort != 0 {
		opts = append(opts, dbmesh.WithClientPort(uint16(*clientPort)))
	}
	if *bindHosts != "" {
		opts = append(opts, dbmesh.WithBindHosts(splitList(*bindHosts)...))
	}
	if *canonicalAddr != "" {
		opts = append(opts, dbmesh.WithCanonicalAddr(*canonicalAddr))
	}
	if *joinAddrs != "" {
		opts = append(opts, dbmesh.WithSeeds(splitList(*joinAddrs)...))
	}
	if *logFile != "" {
		opts = append(opts, dbmesh.WithLogFile(*logFile))
	}
	if *logLevel != "" {
		opts = append(opts, dbmesh.WithLogLevel(*logLevel))
	}
	return opts, nil
}

// isFlagSet 检查参数是否被显式设置
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// splitList 按逗号分割并去除空白
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printNodeInfo 显示节点信息
func printNodeInfo(node *dbmesh.Node) {
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("  节点 ID:   %s\n", node.ID())
	fmt.Printf("  监听端口:  %d\n", node.Port())
	for _, addr := range node.AdvertisedAddr().Strings() {
		fmt.Printf("  通告地址:  %s\n", addr)
	}
	fmt.Println("─────────────────────────────────────────────")
}

// watchPeerEvents 在控制台打印对端上下线
func watchPeerEvents(node *dbmesh.Node) {
	connected, cancelConn, err := node.SubscribePeerConnected()
	if err != nil {
		logger.Warn("订阅上线事件失败", "err", err)
		return
	}
	defer cancelConn()
	disconnected, cancelDisc, err := node.SubscribePeerDisconnected()
	if err != nil {
		logger.Warn("订阅下线事件失败", "err", err)
		return
	}
	defer cancelDisc()

	for {
		select {
		case evt, ok := <-connected:
			if !ok {
				return
			}
			fmt.Printf("+ 对端上线 %s [%s] %v\n",
				evt.PeerID.ShortString(), evt.Direction, evt.Address.Strings())
		case evt, ok := <-disconnected:
			if !ok {
				return
			}
			fmt.Printf("- 对端下线 %s (%s)\n",
				evt.PeerID.ShortString(), evt.Reason)
		}
	}
}

// waitForSignal 阻塞等待退出信号
func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
