package dbmesh

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-dbmesh/internal/core/cluster"
	"github.com/dep2p/go-dbmesh/internal/core/metrics"
	"github.com/dep2p/go-dbmesh/pkg/lib/log"
)

var fxLogger = log.Logger("dbmesh/fx")

// buildFxApp 构建 Fx 应用
//
// 组装连接层全部模块并把组件注入 Node 门面。
// 加载顺序（按依赖）：
//  1. 配置注入: LocalID + cluster_options
//  2. Core Layer: Cluster (Dispatcher → Directory → Session)
//  3. 用户扩展: Fx Options
//  4. Node 组件注入
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	// 配置验证（前置）
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	clusterOpts, err := o.clusterOptions()
	if err != nil {
		return nil, err
	}

	modules := []fx.Option{
		// 配置注入
		fx.Supply(node.id),
		fx.Provide(fx.Annotate(
			func() []cluster.Option { return clusterOpts },
			fx.ResultTags(`group:"cluster_options,flatten"`),
		)),

		// 连接层（必须加载）
		cluster.Module(),
	}

	// 用户扩展（Fx Options）
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// Node 组件注入
	modules = append(modules, fx.Invoke(injectNodeComponents(node)))

	// 禁用 Fx 日志输出（避免干扰用户日志）
	modules = append(modules,
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
		fx.NopLogger,
	)

	fxLogger.Debug("Fx 应用已组装", "modules", len(modules))
	return fx.New(modules...), nil
}

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Dispatcher *cluster.Dispatcher
	Directory  *cluster.Directory
	Reporter   metrics.Reporter
	Session    *cluster.Session
}

// injectNodeComponents 创建 Node 组件注入函数
func injectNodeComponents(node *Node) interface{} {
	return func(params nodeInjectParams) {
		node.dispatcher = params.Dispatcher
		node.directory = params.Directory
		node.reporter = params.Reporter
		node.session = params.Session
	}
}
