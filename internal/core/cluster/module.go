package cluster

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-dbmesh/internal/core/eventbus"
	"github.com/dep2p/go-dbmesh/internal/core/metrics"
	"github.com/dep2p/go-dbmesh/pkg/types"
)

// ============================================================================
// Fx 模块
// ============================================================================

// Params Fx 模块输入参数
type Params struct {
	fx.In

	LocalID types.PeerID
	Options []Option `group:"cluster_options"`
}

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Dispatcher *Dispatcher
	Directory  *Directory
	Reporter   metrics.Reporter
	Session    *Session
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("cluster",
		fx.Provide(ProvideCluster),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideCluster 组装连接层的全部组件
func ProvideCluster(p Params) (Result, error) {
	bus := eventbus.NewBus()
	dispatcher := NewDispatcher()
	directory := NewDirectory(bus)
	reporter := metrics.NewTrafficCounter()

	session, err := NewSession(p.LocalID, dispatcher, directory, reporter, p.Options...)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Dispatcher: dispatcher,
		Directory:  directory,
		Reporter:   reporter,
		Session:    session,
	}, nil
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In

	LC      fx.Lifecycle
	Session *Session
}

// registerLifecycle 注册生命周期
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return input.Session.Start()
		},
		OnStop: func(_ context.Context) error {
			return input.Session.Stop()
		},
	})
}

// ============================================================================
// 模块元信息
// ============================================================================

const (
	// Version 模块版本
	Version = "1.0.0"
	// Name 模块名称
	Name = "cluster"
	// Description 模块描述
	Description = "集群连接层，维护与每个对端恰好一条的消息连接"
)
