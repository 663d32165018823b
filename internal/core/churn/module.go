package churn

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config   *config.Config
	Self     types.PeerAddress `name:"self"`
	Table    *routing.Table
	Endpoint transport.Endpoint `optional:"true"`
	Clock    clock.Clock
	Metrics  *metrics.Metrics `optional:"true"`
}

// ============================================================================
//                              模块输出服务
// ============================================================================

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Manager *Manager
}

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := ConfigFromUnified(input.Config)
	if err := cfg.Validate(); err != nil {
		return ModuleOutput{}, err
	}

	var tr transport.Transport
	if input.Endpoint != nil {
		tr = input.Endpoint
	}
	return ModuleOutput{
		Manager: NewManager(input.Self, input.Table, tr, cfg, input.Clock, input.Metrics),
	}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("churn",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In

	LC      fx.Lifecycle
	Manager *Manager
}

// registerLifecycle 注册生命周期
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return input.Manager.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return input.Manager.Stop()
		},
	})
}
