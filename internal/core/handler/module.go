package handler

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/churn"
	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config  *config.Config
	Self    types.PeerAddress `name:"self"`
	Store   *storage.Store
	Table   *routing.Table
	Churn   *churn.Manager   `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

// ============================================================================
//                              模块输出服务
// ============================================================================

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Handler *Handler

	// Local 本节点作为副本目标时的进程内处理器
	Local transport.Handler `name:"local_handler"`
}

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	h, err := New(input.Self, input.Store, input.Table, input.Churn, input.Metrics, Config{
		MaxPeers:  input.Config.Routing.BucketSize,
		CacheSize: input.Config.Replication.ResponseCacheSize,
	})
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Handler: h, Local: h}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("handler",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In

	LC       fx.Lifecycle
	Handler  *Handler
	Endpoint transport.Endpoint `optional:"true"`
}

// registerLifecycle 启动时挂接到端点，停止时摘除
func registerLifecycle(input lifecycleInput) {
	if input.Endpoint == nil {
		return
	}
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			input.Endpoint.SetHandler(input.Handler)
			return nil
		},
		OnStop: func(_ context.Context) error {
			input.Endpoint.SetHandler(nil)
			return nil
		},
	})
}
