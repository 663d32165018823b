package replication

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/consistency"
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
	Endpoint transport.Endpoint
	Table    *routing.Table
	Clock    clock.Clock

	Local    transport.Handler  `name:"local_handler" optional:"true"`
	Observer Observer           `optional:"true"`
	Metrics  *metrics.Metrics   `optional:"true"`
	Policy   consistency.Policy `optional:"true"`
}

// ============================================================================
//                              模块输出服务
// ============================================================================

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Coordinator *Coordinator
}

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) ModuleOutput {
	c := New(input.Self, input.Endpoint, input.Table, input.Config.Replication,
		WithLocalHandler(input.Local),
		WithObserver(input.Observer),
		WithMetrics(input.Metrics),
		WithPolicy(input.Policy),
		WithClock(input.Clock),
	)
	return ModuleOutput{Coordinator: c}
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("replication",
		fx.Provide(ProvideServices),
	)
}
