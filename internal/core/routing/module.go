package routing

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config
	Self   types.PeerAddress `name:"self"`
	Clock  clock.Clock
}

// ============================================================================
//                              模块输出服务
// ============================================================================

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Table *Table
}

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := ConfigFromUnified(input.Config)
	if err := cfg.Validate(); err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{
		Table: NewTable(input.Self.ID, cfg, input.Clock),
	}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("routing",
		fx.Provide(ProvideServices),
	)
}
