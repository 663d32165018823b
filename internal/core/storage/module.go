package storage

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-kvdht/config"
)

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	LC         fx.Lifecycle
	UnifiedCfg *config.Config `optional:"true"`
	Clock      clock.Clock

	// Existing 外部提供的存储（节点重新加入时复用），模块不负责关闭
	Existing *Store `name:"local_store" optional:"true"`
}

// Result Storage 模块提供的结果
type Result struct {
	fx.Out

	Store  *Store
	Config Config
}

// Module 返回 Storage Fx 模块
//
// 提供:
//   - *Store: 本地记录存储
//   - Config: 存储配置
//
// 生命周期:
//   - OnStart: 启动后台清理
//   - OnStop: 停止清理；存储由本模块创建时关闭引擎
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
	)
}

// ProvideStorage 提供本地存储
func ProvideStorage(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	store, owned := p.Existing, false
	if store == nil {
		eng, err := NewEngine(cfg.Engine)
		if err != nil {
			return Result{}, err
		}
		store, owned = New(eng, p.Clock, cfg.DefaultTTL), true
		log.Debug("存储引擎创建成功", "engine", cfg.Engine)
	}

	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			store.StartSweep(cfg.SweepInterval)
			return nil
		},
		OnStop: func(_ context.Context) error {
			if !owned {
				store.StopSweep()
				return nil
			}
			if err := store.Close(); err != nil {
				log.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			log.Debug("存储引擎已关闭")
			return nil
		},
	})

	return Result{Store: store, Config: cfg}, nil
}
