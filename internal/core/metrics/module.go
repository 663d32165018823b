package metrics

import "go.uber.org/fx"

// Module 返回 metrics 的 Fx 模块
//
// 外部已经提供 *Metrics 时不要重复加载本模块。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(New),
	)
}
