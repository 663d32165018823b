package kvdht

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-kvdht/internal/core/churn"
	"github.com/dep2p/go-kvdht/internal/core/consistency"
	"github.com/dep2p/go-kvdht/internal/core/handler"
	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/replication"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// buildFxApp 构建 Fx 应用
//
// 模块加载顺序：
//  1. 基础输入（配置、身份、端点、时钟）
//  2. 指标
//  3. 路由表、本地存储
//  4. 节点流动管理
//  5. 入站处理
//  6. 副本协调
//  7. Node 组件注入
func buildFxApp(cfg *nodeConfig, self types.PeerAddress, ep transport.Endpoint, node *Node) *fx.App {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 基础输入
	// ════════════════════════════════════════════════════════════════════════
	clk := cfg.clock
	if clk == nil {
		clk = clock.New()
	}

	modules := []fx.Option{
		fx.Supply(cfg.config),
		fx.Supply(fx.Annotated{Name: "self", Target: self}),
		fx.Provide(func() transport.Endpoint { return ep }),
		fx.Provide(func() clock.Clock { return clk }),
	}

	// 1.1 复用外部存储（节点重新加入）
	if cfg.localStore != nil {
		modules = append(modules,
			fx.Supply(fx.Annotated{Name: "local_store", Target: cfg.localStore}),
		)
	}

	// 1.2 自定义聚合策略
	if cfg.policy != nil {
		policy := cfg.policy
		modules = append(modules,
			fx.Provide(func() consistency.Policy { return policy }),
		)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 指标（每个节点独立的 Registry）
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, metrics.Module())

	// ════════════════════════════════════════════════════════════════════════
	// 3. 路由表 + 本地存储
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		routing.Module(),
		storage.Module(),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. 节点流动管理
	// ════════════════════════════════════════════════════════════════════════
	// churn.Manager 同时作为副本协调器的观察者，门之后的应答也会刷新路由表
	modules = append(modules,
		churn.Module(),
		fx.Provide(func(m *churn.Manager) replication.Observer { return m }),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 5. 入站请求处理（启动时挂接到端点）
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, handler.Module())

	// ════════════════════════════════════════════════════════════════════════
	// 6. 副本协调
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, replication.Module())

	// ════════════════════════════════════════════════════════════════════════
	// 7. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Invoke(injectNodeComponents(node)))

	// ════════════════════════════════════════════════════════════════════════
	// 8. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	return fx.New(modules...)
}

// ════════════════════════════════════════════════════════════════════════════
// 组件注入辅助函数
// ════════════════════════════════════════════════════════════════════════════

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Table       *routing.Table
	Store       *storage.Store
	Churn       *churn.Manager
	Coordinator *replication.Coordinator
	Handler     *handler.Handler
	Metrics     *metrics.Metrics
}

// injectNodeComponents 创建 Node 组件注入函数
func injectNodeComponents(node *Node) interface{} {
	return func(p nodeInjectParams) {
		node.table = p.Table
		node.store = p.Store
		node.churn = p.Churn
		node.coordinator = p.Coordinator
		node.handler = p.Handler
		node.metrics = p.Metrics
	}
}
