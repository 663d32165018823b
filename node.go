package kvdht

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-kvdht/internal/core/bootstrap"
	"github.com/dep2p/go-kvdht/internal/core/churn"
	"github.com/dep2p/go-kvdht/internal/core/handler"
	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/replication"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

var log = logger.Logger("kvdht")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateRunning 运行中
	StateRunning

	// StateClosed 已关闭（不可重新启动，以相同 ID 重新加入需要新建节点）
	StateClosed
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// startTimeout Fx 应用启动/停止超时
const startTimeout = 30 * time.Second

// Node kvdht 节点
//
// Node 是门面，聚合路由表、本地存储、副本协调器和节点流动管理器。
// 组件由 Fx 注入，Start 之后才可以读写。
type Node struct {
	// ────────────────────────────────────────────────────────────────────────
	// 配置和状态
	// ────────────────────────────────────────────────────────────────────────

	config *nodeConfig
	app    *fx.App

	self     types.PeerAddress
	endpoint transport.Endpoint

	mu    sync.Mutex
	state NodeState

	// ────────────────────────────────────────────────────────────────────────
	// 核心组件（由 Fx 注入）
	// ────────────────────────────────────────────────────────────────────────

	table       *routing.Table
	store       *storage.Store
	churn       *churn.Manager
	coordinator *replication.Coordinator
	handler     *handler.Handler
	metrics     *metrics.Metrics
}

// New 创建节点
//
// 节点 ID 依次取自 WithEndpoint 的端点、WithID、WithIDSource 的随机源，
// 都未指定时使用 crypto/rand。WithNetwork 给定时在网络上挂接端点。
func New(ctx context.Context, opts ...Option) (*Node, error) {
	cfg := defaultNodeConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.config.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ep, err := attachEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:   cfg,
		self:     ep.Self(),
		endpoint: ep,
	}
	n.app = buildFxApp(cfg, n.self, ep, n)
	if err := n.app.Err(); err != nil {
		_ = ep.Close()
		return nil, fmt.Errorf("build node: %w", err)
	}

	log.Debug("节点已创建", "id", n.self.ID.ShortString(), "endpoint", n.self.Endpoint)
	return n, nil
}

// attachEndpoint 返回配置的端点，或在网络上新建一个
func attachEndpoint(cfg *nodeConfig) (transport.Endpoint, error) {
	if cfg.endpoint != nil {
		return cfg.endpoint, nil
	}
	if cfg.network == nil {
		return nil, ErrNoNetwork
	}

	id := cfg.id
	if !cfg.hasID {
		src := cfg.idSource
		if src == nil {
			src = rand.Reader
		}
		var err error
		if id, err = types.RandomID(src); err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
	}
	return cfg.network.Attach(types.PeerAddress{ID: id, Flags: cfg.flags})
}

// Start 启动节点
//
// 启动所有组件并挂接入站处理器，然后从配置的种子节点引导（若有）。
func (n *Node) Start(ctx context.Context) error {
	if err := n.startApp(ctx); err != nil {
		return err
	}

	seeds, err := n.config.config.Bootstrap.PeerAddresses()
	if err != nil {
		return err
	}
	seeds = append(seeds, n.config.seeds...)
	if len(seeds) == 0 {
		return nil
	}
	return n.bootstrap(ctx, seeds)
}

func (n *Node) startApp(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateClosed:
		return ErrNodeClosed
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := n.app.Start(startCtx); err != nil {
		log.Error("节点启动失败", "error", err)
		return fmt.Errorf("start node: %w", err)
	}
	n.state = StateRunning
	log.Info("节点已启动", "id", n.self.ID.ShortString())
	return nil
}

// Close 关闭节点
//
// 先向路由表中的所有节点发送下线通知，再停止组件并关闭端点。
// 通过 WithLocalStore 提供的存储不会被关闭。
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateClosed:
		return nil
	case StateIdle:
		n.state = StateClosed
		return n.endpoint.Close()
	}
	n.state = StateClosed

	n.sayGoodbye(ctx)

	stopCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	stopErr := n.app.Stop(stopCtx)
	if err := n.endpoint.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	log.Info("节点已关闭", "id", n.self.ID.ShortString())
	return stopErr
}

// sayGoodbye 通知已知节点本节点下线，失败只记录日志
func (n *Node) sayGoodbye(ctx context.Context) {
	peers := n.table.Peers()
	timeout := n.config.config.Replication.RequestTimeout.Duration()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(n.config.config.Replication.Alpha, 1))
	for _, p := range peers {
		p := p
		g.Go(func() error {
			rctx, cancel := requestContext(gctx, timeout)
			defer cancel()
			if _, err := n.endpoint.Send(rctx, p, protocol.NewLeave(n.self)); err != nil {
				log.Debug("下线通知失败", "peer", p.ID.ShortString(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	log.Debug("下线通知完成", "peers", len(peers))
}

// requestContext timeout <= 0 时不设单请求截止时间
func requestContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

// ════════════════════════════════════════════════════════════════════════════
//                              引导
// ════════════════════════════════════════════════════════════════════════════

// Bootstrap 从种子节点发现邻居并加入路由表
//
// 至少一个种子应答即成功。
func (n *Node) Bootstrap(ctx context.Context, seeds ...types.PeerAddress) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.bootstrap(ctx, seeds)
}

func (n *Node) bootstrap(ctx context.Context, seeds []types.PeerAddress) error {
	peers, err := bootstrap.DiscoverAll(ctx, n.endpoint, n.self, seeds,
		bootstrap.ConfigFromUnified(n.config.config))
	if err != nil {
		return err
	}
	for _, p := range peers {
		n.churn.Observe(p)
	}
	log.Debug("引导完成",
		"id", n.self.ID.ShortString(),
		"seeds", len(seeds),
		"peers", len(peers),
		"table", n.table.Size())
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              读写
// ════════════════════════════════════════════════════════════════════════════

// Put 向 key 的副本集合写入 value
//
// 节点运行时返回的 Result 总是非 nil；达到 MinimumAccepted 之后的请求在后台继续，
// 最终结果通过 Result.Wait 获取。
func (n *Node) Put(ctx context.Context, key types.CompoundKey, value []byte,
	rc replication.RequestConfig, opts ...replication.PutOption) (*replication.Result, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.coordinator.Put(ctx, key, value, rc, opts...)
}

// Get 从 key 的副本集合读取，聚合值使用节点的策略
//
// Result.Raw 包含每个节点的原始应答，可通过 Result.Aggregate 换用其他策略。
func (n *Node) Get(ctx context.Context, key types.CompoundKey, rc replication.RequestConfig) (*replication.Result, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.coordinator.Get(ctx, key, rc)
}

// Digest 收集副本集合中每个节点在 location/domain 下的键和版本
func (n *Node) Digest(ctx context.Context, location, domain types.ID,
	rc replication.RequestConfig) (*replication.Result, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.coordinator.Digest(ctx, location, domain, rc)
}

// DefaultRequest 返回配置中的默认请求参数
func (n *Node) DefaultRequest() replication.RequestConfig {
	return replication.RequestFromConfig(n.config.config.Replication)
}

// ════════════════════════════════════════════════════════════════════════════
//                              路由
// ════════════════════════════════════════════════════════════════════════════

// ClosestPeers 返回本地路由表中距离 target 最近的 n 个节点
//
// 已知节点不足 n 个时返回全部已知节点。
func (n *Node) ClosestPeers(target types.ID, count int) []types.PeerAddress {
	if n.table == nil {
		return nil
	}
	return n.table.ClosestPeers(target, count)
}

// Lookup 迭代查找距离 target 最近的 count 个节点
func (n *Node) Lookup(ctx context.Context, target types.ID, count int) ([]types.PeerAddress, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.coordinator.Lookup(ctx, target, count)
}

// RoutingTable 返回路由表（只读使用）
func (n *Node) RoutingTable() *routing.Table {
	return n.table
}

// ════════════════════════════════════════════════════════════════════════════
//                              访问器
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.ID {
	return n.self.ID
}

// Address 返回节点地址
func (n *Node) Address() types.PeerAddress {
	return n.self
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// LocalStore 返回本地存储
//
// 直接写入不经过副本协议，用于植入旧数据或伪造副本。
func (n *Node) LocalStore() *storage.Store {
	return n.store
}

// Churn 返回节点流动管理器
func (n *Node) Churn() *churn.Manager {
	return n.churn
}

// Metrics 返回节点指标
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Stats 节点统计快照
type Stats struct {
	ID          types.ID
	State       NodeState
	RoutingSize int
	Buckets     map[int]int
	Records     int
	Peers       map[string]int
}

// Stats 返回节点统计快照
func (n *Node) Stats() Stats {
	s := Stats{
		ID:    n.self.ID,
		State: n.State(),
		Peers: make(map[string]int),
	}
	if n.table != nil {
		s.RoutingSize = n.table.Size()
		s.Buckets = n.table.BucketSizes()
	}
	if n.store != nil {
		s.Records = n.store.Len()
	}
	if n.churn != nil {
		for st, c := range n.churn.Counts() {
			s.Peers[st.String()] = c
		}
	}
	return s
}

func (n *Node) checkRunning() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.checkRunningLocked()
}

func (n *Node) checkRunningLocked() error {
	switch n.state {
	case StateIdle:
		return ErrNotStarted
	case StateClosed:
		return ErrNodeClosed
	}
	return nil
}
