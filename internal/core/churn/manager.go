// Package churn 管理节点的加入、失效与离开
//
// 每个已知节点有一个状态：
//
//	Joining → Active → Suspect → (Active | Evicted)
//	任意状态 → Left（收到下线通知）
//
// 单次探测未应答即进入 Suspect；Suspect 状态下连续失败 MaxFailures 次后驱逐，
// 驱逐和离开都会从路由表移除节点。驱逐或重新加入时不做数据再复制：
// 重新加入的节点可能带着陈旧副本，直到下一次覆盖写到达它。
package churn

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

var log = logger.Logger("churn")

// ErrManagerClosed 管理器已关闭
var ErrManagerClosed = errors.New("churn: manager closed")

// Manager 节点流动管理器
type Manager struct {
	self    types.PeerAddress
	table   *routing.Table
	tr      transport.Transport
	cfg     Config
	clk     clock.Clock
	limiter *rate.Limiter
	metrics *metrics.Metrics

	mu    sync.Mutex
	peers map[types.ID]*peerState

	cbMu      sync.RWMutex // 回调专用锁，避免与 mu 嵌套
	callbacks []TransitionCallback

	running int32
	closed  int32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager 创建流动管理器
//
// tr 为 nil 时不能探测，只能被动观察。
func NewManager(self types.PeerAddress, table *routing.Table, tr transport.Transport,
	cfg Config, clk clock.Clock, m *metrics.Metrics) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		self:    self,
		table:   table,
		tr:      tr,
		cfg:     cfg,
		clk:     clk,
		limiter: rate.NewLimiter(rate.Limit(cfg.ProbeRate), cfg.ProbeBurst),
		metrics: m,
		peers:   make(map[types.ID]*peerState),
	}
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动周期性探测
//
// ProbeInterval 为 0 时不启动后台循环。
func (m *Manager) Start(_ context.Context) error {
	if atomic.LoadInt32(&m.closed) == 1 {
		return ErrManagerClosed
	}
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return nil
	}
	if m.cfg.ProbeInterval <= 0 || m.tr == nil {
		return nil
	}

	// Fx OnStart 的 ctx 在返回后会被取消，后台循环使用独立上下文
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.probeLoop(ctx)

	log.Debug("流动管理启动", "self", m.self.ID.ShortString(), "interval", m.cfg.ProbeInterval)
	return nil
}

// Stop 停止后台探测
func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	atomic.StoreInt32(&m.running, 0)
	return nil
}

func (m *Manager) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clk.Ticker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.ProbeAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Debug("周期探测中止", "err", err)
			}
		}
	}
}

// ============================================================================
//                              状态输入
// ============================================================================

// Track 记录一个已知但尚未确认的节点
func (m *Manager) Track(addr types.PeerAddress) {
	if addr.ID == m.self.ID {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[addr.ID]; ok {
		return
	}
	m.peers[addr.ID] = &peerState{addr: addr, state: StateJoining}
}

// Observe 收到节点的流量：节点进入 Active 并加入路由表
//
// 已被驱逐或已离开的节点以新的身份重新加入。
func (m *Manager) Observe(addr types.PeerAddress) {
	if addr.ID == m.self.ID || addr.ID.IsZero() {
		return
	}
	m.table.Insert(addr)

	m.mu.Lock()
	ps, ok := m.peers[addr.ID]
	if !ok {
		ps = &peerState{addr: addr, state: StateJoining}
		m.peers[addr.ID] = ps
	}
	ps.addr = addr
	ps.failures = 0
	ps.lastSeen = m.clk.Now()
	t, changed := m.moveLocked(ps, StateActive, "observed")
	m.mu.Unlock()

	if changed {
		m.notify(t)
	}
}

// ProbeSucceeded 节点应答了探测
func (m *Manager) ProbeSucceeded(addr types.PeerAddress) {
	m.Observe(addr)
}

// ProbeFailed 节点未应答探测
//
// Active 进入 Suspect；Suspect 下连续失败达到 MaxFailures 时驱逐。
// 路由表自身的失败阈值先到时同样视为驱逐。
func (m *Manager) ProbeFailed(id types.ID, reason string) {
	m.mu.Lock()
	ps, ok := m.peers[id]
	if !ok || !ps.state.Live() {
		m.mu.Unlock()
		// 未跟踪的节点只计入路由表
		m.table.MarkUnresponsive(id)
		return
	}

	ps.failures++
	removed := m.table.MarkUnresponsive(id)

	var t Transition
	var changed bool
	switch {
	case ps.failures >= m.cfg.MaxFailures || removed:
		t, changed = m.moveLocked(ps, StateEvicted, reason)
	default:
		t, changed = m.moveLocked(ps, StateSuspect, reason)
	}
	evicted := ps.state == StateEvicted
	m.mu.Unlock()

	if evicted {
		m.table.Remove(id)
	}
	if changed {
		m.notify(t)
	}
}

// Leave 节点主动下线：进入 Left 并从路由表移除
func (m *Manager) Leave(id types.ID) {
	if id == m.self.ID {
		return
	}
	m.table.Remove(id)

	m.mu.Lock()
	ps, ok := m.peers[id]
	if !ok {
		ps = &peerState{state: StateJoining}
		ps.addr.ID = id
		m.peers[id] = ps
	}
	t, changed := m.moveLocked(ps, StateLeft, "goodbye")
	m.mu.Unlock()

	if changed {
		m.notify(t)
	}
}

// RequestSucceeded 实现副本协调器的观察者接口
func (m *Manager) RequestSucceeded(addr types.PeerAddress) {
	m.Observe(addr)
}

// RequestFailed 实现副本协调器的观察者接口
func (m *Manager) RequestFailed(id types.ID, err error) {
	m.ProbeFailed(id, "request_failed")
	log.Debug("请求失败", "peer", id.ShortString(), "err", err)
}

// moveLocked 迁移状态，调用方持有 mu
func (m *Manager) moveLocked(ps *peerState, to State, reason string) (Transition, bool) {
	if ps.state == to {
		return Transition{}, false
	}
	t := Transition{Peer: ps.addr.ID, From: ps.state, To: to, Reason: reason}
	ps.state = to
	if !to.Live() {
		ps.failures = 0
	}
	return t, true
}

// ============================================================================
//                              探测
// ============================================================================

// Probe 探测单个节点
func (m *Manager) Probe(ctx context.Context, addr types.PeerAddress) error {
	if m.tr == nil {
		return types.ErrUnreachable
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	pctx, cancel := ctx, context.CancelFunc(func() {})
	if m.cfg.ProbeTimeout > 0 {
		pctx, cancel = m.clk.WithTimeout(ctx, m.cfg.ProbeTimeout)
	}
	defer cancel()

	resp, err := m.tr.Send(pctx, addr, protocol.NewPing(m.self))
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			// 调用方取消不计为节点失败
			return ctx.Err()
		}
		m.ProbeFailed(addr.ID, "probe_failed")
		return err
	}
	m.ProbeSucceeded(addr)
	return nil
}

// ProbeAll 探测所有 Active/Suspect 节点，受速率限制
//
// 单个节点的探测失败不会中止其他探测；只在 ctx 结束时返回错误。
func (m *Manager) ProbeAll(ctx context.Context) error {
	if atomic.LoadInt32(&m.closed) == 1 {
		return ErrManagerClosed
	}
	targets := m.livePeers()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.cfg.ProbeBurst, 1))
	for _, addr := range targets {
		addr := addr
		g.Go(func() error {
			err := m.Probe(gctx, addr)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				log.Debug("探测失败", "peer", addr.ID.ShortString(), "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) livePeers() []types.PeerAddress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PeerAddress, 0, len(m.peers))
	for _, ps := range m.peers {
		if ps.state.Live() {
			out = append(out, ps.addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Cmp(out[j].ID) < 0 })
	return out
}

// ============================================================================
//                              查询
// ============================================================================

// State 返回节点状态
func (m *Manager) State(id types.ID) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.peers[id]
	if !ok {
		return StateJoining, false
	}
	return ps.state, true
}

// Peers 返回所有已跟踪节点的快照，按 ID 排序
func (m *Manager) Peers() []PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeerInfo, 0, len(m.peers))
	for _, ps := range m.peers {
		out = append(out, PeerInfo{
			Addr:     ps.addr,
			State:    ps.state,
			Failures: ps.failures,
			LastSeen: ps.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.ID.Cmp(out[j].Addr.ID) < 0 })
	return out
}

// Counts 返回各状态的节点数
func (m *Manager) Counts() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[State]int)
	for _, ps := range m.peers {
		out[ps.state]++
	}
	return out
}

// ============================================================================
//                              回调
// ============================================================================

// OnTransition 注册状态迁移回调
//
// 回调在触发迁移的协程中同步执行，不应阻塞。
func (m *Manager) OnTransition(cb TransitionCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) notify(t Transition) {
	m.metrics.ObserveTransition(t.From.String(), t.To.String())
	m.metrics.SetRoutingSize(m.table.Size())

	log.Debug("节点状态迁移",
		"peer", t.Peer.ShortString(),
		"from", t.From.String(),
		"to", t.To.String(),
		"reason", t.Reason)

	m.cbMu.RLock()
	callbacks := append([]TransitionCallback(nil), m.callbacks...)
	m.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(t)
	}
}
