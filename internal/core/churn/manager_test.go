package churn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/mock/gomock"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/core/transport/mocks"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

func addr(name string) types.PeerAddress {
	return types.PeerAddress{ID: types.HashID(name), Endpoint: "mock:" + name}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ProbeRate = 1000
	cfg.ProbeBurst = 100
	return cfg
}

func newManager(t *testing.T, tr transport.Transport) (*Manager, *routing.Table) {
	t.Helper()
	self := addr("self")
	rcfg := routing.DefaultConfig()
	// 路由表阈值高于流动管理阈值，驱逐由流动管理决定
	rcfg.MaxFailures = 10
	table := routing.NewTable(self.ID, rcfg, clock.NewMock())
	return NewManager(self, table, tr, testConfig(), clock.NewMock(), nil), table
}

type transitions struct {
	mu  sync.Mutex
	all []Transition
}

func (r *transitions) record(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, t)
}

func (r *transitions) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.all))
	for _, t := range r.all {
		out = append(out, t.To)
	}
	return out
}

// ============================================================================
// 状态机测试
// ============================================================================

// TestManager_Lifecycle 测试完整状态迁移
func TestManager_Lifecycle(t *testing.T) {
	m, table := newManager(t, nil)
	rec := &transitions{}
	m.OnTransition(rec.record)

	p := addr("peer")
	m.Track(p)
	st, ok := m.State(p.ID)
	require.True(t, ok)
	assert.Equal(t, StateJoining, st)
	_, inTable := table.Find(p.ID)
	assert.False(t, inTable, "Joining 节点不在路由表中")

	m.Observe(p)
	st, _ = m.State(p.ID)
	assert.Equal(t, StateActive, st)
	_, inTable = table.Find(p.ID)
	assert.True(t, inTable)

	m.ProbeFailed(p.ID, "test")
	st, _ = m.State(p.ID)
	assert.Equal(t, StateSuspect, st, "单次失败进入 Suspect")

	m.ProbeSucceeded(p)
	st, _ = m.State(p.ID)
	assert.Equal(t, StateActive, st, "成功探测恢复 Active")

	for i := 0; i < testConfig().MaxFailures; i++ {
		m.ProbeFailed(p.ID, "test")
	}
	st, _ = m.State(p.ID)
	assert.Equal(t, StateEvicted, st)
	_, inTable = table.Find(p.ID)
	assert.False(t, inTable, "驱逐后从路由表移除")

	assert.Equal(t, []State{StateActive, StateSuspect, StateActive, StateSuspect, StateEvicted}, rec.states())

	t.Log("✅ 状态迁移正确")
}

// TestManager_Leave 测试主动下线与重新加入
func TestManager_Leave(t *testing.T) {
	m, table := newManager(t, nil)
	p := addr("peer")
	m.Observe(p)

	m.Leave(p.ID)
	st, _ := m.State(p.ID)
	assert.Equal(t, StateLeft, st)
	_, inTable := table.Find(p.ID)
	assert.False(t, inTable)

	// 离开后的失败不会改变状态
	m.ProbeFailed(p.ID, "late")
	st, _ = m.State(p.ID)
	assert.Equal(t, StateLeft, st)

	m.Observe(p)
	st, _ = m.State(p.ID)
	assert.Equal(t, StateActive, st, "重新加入")
	_, inTable = table.Find(p.ID)
	assert.True(t, inTable)

	t.Log("✅ 下线与重新加入正确")
}

// TestManager_IgnoresSelf 测试忽略本节点
func TestManager_IgnoresSelf(t *testing.T) {
	m, table := newManager(t, nil)
	m.Observe(m.self)
	m.Track(m.self)
	m.Leave(m.self.ID)
	_, ok := m.State(m.self.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, table.Size())

	t.Log("✅ 忽略本节点")
}

// TestManager_TableThreshold 测试路由表阈值先到时同样驱逐
func TestManager_TableThreshold(t *testing.T) {
	self := addr("self")
	rcfg := routing.DefaultConfig()
	rcfg.MaxFailures = 1
	table := routing.NewTable(self.ID, rcfg, clock.NewMock())
	m := NewManager(self, table, nil, testConfig(), clock.NewMock(), nil)

	p := addr("peer")
	m.Observe(p)
	m.ProbeFailed(p.ID, "test")
	st, _ := m.State(p.ID)
	assert.Equal(t, StateEvicted, st)

	t.Log("✅ 路由表阈值触发驱逐")
}

// ============================================================================
// 探测测试
// ============================================================================

// TestManager_ProbeAll 测试批量探测
func TestManager_ProbeAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	m, _ := newManager(t, tr)

	alive, dead := addr("alive"), addr("dead")
	m.Observe(alive)
	m.Observe(dead)

	tr.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, to types.PeerAddress, msg *protocol.Message) (*protocol.Message, error) {
			assert.Equal(t, protocol.TypePing, msg.Type)
			if to.ID == dead.ID {
				return nil, types.ErrUnreachable
			}
			return protocol.Reply(msg, to, protocol.StatusOK), nil
		}).Times(2)

	require.NoError(t, m.ProbeAll(context.Background()))

	st, _ := m.State(alive.ID)
	assert.Equal(t, StateActive, st)
	st, _ = m.State(dead.ID)
	assert.Equal(t, StateSuspect, st)

	counts := m.Counts()
	assert.Equal(t, 1, counts[StateActive])
	assert.Equal(t, 1, counts[StateSuspect])

	t.Log("✅ 批量探测正确")
}

// TestManager_ProbeCanceled 测试调用方取消不计为节点失败
func TestManager_ProbeCanceled(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	m, _ := newManager(t, tr)
	p := addr("peer")
	m.Observe(p)

	ctx, cancel := context.WithCancel(context.Background())
	tr.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, types.PeerAddress, *protocol.Message) (*protocol.Message, error) {
			cancel()
			return nil, context.Canceled
		})

	err := m.Probe(ctx, p)
	assert.True(t, errors.Is(err, context.Canceled))
	st, _ := m.State(p.ID)
	assert.Equal(t, StateActive, st)

	t.Log("✅ 取消不计为失败")
}

// TestManager_ProbeLoop 测试周期探测由时钟驱动
func TestManager_ProbeLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)

	self := addr("self")
	clk := clock.NewMock()
	table := routing.NewTable(self.ID, routing.DefaultConfig(), clk)
	cfg := testConfig()
	cfg.ProbeInterval = time.Minute
	cfg.ProbeTimeout = 0
	m := NewManager(self, table, tr, cfg, clk, nil)

	p := addr("peer")
	m.Observe(p)

	probed := make(chan struct{}, 1)
	tr.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, to types.PeerAddress, msg *protocol.Message) (*protocol.Message, error) {
			select {
			case probed <- struct{}{}:
			default:
			}
			return protocol.Reply(msg, to, protocol.StatusOK), nil
		}).MinTimes(1)

	require.NoError(t, m.Start(context.Background()))
	defer func() { require.NoError(t, m.Stop()) }()

	// 等待后台循环创建 ticker
	require.Eventually(t, func() bool {
		clk.Add(time.Minute)
		select {
		case <-probed:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	t.Log("✅ 周期探测正确")
}

// TestManager_Metrics 测试状态迁移计数
func TestManager_Metrics(t *testing.T) {
	self := addr("self")
	table := routing.NewTable(self.ID, routing.DefaultConfig(), clock.NewMock())
	mx := metrics.New()
	m := NewManager(self, table, nil, testConfig(), clock.NewMock(), mx)

	m.Observe(addr("a"))
	m.Observe(addr("b"))
	m.Leave(types.HashID("a"))

	n, err := testutil.GatherAndCount(mx.Registry(), "kvdht_peer_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "joining→active 与 active→left 两个序列")

	t.Log("✅ 迁移指标正确")
}

// TestModule_Lifecycle 测试 Fx 模块
func TestModule_Lifecycle(t *testing.T) {
	self := addr("self")
	var m *Manager
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		fx.Supply(fx.Annotated{Name: "self", Target: self}),
		fx.Provide(func() clock.Clock { return clock.NewMock() }),
		fx.Provide(func() *routing.Table {
			return routing.NewTable(self.ID, routing.DefaultConfig(), clock.NewMock())
		}),
		Module(),
		fx.Populate(&m),
	)
	app.RequireStart()
	require.NotNil(t, m)
	m.Observe(addr("peer"))
	app.RequireStop()

	assert.ErrorIs(t, m.ProbeAll(context.Background()), ErrManagerClosed)

	t.Log("✅ 模块生命周期正确")
}
