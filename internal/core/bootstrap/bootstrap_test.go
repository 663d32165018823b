package bootstrap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dep2p/go-kvdht/internal/core/handler"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/core/transport/mocks"
	"github.com/dep2p/go-kvdht/internal/core/transport/simnet"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

func testConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Count:          20,
		RequestTimeout: time.Second,
		PingParallel:   4,
	}
}

type peer struct {
	ep    transport.Endpoint
	table *routing.Table
}

func attach(t *testing.T, net *simnet.Network, name string) *peer {
	t.Helper()
	ep, err := net.Attach(types.PeerAddress{ID: types.HashID(name)})
	require.NoError(t, err)
	table := routing.NewTable(ep.Self().ID, routing.DefaultConfig(), clock.NewMock())
	h, err := handler.New(ep.Self(), storage.NewMemory(), table, nil, nil, handler.Config{MaxPeers: 20, CacheSize: 64})
	require.NoError(t, err)
	ep.SetHandler(h)
	return &peer{ep: ep, table: table}
}

// ============================================================================
// 发现测试
// ============================================================================

// TestDiscover_JoinsNeighbours 测试通过种子加入
func TestDiscover_JoinsNeighbours(t *testing.T) {
	net := simnet.New()
	seed := attach(t, net, "seed")
	var others []*peer
	for i := 0; i < 8; i++ {
		p := attach(t, net, fmt.Sprintf("member-%d", i))
		seed.table.Insert(p.ep.Self())
		others = append(others, p)
	}

	joiner := attach(t, net, "joiner")
	live, err := Discover(context.Background(), joiner.ep, joiner.ep.Self(), seed.ep.Self(), testConfig())
	require.NoError(t, err)
	assert.Len(t, live, 9, "种子加上它的 8 个邻居")

	for i := 1; i < len(live); i++ {
		assert.True(t, routing.CompareDistance(live[i-1].ID, live[i].ID, joiner.ep.Self().ID) <= 0)
	}

	// 种子和被 Ping 的邻居都认识了新节点
	_, ok := seed.table.Find(joiner.ep.Self().ID)
	assert.True(t, ok)
	for _, p := range others {
		_, ok := p.table.Find(joiner.ep.Self().ID)
		assert.True(t, ok)
	}

	t.Log("✅ 通过种子加入")
}

// TestDiscover_SkipsDeadNeighbours 测试忽略不应答的邻居
func TestDiscover_SkipsDeadNeighbours(t *testing.T) {
	net := simnet.New()
	seed := attach(t, net, "seed")
	alive := attach(t, net, "alive")
	dead := attach(t, net, "dead")
	seed.table.Insert(alive.ep.Self())
	seed.table.Insert(dead.ep.Self())
	net.SetOffline(dead.ep.Self().ID, true)

	joiner := attach(t, net, "joiner")
	live, err := Discover(context.Background(), joiner.ep, joiner.ep.Self(), seed.ep.Self(), testConfig())
	require.NoError(t, err)
	ids := []types.ID{live[0].ID, live[1].ID}
	assert.Len(t, live, 2)
	assert.ElementsMatch(t, []types.ID{seed.ep.Self().ID, alive.ep.Self().ID}, ids)

	t.Log("✅ 不应答的邻居被忽略")
}

// TestDiscover_Retries 测试种子暂时不可达时重试
func TestDiscover_Retries(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	self := types.PeerAddress{ID: types.HashID("self")}
	seed := types.PeerAddress{ID: types.HashID("seed"), Endpoint: "mock:seed"}

	gomock.InOrder(
		tr.EXPECT().Send(gomock.Any(), seed, gomock.Any()).Return(nil, types.ErrUnreachable).Times(2),
		tr.EXPECT().Send(gomock.Any(), seed, gomock.Any()).
			DoAndReturn(func(_ context.Context, to types.PeerAddress, msg *protocol.Message) (*protocol.Message, error) {
				assert.Equal(t, protocol.TypeFindNode, msg.Type)
				assert.Equal(t, self.ID, msg.Target)
				return protocol.Reply(msg, to, protocol.StatusOK), nil
			}),
	)

	live, err := Discover(context.Background(), tr, self, seed, testConfig())
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, seed.ID, live[0].ID)

	t.Log("✅ 退避重试成功")
}

// TestDiscover_GivesUp 测试重试次数耗尽
func TestDiscover_GivesUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	self := types.PeerAddress{ID: types.HashID("self")}
	seed := types.PeerAddress{ID: types.HashID("seed")}

	cfg := testConfig()
	cfg.MaxRetries = 2
	tr.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, types.ErrTimeout).Times(3)

	_, err := Discover(context.Background(), tr, self, seed, cfg)
	assert.ErrorIs(t, err, ErrNoSeeds)
	assert.ErrorIs(t, err, types.ErrTimeout)

	t.Log("✅ 重试耗尽后放弃")
}

// TestDiscover_ClosedIsPermanent 测试本地端点关闭时不重试
func TestDiscover_ClosedIsPermanent(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, types.ErrClosed).Times(1)

	_, err := Discover(context.Background(), tr,
		types.PeerAddress{ID: types.HashID("self")}, types.PeerAddress{ID: types.HashID("seed")}, testConfig())
	assert.ErrorIs(t, err, types.ErrClosed)

	t.Log("✅ 关闭错误不重试")
}

// TestDiscoverAll 测试多个种子
func TestDiscoverAll(t *testing.T) {
	net := simnet.New()
	a := attach(t, net, "seed-a")
	b := attach(t, net, "seed-b")
	down := attach(t, net, "seed-down")
	a.table.Insert(b.ep.Self())
	net.SetOffline(down.ep.Self().ID, true)

	joiner := attach(t, net, "joiner")
	cfg := testConfig()
	cfg.MaxRetries = 0

	live, err := DiscoverAll(context.Background(), joiner.ep, joiner.ep.Self(),
		[]types.PeerAddress{down.ep.Self(), a.ep.Self(), b.ep.Self()}, cfg)
	require.NoError(t, err)
	assert.Len(t, live, 2, "去重后只有 a 和 b")

	_, err = DiscoverAll(context.Background(), joiner.ep, joiner.ep.Self(), nil, cfg)
	assert.ErrorIs(t, err, ErrNoSeeds)

	_, err = DiscoverAll(context.Background(), joiner.ep, joiner.ep.Self(), []types.PeerAddress{down.ep.Self()}, cfg)
	assert.ErrorIs(t, err, ErrNoSeeds)
	assert.ErrorIs(t, err, types.ErrUnreachable)

	t.Log("✅ 多种子发现正确")
}
