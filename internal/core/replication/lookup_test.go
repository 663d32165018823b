package replication

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/core/transport/simnet"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// simPeer 模拟网络上的最小节点：存储 + 路由表
type simPeer struct {
	ep    transport.Endpoint
	table *routing.Table
	store *storage.Store
}

func (p *simPeer) HandleMessage(_ context.Context, req *protocol.Message) (*protocol.Message, error) {
	self := p.ep.Self()
	switch req.Type {
	case protocol.TypeStore:
		if err := p.store.Put(req.Key, *req.Record, req.Overwrite); err != nil {
			return protocol.ErrorReply(req, self, err), nil
		}
		return protocol.Reply(req, self, protocol.StatusOK), nil
	case protocol.TypeGet:
		rec, err := p.store.Get(req.Key)
		if err != nil {
			return protocol.ErrorReply(req, self, err), nil
		}
		resp := protocol.Reply(req, self, protocol.StatusOK)
		resp.Record = &rec
		return resp, nil
	case protocol.TypeFindNode:
		resp := protocol.Reply(req, self, protocol.StatusOK)
		resp.Peers = p.table.ClosestPeers(req.Target, req.Count)
		return resp, nil
	case protocol.TypeDigest:
		entries, err := p.store.KeysNear(req.Key.Location, req.Key.Domain)
		if err != nil {
			return protocol.ErrorReply(req, self, err), nil
		}
		resp := protocol.Reply(req, self, protocol.StatusOK)
		resp.Digest = entries
		return resp, nil
	}
	return protocol.Reply(req, self, protocol.StatusError), nil
}

// newSimPeers 在模拟网络上创建 n 个节点，每个节点的路由表包含其余全部节点
func newSimPeers(t *testing.T, n int) []*simPeer {
	t.Helper()
	net := simnet.New(simnet.WithSeed(1))
	cfg := routing.DefaultConfig()
	cfg.BucketSize = n

	peers := make([]*simPeer, n)
	for i := range peers {
		ep, err := net.Attach(types.PeerAddress{ID: types.HashID(fmt.Sprintf("sim-%d", i))})
		require.NoError(t, err)
		p := &simPeer{
			ep:    ep,
			table: routing.NewTable(ep.Self().ID, cfg, clock.NewMock()),
			store: storage.NewMemory(),
		}
		ep.SetHandler(p)
		peers[i] = p
	}
	for _, p := range peers {
		for _, q := range peers {
			p.table.Insert(q.ep.Self())
		}
	}
	return peers
}

func (p *simPeer) coordinator(opts ...Option) *Coordinator {
	cfg := remoteOnly()
	return New(p.ep.Self(), p.ep, p.table, cfg, append([]Option{WithLocalHandler(p)}, opts...)...)
}

// ============================================================================
// 迭代查找测试
// ============================================================================

// TestLookup_FindsClosest 测试从单个已知节点迭代找到真实最近节点
func TestLookup_FindsClosest(t *testing.T) {
	peers := newSimPeers(t, 30)

	// 发起方只认识一个节点
	origin := peers[0]
	cfg := routing.DefaultConfig()
	origin.table = routing.NewTable(origin.ep.Self().ID, cfg, clock.NewMock())
	require.True(t, origin.table.Insert(peers[1].ep.Self()))

	target := types.HashID("lookup-target")
	got, err := origin.coordinator().Lookup(context.Background(), target, 5)
	require.NoError(t, err)

	var want []types.ID
	for _, p := range peers[1:] {
		want = append(want, p.ep.Self().ID)
	}
	sort.Slice(want, func(i, j int) bool { return routing.Closer(want[i], want[j], target) })

	require.Len(t, got, 5)
	for i := range got {
		assert.Equal(t, want[i], got[i].ID, "第 %d 个节点", i)
	}

	t.Log("✅ 迭代查找找到真实最近节点")
}

// TestLookup_EmptyTable 测试空路由表
func TestLookup_EmptyTable(t *testing.T) {
	self := addr("lonely")
	table := routing.NewTable(self.ID, routing.DefaultConfig(), clock.NewMock())
	c := New(self, nil, table, remoteOnly())

	_, err := c.Lookup(context.Background(), types.HashID("x"), 3)
	assert.ErrorIs(t, err, ErrNoPeers)

	t.Log("✅ 空路由表返回 ErrNoPeers")
}

// ============================================================================
// 模拟网络往返测试
// ============================================================================

// TestSimnet_RoundTrip 测试写入后读取得到原值，重复写入幂等
func TestSimnet_RoundTrip(t *testing.T) {
	peers := newSimPeers(t, 20)
	c := peers[7].coordinator()
	key := types.LocationKey(types.HashID("round-trip"))

	_, err := c.Put(context.Background(), key, []byte("hello"), Request3)
	require.NoError(t, err)

	res, err := c.Get(context.Background(), key, Request3)
	require.NoError(t, err)
	require.NotNil(t, res.Value)
	assert.Equal(t, "hello", res.Value.String())
	assert.False(t, res.Divergent())

	_, err = c.Put(context.Background(), key, []byte("hello"), Request3)
	require.NoError(t, err)
	again, err := c.Get(context.Background(), key, Request3)
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Value.String())

	t.Log("✅ 往返与幂等正确")
}

// TestSimnet_Digest 测试摘要收集
func TestSimnet_Digest(t *testing.T) {
	peers := newSimPeers(t, 10)
	c := peers[0].coordinator()
	location := types.HashID("digest-location")

	for _, content := range []string{"a", "b"} {
		key := types.CompoundKey{Location: location, Content: types.HashID(content)}
		_, err := c.Put(context.Background(), key, []byte(content), Request3)
		require.NoError(t, err)
	}

	res, err := c.Digest(context.Background(), location, types.ZeroID, Request3)
	require.NoError(t, err)
	require.Len(t, res.Raw, 3)
	for _, o := range res.Raw {
		assert.Len(t, o.Digest, 2)
	}

	t.Log("✅ 摘要覆盖副本集合")
}

// TestSimnet_IterativeTargets 测试开启迭代查找后的目标选择
func TestSimnet_IterativeTargets(t *testing.T) {
	peers := newSimPeers(t, 20)
	origin := peers[0]
	origin.table = routing.NewTable(origin.ep.Self().ID, routing.DefaultConfig(), clock.NewMock())
	require.True(t, origin.table.Insert(peers[1].ep.Self()))

	cfg := remoteOnly()
	cfg.IterativeLookup = true
	c := New(origin.ep.Self(), origin.ep, origin.table, cfg)

	key := types.LocationKey(types.HashID("iterative"))
	res, err := c.Put(context.Background(), key, []byte("v"), Request3)
	require.NoError(t, err)
	assert.Len(t, res.Targets, 3)

	t.Log("✅ 迭代查找扩展了候选集合")
}
