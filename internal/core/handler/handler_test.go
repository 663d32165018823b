package handler

import (
	"context"
	"fmt"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/churn"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/core/transport/simnet"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

func addr(name string) types.PeerAddress {
	return types.PeerAddress{ID: types.HashID(name), Endpoint: "test:" + name}
}

type fixture struct {
	h     *Handler
	self  types.PeerAddress
	store *storage.Store
	table *routing.Table
	churn *churn.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	self := addr("self")
	table := routing.NewTable(self.ID, routing.DefaultConfig(), clock.NewMock())
	cm := churn.NewManager(self, table, nil, churn.DefaultConfig(), clock.NewMock(), nil)
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })

	h, err := New(self, store, table, cm, nil, Config{MaxPeers: 20, CacheSize: 16})
	require.NoError(t, err)
	return &fixture{h: h, self: self, store: store, table: table, churn: cm}
}

func (f *fixture) handle(t *testing.T, req *protocol.Message) *protocol.Message {
	t.Helper()
	resp, err := f.h.HandleMessage(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, req.Type.Response(), resp.Type)
	assert.Equal(t, f.self, resp.Sender)
	return resp
}

var key = types.LocationKey(types.HashID("handler-key"))

// ============================================================================
// 请求处理测试
// ============================================================================

// TestHandler_StoreGet 测试写入与读取
func TestHandler_StoreGet(t *testing.T) {
	f := newFixture(t)
	client := addr("client")

	resp := f.handle(t, protocol.NewGet(client, key))
	assert.ErrorIs(t, resp.Err(), types.ErrNotFound)

	rec := types.DataRecord{Value: []byte("v"), Version: 7}
	resp = f.handle(t, protocol.NewStore(client, key, rec, true))
	require.NoError(t, resp.Err())

	resp = f.handle(t, protocol.NewGet(client, key))
	require.NoError(t, resp.Err())
	require.NotNil(t, resp.Record)
	assert.Equal(t, "v", resp.Record.String())
	assert.Equal(t, uint64(7), resp.Record.Version)

	resp = f.handle(t, protocol.NewStore(client, key, types.NewRecord([]byte("w")), false))
	assert.ErrorIs(t, resp.Err(), types.ErrConflict)

	t.Log("✅ 写入与读取正确")
}

// TestHandler_ObservesSender 测试请求者进入路由表
func TestHandler_ObservesSender(t *testing.T) {
	f := newFixture(t)
	client := addr("client")

	f.handle(t, protocol.NewPing(client))
	_, ok := f.table.Find(client.ID)
	assert.True(t, ok)
	st, _ := f.churn.State(client.ID)
	assert.Equal(t, churn.StateActive, st)

	f.handle(t, protocol.NewPing(f.self))
	assert.Equal(t, 1, f.table.Size(), "本节点不进入路由表")

	t.Log("✅ 请求者被观察")
}

// TestHandler_FindNode 测试最近节点查询
func TestHandler_FindNode(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		f.table.Insert(addr(fmt.Sprintf("peer-%d", i)))
	}
	target := types.HashID("target")

	resp := f.handle(t, protocol.NewFindNode(addr("client"), target, 5))
	require.Len(t, resp.Peers, 5)
	assert.Equal(t, f.table.ClosestPeers(target, 5), resp.Peers)

	resp = f.handle(t, protocol.NewFindNode(addr("client"), target, 1000))
	assert.Len(t, resp.Peers, min(20, f.table.Size()), "数量受 MaxPeers 限制")

	t.Log("✅ FIND_NODE 正确")
}

// TestHandler_Digest 测试摘要
func TestHandler_Digest(t *testing.T) {
	f := newFixture(t)
	for _, c := range []string{"a", "b", "c"} {
		k := types.CompoundKey{Location: key.Location, Content: types.HashID(c)}
		require.NoError(t, f.store.Put(k, types.DataRecord{Value: []byte(c), Version: 1}, true))
	}
	resp := f.handle(t, protocol.NewDigest(addr("client"), key.Location, types.ZeroID))
	assert.Len(t, resp.Digest, 3)

	t.Log("✅ DIGEST 正确")
}

// TestHandler_Leave 测试下线通知
func TestHandler_Leave(t *testing.T) {
	f := newFixture(t)
	peer := addr("peer")
	f.handle(t, protocol.NewPing(peer))

	f.handle(t, protocol.NewLeave(peer))
	_, ok := f.table.Find(peer.ID)
	assert.False(t, ok)
	st, _ := f.churn.State(peer.ID)
	assert.Equal(t, churn.StateLeft, st)

	t.Log("✅ 下线通知正确")
}

// TestHandler_RetransmitCached 测试重传返回缓存应答
func TestHandler_RetransmitCached(t *testing.T) {
	f := newFixture(t)
	req := protocol.NewStore(addr("client"), key, types.NewRecord([]byte("v")), false)

	first := f.handle(t, req)
	require.NoError(t, first.Err())

	// 不缓存时重复的 put-if-absent 会冲突
	again := f.handle(t, req)
	assert.NoError(t, again.Err())

	t.Log("✅ 重传幂等")
}

// TestHandler_Rejects 测试无效请求
func TestHandler_Rejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.h.HandleMessage(context.Background(), nil)
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	resp := protocol.Reply(protocol.NewPing(addr("x")), addr("x"), protocol.StatusOK)
	_, err = f.h.HandleMessage(context.Background(), resp)
	assert.ErrorIs(t, err, protocol.ErrMalformed, "应答不是请求")

	anon := protocol.NewPing(types.PeerAddress{})
	r, err := f.h.HandleMessage(context.Background(), anon)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, r.Status)

	malformed := protocol.NewStore(addr("client"), key, types.DataRecord{}, true)
	malformed.Record = nil
	r = f.handle(t, malformed)
	assert.Equal(t, protocol.StatusError, r.Status)

	t.Log("✅ 无效请求被拒绝")
}

// ============================================================================
// 模块测试
// ============================================================================

// TestModule_AttachesToEndpoint 测试启动后挂接到端点
func TestModule_AttachesToEndpoint(t *testing.T) {
	net := simnet.New()
	self := addr("self")
	ep, err := net.Attach(self)
	require.NoError(t, err)
	client, err := net.Attach(addr("client"))
	require.NoError(t, err)

	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		fx.Supply(fx.Annotated{Name: "self", Target: ep.Self()}),
		fx.Provide(
			func() *routing.Table { return routing.NewTable(self.ID, routing.DefaultConfig(), clock.NewMock()) },
			func() *storage.Store { return storage.NewMemory() },
			func() transport.Endpoint { return ep },
		),
		Module(),
	)

	_, err = client.Send(context.Background(), ep.Self(), protocol.NewPing(client.Self()))
	assert.ErrorIs(t, err, types.ErrUnreachable, "启动前没有处理器")

	app.RequireStart()
	resp, err := client.Send(context.Background(), ep.Self(), protocol.NewPing(client.Self()))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePong, resp.Type)
	app.RequireStop()

	_, err = client.Send(context.Background(), ep.Self(), protocol.NewPing(client.Self()))
	assert.ErrorIs(t, err, types.ErrUnreachable, "停止后摘除处理器")

	t.Log("✅ 模块挂接正确")
}
