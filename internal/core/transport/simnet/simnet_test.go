package simnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// echo 回复 Pong 的处理器
func echo(self types.PeerAddress) transport.Handler {
	return transport.HandlerFunc(func(_ context.Context, req *protocol.Message) (*protocol.Message, error) {
		return protocol.Reply(req, self, protocol.StatusOK), nil
	})
}

func attach(t *testing.T, n *Network, name string) transport.Endpoint {
	t.Helper()
	ep, err := n.Attach(types.PeerAddress{ID: types.HashID(name)})
	require.NoError(t, err)
	ep.SetHandler(echo(ep.Self()))
	return ep
}

// ============================================================================
// 投递测试
// ============================================================================

// TestNetwork_Send 测试请求应答
func TestNetwork_Send(t *testing.T) {
	n := New()
	a, b := attach(t, n, "a"), attach(t, n, "b")
	assert.NotEmpty(t, a.Self().Endpoint, "应分配端点")
	assert.NotEqual(t, a.Self().Endpoint, b.Self().Endpoint)

	req := protocol.NewPing(a.Self())
	resp, err := a.Send(context.Background(), b.Self(), req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, protocol.TypePong, resp.Type)
	assert.Equal(t, b.Self(), resp.Sender)

	delivered, failed := n.Stats()
	assert.Equal(t, int64(1), delivered)
	assert.Equal(t, int64(0), failed)

	t.Log("✅ 请求应答正确")
}

// TestNetwork_NoSharedMemory 测试消息经过编解码，不共享内存
func TestNetwork_NoSharedMemory(t *testing.T) {
	n := New()
	a := attach(t, n, "a")
	b, err := n.Attach(types.PeerAddress{ID: types.HashID("b")})
	require.NoError(t, err)

	var seen *protocol.Message
	b.SetHandler(transport.HandlerFunc(func(_ context.Context, req *protocol.Message) (*protocol.Message, error) {
		seen = req
		req.Record.Value[0] = 'X'
		return protocol.Reply(req, b.Self(), protocol.StatusOK), nil
	}))

	req := protocol.NewStore(a.Self(), types.LocationKey(types.HashID("k")), types.NewRecord([]byte("abc")), true)
	_, err = a.Send(context.Background(), b.Self(), req)
	require.NoError(t, err)

	assert.NotSame(t, req, seen)
	assert.Equal(t, "abc", string(req.Record.Value))

	t.Log("✅ 节点间不共享内存")
}

// TestNetwork_Unreachable 测试离线与未知节点
func TestNetwork_Unreachable(t *testing.T) {
	n := New()
	a, b := attach(t, n, "a"), attach(t, n, "b")
	ctx := context.Background()

	_, err := a.Send(ctx, types.PeerAddress{ID: types.HashID("ghost")}, protocol.NewPing(a.Self()))
	assert.ErrorIs(t, err, types.ErrUnreachable)

	n.SetOffline(b.Self().ID, true)
	_, err = a.Send(ctx, b.Self(), protocol.NewPing(a.Self()))
	assert.ErrorIs(t, err, types.ErrUnreachable)

	n.SetOffline(b.Self().ID, false)
	_, err = a.Send(ctx, b.Self(), protocol.NewPing(a.Self()))
	assert.NoError(t, err)

	require.NoError(t, b.Close())
	_, err = a.Send(ctx, b.Self(), protocol.NewPing(a.Self()))
	assert.ErrorIs(t, err, types.ErrUnreachable)

	_, failed := n.Stats()
	assert.Equal(t, int64(3), failed)

	t.Log("✅ 不可达节点返回 ErrUnreachable")
}

// TestNetwork_Blackhole 测试黑洞节点超时
func TestNetwork_Blackhole(t *testing.T) {
	n := New()
	a, b := attach(t, n, "a"), attach(t, n, "b")
	n.SetBlackhole(b.Self().ID, true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Send(ctx, b.Self(), protocol.NewPing(a.Self()))
	assert.ErrorIs(t, err, types.ErrTimeout)

	t.Log("✅ 黑洞节点超时")
}

// TestNetwork_Reattach 测试关闭后以同一 ID 重新挂接
func TestNetwork_Reattach(t *testing.T) {
	n := New()
	a := attach(t, n, "a")

	_, err := n.Attach(a.Self())
	assert.ErrorIs(t, err, ErrAlreadyAttached)

	require.NoError(t, a.Close())
	again, err := n.Attach(a.Self())
	require.NoError(t, err)
	assert.Equal(t, a.Self(), again.Self(), "沿用原端点")

	_, err = a.Send(context.Background(), again.Self(), protocol.NewPing(a.Self()))
	assert.ErrorIs(t, err, types.ErrClosed)

	t.Log("✅ 重新挂接正确")
}

// TestNetwork_HandlerError 测试处理器错误
func TestNetwork_HandlerError(t *testing.T) {
	n := New()
	a := attach(t, n, "a")
	b, err := n.Attach(types.PeerAddress{ID: types.HashID("b")})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), b.Self(), protocol.NewPing(a.Self()))
	assert.ErrorIs(t, err, types.ErrUnreachable, "未设置处理器")

	boom := errors.New("boom")
	b.SetHandler(transport.HandlerFunc(func(context.Context, *protocol.Message) (*protocol.Message, error) {
		return nil, boom
	}))
	_, err = a.Send(context.Background(), b.Self(), protocol.NewPing(a.Self()))
	assert.ErrorIs(t, err, boom)
}

// TestNetwork_DropRate 测试按种子丢包可复现
func TestNetwork_DropRate(t *testing.T) {
	run := func() []bool {
		n := New(WithSeed(5467656537115), WithDropRate(0.5))
		a, b := attach(t, n, "a"), attach(t, n, "b")

		out := make([]bool, 0, 20)
		for i := 0; i < 20; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			_, err := a.Send(ctx, b.Self(), protocol.NewPing(a.Self()))
			cancel()
			out = append(out, err == nil)
		}
		return out
	}

	first := run()
	assert.Equal(t, first, run(), "相同种子丢包序列相同")
	assert.Contains(t, first, true)
	assert.Contains(t, first, false)

	t.Log("✅ 丢包可复现")
}

// TestNetwork_SerializesInbound 测试入站请求串行处理
func TestNetwork_SerializesInbound(t *testing.T) {
	n := New()
	b, err := n.Attach(types.PeerAddress{ID: types.HashID("b")})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	b.SetHandler(transport.HandlerFunc(func(_ context.Context, req *protocol.Message) (*protocol.Message, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return protocol.Reply(req, b.Self(), protocol.StatusOK), nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		a := attach(t, n, fmt.Sprintf("client-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Send(context.Background(), b.Self(), protocol.NewPing(a.Self()))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
