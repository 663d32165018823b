// Package simnet 提供进程内模拟网络
//
// 每条消息都经过 protocol 编解码，节点之间不共享任何内存；
// 每个端点串行处理入站请求。网络支持按节点设置离线（立即返回
// ErrUnreachable）与黑洞（请求挂起直到截止时间，返回 ErrTimeout），
// 以及固定延迟和按种子随机的丢包。
package simnet

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// 包级别日志实例
var log = logger.Logger("simnet")

// ErrAlreadyAttached 同一 ID 已有打开的端点
var ErrAlreadyAttached = errors.New("simnet: peer already attached")

// Option 网络选项
type Option func(*Network)

// WithSeed 设置随机种子（影响丢包）
func WithSeed(seed int64) Option {
	return func(n *Network) {
		n.rnd = rand.New(rand.NewSource(seed))
	}
}

// WithLatency 设置单程延迟
func WithLatency(d time.Duration) Option {
	return func(n *Network) {
		n.latency = d
	}
}

// WithDropRate 设置丢包率 [0,1)
func WithDropRate(p float64) Option {
	return func(n *Network) {
		n.dropRate = p
	}
}

// WithClock 设置延迟使用的时钟
func WithClock(clk clock.Clock) Option {
	return func(n *Network) {
		n.clock = clk
	}
}

// Network 模拟网络
type Network struct {
	clock    clock.Clock
	latency  time.Duration
	dropRate float64

	mu        sync.Mutex
	rnd       *rand.Rand
	peers     map[types.ID]*Endpoint
	offline   map[types.ID]bool
	blackhole map[types.ID]bool
	nextPort  int

	delivered atomic.Int64
	failed    atomic.Int64
}

var _ transport.Network = (*Network)(nil)

// New 创建模拟网络
func New(opts ...Option) *Network {
	n := &Network{
		clock:     clock.New(),
		rnd:       rand.New(rand.NewSource(1)),
		peers:     make(map[types.ID]*Endpoint),
		offline:   make(map[types.ID]bool),
		blackhole: make(map[types.ID]bool),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Attach 为 self 创建端点
//
// self.Endpoint 为空时分配 "sim:N"。
func (n *Network) Attach(self types.PeerAddress) (transport.Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.peers[self.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, self.ID)
	}
	if self.Endpoint == "" {
		n.nextPort++
		self.Endpoint = fmt.Sprintf("sim:%d", n.nextPort)
	}

	ep := &Endpoint{net: n, self: self}
	n.peers[self.ID] = ep
	log.Debug("端点已挂接", "peer", self.ID.ShortString(), "endpoint", self.Endpoint)
	return ep, nil
}

// SetOffline 设置节点离线：发往该节点的请求立即返回 ErrUnreachable
func (n *Network) SetOffline(id types.ID, offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline[id] = offline
}

// SetBlackhole 设置节点黑洞：发往该节点的请求挂起直到截止时间
func (n *Network) SetBlackhole(id types.ID, on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blackhole[id] = on
}

// Peers 返回所有已挂接的节点地址
func (n *Network) Peers() []types.PeerAddress {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]types.PeerAddress, 0, len(n.peers))
	for _, ep := range n.peers {
		out = append(out, ep.self)
	}
	return out
}

// Stats 返回投递成功与失败的消息数
func (n *Network) Stats() (delivered, failed int64) {
	return n.delivered.Load(), n.failed.Load()
}

// route 查找目标端点并决定投递方式
func (n *Network) route(to types.ID) (ep *Endpoint, hole bool, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.offline[to] {
		return nil, false, types.ErrUnreachable
	}
	ep, ok := n.peers[to]
	if !ok {
		return nil, false, types.ErrUnreachable
	}
	if n.blackhole[to] {
		return nil, true, nil
	}
	if n.dropRate > 0 && n.rnd.Float64() < n.dropRate {
		return nil, true, nil
	}
	return ep, false, nil
}

func (n *Network) detach(id types.ID, ep *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[id] == ep {
		delete(n.peers, id)
	}
}

func (n *Network) wait(ctx context.Context) error {
	if n.latency <= 0 {
		return nil
	}
	select {
	case <-n.clock.After(n.latency):
		return nil
	case <-ctx.Done():
		return ctxErr(ctx)
	}
}

// ============================================================================
//                              Endpoint
// ============================================================================

// Endpoint 模拟网络端点
type Endpoint struct {
	net  *Network
	self types.PeerAddress

	handler atomic.Pointer[handlerBox]
	closed  atomic.Bool

	// inbound 串行化入站处理
	inbound sync.Mutex
}

type handlerBox struct {
	h transport.Handler
}

var _ transport.Endpoint = (*Endpoint)(nil)

// Self 返回端点地址
func (e *Endpoint) Self() types.PeerAddress {
	return e.self
}

// SetHandler 设置入站请求处理器
func (e *Endpoint) SetHandler(h transport.Handler) {
	e.handler.Store(&handlerBox{h: h})
}

// Close 从网络摘除端点
func (e *Endpoint) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.net.detach(e.self.ID, e)
	}
	return nil
}

// Send 发送请求并等待应答
func (e *Endpoint) Send(ctx context.Context, to types.PeerAddress, msg *protocol.Message) (*protocol.Message, error) {
	resp, err := e.send(ctx, to, msg)
	if err != nil {
		e.net.failed.Add(1)
		return nil, err
	}
	e.net.delivered.Add(1)
	return resp, nil
}

func (e *Endpoint) send(ctx context.Context, to types.PeerAddress, msg *protocol.Message) (*protocol.Message, error) {
	if e.closed.Load() {
		return nil, types.ErrClosed
	}

	data, err := protocol.Marshal(msg)
	if err != nil {
		return nil, err
	}

	target, hole, err := e.net.route(to.ID)
	if err != nil {
		return nil, err
	}
	if hole {
		<-ctx.Done()
		return nil, ctxErr(ctx)
	}
	if err := e.net.wait(ctx); err != nil {
		return nil, err
	}

	respData, err := target.deliver(ctx, data)
	if err != nil {
		return nil, err
	}

	if err := e.net.wait(ctx); err != nil {
		return nil, err
	}
	return protocol.Unmarshal(respData)
}

// deliver 在目标端点上处理一条已编码的请求
func (e *Endpoint) deliver(ctx context.Context, data []byte) ([]byte, error) {
	e.inbound.Lock()
	defer e.inbound.Unlock()

	if e.closed.Load() {
		return nil, types.ErrUnreachable
	}
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(ctx)
	}
	box := e.handler.Load()
	if box == nil || box.h == nil {
		return nil, types.ErrUnreachable
	}

	req, err := protocol.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	resp, err := box.h.HandleMessage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", e.self.ID.ShortString(), err)
	}
	return protocol.Marshal(resp)
}

// ctxErr 将截止时间映射为 ErrTimeout，取消原样返回
func ctxErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrTimeout, err)
	}
	return err
}
