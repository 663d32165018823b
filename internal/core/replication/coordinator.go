package replication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/consistency"
	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

var log = logger.Logger("replication")

// Observer 接收出站请求的结果
//
// 聚合门之后到达的应答同样会通知观察者，用于刷新路由表。
type Observer interface {
	// RequestSucceeded 节点给出了应答
	RequestSucceeded(addr types.PeerAddress)

	// RequestFailed 请求未能投递或超时
	RequestFailed(id types.ID, err error)
}

// Coordinator 副本协调器
type Coordinator struct {
	self  types.PeerAddress
	tr    transport.Transport
	table *routing.Table
	cfg   config.ReplicationConfig

	local    transport.Handler
	observer Observer
	metrics  *metrics.Metrics
	policy   consistency.Policy
	clk      clock.Clock

	stampMu   sync.Mutex
	lastStamp uint64
}

// New 创建副本协调器
func New(self types.PeerAddress, tr transport.Transport, table *routing.Table,
	cfg config.ReplicationConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		self:   self,
		tr:     tr,
		table:  table,
		cfg:    cfg,
		policy: consistency.Default,
		clk:    clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy 返回 Get 使用的聚合策略
func (c *Coordinator) Policy() consistency.Policy {
	return c.policy
}

// DefaultRequest 返回配置中的默认请求配置
func (c *Coordinator) DefaultRequest() RequestConfig {
	return RequestFromConfig(c.cfg)
}

// ============================================================================
//                              Put / Get
// ============================================================================

// Put 向 key 的副本集合写入 value
//
// 成功数达到 MinimumAccepted 即返回；剩余请求（包括尚未派发的目标）
// 在后台继续，结果通过 Result.Wait 获取。返回的 Result 总是非 nil。
func (c *Coordinator) Put(ctx context.Context, key types.CompoundKey, value []byte,
	rc RequestConfig, opts ...PutOption) (*Result, error) {
	po := putOptions{overwrite: true}
	for _, opt := range opts {
		opt(&po)
	}

	res := newResult("put", key, rc)
	if err := rc.Validate(); err != nil {
		return c.fail(res, err)
	}

	rec := types.DataRecord{Value: value, TTL: po.ttl}
	if po.hasVersion {
		rec.Version = po.version
	} else {
		rec.Version = c.nextStamp()
	}

	if err := c.prepare(ctx, res, rc); err != nil {
		return c.fail(res, err)
	}
	if len(res.Targets) < rc.MinimumAccepted {
		return c.fail(res, fmt.Errorf("%w: %d targets available, %d required",
			types.ErrInsufficientReplicas, len(res.Targets), rc.MinimumAccepted))
	}

	start := c.clk.Now()
	stopped := c.fanout(ctx, res, rc, false, stored, func(rctx context.Context, to types.PeerAddress) Outcome {
		resp, err := c.call(rctx, to, protocol.NewStore(c.self, key, rec, po.overwrite))
		if err == nil {
			err = resp.Err()
		}
		return Outcome{Err: err}
	})

	res.Success = res.QuorumReached
	if !res.Success {
		res.Err = newOpError(res.Op, key, gateError(stopped, res, rc))
	}
	c.report(res, start)
	return res, res.Err
}

// Get 从 key 的副本集合读取
//
// 收到 MinimumAccepted 个应答（含未找到）或全部结束即停止等待，
// 门之后不再派发新请求。至少一个应答即为成功，不论应答是否一致。
func (c *Coordinator) Get(ctx context.Context, key types.CompoundKey, rc RequestConfig) (*Result, error) {
	res := newResult("get", key, rc)
	if err := rc.Validate(); err != nil {
		return c.fail(res, err)
	}
	if err := c.prepare(ctx, res, rc); err != nil {
		return c.fail(res, err)
	}

	start := c.clk.Now()
	stopped := c.fanout(ctx, res, rc, true, Outcome.Answered, func(rctx context.Context, to types.PeerAddress) Outcome {
		resp, err := c.call(rctx, to, protocol.NewGet(c.self, key))
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return Outcome{Err: err}
		}
		if resp.Record == nil {
			return Outcome{Err: types.ErrNotFound}
		}
		rec := *resp.Record
		return Outcome{Record: &rec}
	})

	res.Success = res.Answered() > 0
	if !res.Success {
		res.Err = newOpError(res.Op, key, gateError(stopped, res, rc))
		c.report(res, start)
		return res, res.Err
	}

	if v, ok := c.policy.Aggregate(key.Location, res.Responses()); ok {
		res.Value = &v
	}
	if res.Divergent() {
		c.metrics.ObserveDivergence(res.Op)
		log.Debug("副本分歧",
			"key", key.Location.ShortString(),
			"rf", rc.ReplicationFactor,
			"answered", res.Answered())
	}
	c.report(res, start)
	return res, nil
}

// Digest 收集副本集合中每个节点在 location/domain 下的键和版本
func (c *Coordinator) Digest(ctx context.Context, location, domain types.ID, rc RequestConfig) (*Result, error) {
	key := types.CompoundKey{Location: location, Domain: domain}
	res := newResult("digest", key, rc)
	if err := rc.Validate(); err != nil {
		return c.fail(res, err)
	}
	if err := c.prepare(ctx, res, rc); err != nil {
		return c.fail(res, err)
	}

	start := c.clk.Now()
	stopped := c.fanout(ctx, res, rc, true, Outcome.Answered, func(rctx context.Context, to types.PeerAddress) Outcome {
		resp, err := c.call(rctx, to, protocol.NewDigest(c.self, location, domain))
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return Outcome{Err: err}
		}
		return Outcome{Digest: resp.Digest}
	})

	res.Success = res.Answered() > 0
	if !res.Success {
		res.Err = newOpError(res.Op, key, gateError(stopped, res, rc))
	}
	c.report(res, start)
	return res, res.Err
}

// ============================================================================
//                              目标选择
// ============================================================================

// prepare 选出目标并写入 res
func (c *Coordinator) prepare(ctx context.Context, res *Result, rc RequestConfig) error {
	targets := c.selectTargets(ctx, res.Key.Location, rc.ReplicationFactor)
	if len(targets) == 0 {
		return fmt.Errorf("%w: no peers known", types.ErrInsufficientReplicas)
	}
	res.Targets = targets
	res.UnderFilled = len(targets) < rc.ReplicationFactor
	if res.UnderFilled {
		log.Debug("副本目标不足",
			"key", res.Key.Location.ShortString(),
			"want", rc.ReplicationFactor,
			"have", len(targets))
	}
	return nil
}

// selectTargets 返回距离 location 最近的 n 个目标
func (c *Coordinator) selectTargets(ctx context.Context, location types.ID, n int) []types.PeerAddress {
	var peers []types.PeerAddress
	if c.cfg.IterativeLookup {
		found, err := c.Lookup(ctx, location, n)
		if err != nil {
			log.Debug("迭代查找失败，使用路由表", "target", location.ShortString(), "err", err)
			found = c.table.ClosestPeers(location, n)
		}
		peers = found
	} else {
		peers = c.table.ClosestPeers(location, n)
	}

	if c.cfg.IncludeSelf && c.local != nil {
		peers = append(peers, c.self)
	}
	peers = dedupe(peers)
	sort.SliceStable(peers, func(i, j int) bool {
		return routing.Closer(peers[i].ID, peers[j].ID, location)
	})
	if len(peers) > n {
		peers = peers[:n]
	}
	return peers
}

func dedupe(peers []types.PeerAddress) []types.PeerAddress {
	seen := make(map[types.ID]struct{}, len(peers))
	out := peers[:0]
	for _, p := range peers {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ============================================================================
//                              扇出
// ============================================================================

// stored Put 的计数条件
func stored(o Outcome) bool {
	return o.Err == nil
}

// fanout 向 res.Targets 并发派发请求并在聚合门处返回
//
// 门之前由调用协程按距离顺序派发；
// 门之后 stopAtGate 为 false 时剩余目标在后台继续派发，
// 排空协程收尾并关闭 res.done。返回值表示门是否因上下文结束而提前打开。
func (c *Coordinator) fanout(ctx context.Context, res *Result, rc RequestConfig, stopAtGate bool,
	counts func(Outcome) bool, do func(ctx context.Context, to types.PeerAddress) Outcome) bool {
	targets := res.Targets
	outcomes := make(chan Outcome, len(targets))
	bg := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(rc.parallelism(len(targets))))

	launch := func(to types.PeerAddress) {
		go func() {
			rctx, cancel := c.requestContext(bg)
			start := c.clk.Now()
			o := do(rctx, to)
			cancel()
			o.Peer = to
			o.Latency = c.clk.Since(start)
			// 先释放再投递，收到结果时名额一定已经归还
			sem.Release(1)
			outcomes <- o
		}()
	}

	// 门之前在途数不超过 Parallel，且已接受数加在途数不超过 budget：
	// 成功的应答不触发补发，失败的应答补发下一个目标
	parallel := rc.parallelism(len(targets))
	budget := max(rc.MinimumAccepted, parallel)
	next, inflight, accepted := 0, 0, 0
	fill := func() {
		for next < len(targets) && inflight < parallel && accepted+inflight < budget && sem.TryAcquire(1) {
			launch(targets[next])
			next++
			inflight++
		}
	}

	opCtx, cancel := c.operationContext(ctx)
	defer cancel()

	fill()
	received := 0
	stopped := false
gate:
	for received < len(targets) && accepted < rc.MinimumAccepted {
		select {
		case o := <-outcomes:
			received++
			inflight--
			res.record(o)
			if counts(o) {
				accepted++
			}
			if accepted < rc.MinimumAccepted {
				fill()
			}
		case <-opCtx.Done():
			stopped = true
			break gate
		}
	}

	res.QuorumReached = accepted >= rc.MinimumAccepted
	res.snapshot()

	rest := targets[next:]
	if stopAtGate {
		rest = nil
	}
	pending := next - received + len(rest)

	go func() {
		for _, to := range rest {
			// bg 不会被取消，Acquire 只会等待
			_ = sem.Acquire(bg, 1)
			launch(to)
		}
	}()
	go func() {
		for ; pending > 0; pending-- {
			res.record(<-outcomes)
		}
		close(res.done)
	}()

	return stopped
}

// call 发送一次请求；目标为本节点时在进程内处理
func (c *Coordinator) call(ctx context.Context, to types.PeerAddress, msg *protocol.Message) (*protocol.Message, error) {
	var (
		resp *protocol.Message
		err  error
	)
	if to.ID == c.self.ID {
		if c.local == nil {
			err = types.ErrUnreachable
		} else {
			resp, err = c.local.HandleMessage(ctx, msg)
		}
	} else {
		resp, err = c.tr.Send(ctx, to, msg)
	}
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: empty response", types.ErrUnreachable)
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, types.ErrTimeout) {
		err = fmt.Errorf("%w: %w", types.ErrTimeout, err)
	}

	if err != nil {
		c.metrics.ObserveRequest(msg.Type.String(), err)
	} else {
		c.metrics.ObserveRequest(msg.Type.String(), resp.Err())
	}

	if to.ID != c.self.ID && c.observer != nil {
		if err != nil {
			c.observer.RequestFailed(to.ID, err)
		} else {
			c.observer.RequestSucceeded(to)
		}
	}
	return resp, err
}

func (c *Coordinator) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if d := c.cfg.RequestTimeout.Duration(); d > 0 {
		return c.clk.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

func (c *Coordinator) operationContext(parent context.Context) (context.Context, context.CancelFunc) {
	if d := c.cfg.OperationTimeout.Duration(); d > 0 {
		return c.clk.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

// gateError 返回未达到法定数时的错误
func gateError(stopped bool, res *Result, rc RequestConfig) error {
	if stopped {
		return fmt.Errorf("%w: %w", types.ErrInsufficientReplicas, types.ErrTimeout)
	}
	return fmt.Errorf("%w: %d of %d required (%s)",
		types.ErrInsufficientReplicas, res.Answered(), rc.MinimumAccepted, rc)
}

// fail 以 err 结束一个未派发请求的操作
func (c *Coordinator) fail(res *Result, err error) (*Result, error) {
	res.Err = newOpError(res.Op, res.Key, err)
	res.finish()
	c.metrics.ObserveOperation(res.Op, outcomeLabel(res), 0)
	return res, res.Err
}

func (c *Coordinator) report(res *Result, start time.Time) {
	d := c.clk.Since(start)
	c.metrics.ObserveOperation(res.Op, outcomeLabel(res), d)
	log.Debug("副本操作完成",
		"op", res.Op,
		"key", res.Key.Location.ShortString(),
		"rf", res.Config.ReplicationFactor,
		"targets", len(res.Targets),
		"answered", res.Answered(),
		"success", res.Success,
		"duration", d)
}

func outcomeLabel(res *Result) string {
	switch {
	case res.Success:
		return "ok"
	case errors.Is(res.Err, types.ErrInvalidConfig):
		return "invalid"
	case errors.Is(res.Err, types.ErrTimeout):
		return "timeout"
	default:
		return "insufficient"
	}
}

// nextStamp 返回严格递增的时钟版本戳
func (c *Coordinator) nextStamp() uint64 {
	c.stampMu.Lock()
	defer c.stampMu.Unlock()
	now := uint64(c.clk.Now().UnixNano())
	if now <= c.lastStamp {
		now = c.lastStamp + 1
	}
	c.lastStamp = now
	return now
}
