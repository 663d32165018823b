package replication

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-kvdht/internal/core/consistency"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
//                              单节点结果
// ============================================================================

// Outcome 单个目标节点的请求结果
type Outcome struct {
	Peer types.PeerAddress

	// Record Get 命中时的记录
	Record *types.DataRecord

	// Digest Digest 请求的应答
	Digest []types.DigestEntry

	// Err 请求错误；Get 未命中时为 types.ErrNotFound
	Err error

	// Latency 请求耗时
	Latency time.Duration
}

// Answered 节点是否给出了应答（含未找到）
func (o Outcome) Answered() bool {
	return o.Err == nil || errors.Is(o.Err, types.ErrNotFound)
}

// Found 是否命中记录
func (o Outcome) Found() bool {
	return o.Err == nil && o.Record != nil
}

// ============================================================================
//                              操作结果
// ============================================================================

// Result 副本操作结果
//
// 调用返回时 Raw 是聚合门处的快照；门之后到达的应答只写入最终结果表，
// 通过 Wait 获取。
type Result struct {
	Op     string
	Key    types.CompoundKey
	Config RequestConfig

	// Targets 按距离升序的目标节点
	Targets []types.PeerAddress

	// UnderFilled 可用目标少于 ReplicationFactor
	UnderFilled bool

	// QuorumReached 至少 MinimumAccepted 个节点应答成功
	QuorumReached bool

	// Success 操作是否成功
	//
	// Put 需要达到 MinimumAccepted；Get 只需至少一个应答。
	Success bool

	// Value Get 的聚合值，没有节点持有时为 nil
	Value *types.DataRecord

	// Err 操作失败时的错误
	Err error

	// Raw 聚合门处的原始结果
	Raw map[types.ID]Outcome

	mu    sync.Mutex
	final map[types.ID]Outcome
	done  chan struct{}
}

func newResult(op string, key types.CompoundKey, rc RequestConfig) *Result {
	return &Result{
		Op:     op,
		Key:    key,
		Config: rc,
		Raw:    make(map[types.ID]Outcome),
		final:  make(map[types.ID]Outcome),
		done:   make(chan struct{}),
	}
}

// record 写入最终结果表
func (r *Result) record(o Outcome) {
	r.mu.Lock()
	r.final[o.Peer.ID] = o
	r.mu.Unlock()
}

// snapshot 复制当前结果表到 Raw
func (r *Result) snapshot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Raw = make(map[types.ID]Outcome, len(r.final))
	for id, o := range r.final {
		r.Raw[id] = o
	}
}

// finish 在未派发任何请求时直接结束
func (r *Result) finish() {
	close(r.done)
}

// Done 所有请求结束后关闭
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait 等待门之后的请求排空并返回最终结果表
func (r *Result) Wait(ctx context.Context) (map[types.ID]Outcome, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.ID]Outcome, len(r.final))
	for id, o := range r.final {
		out[id] = o
	}
	return out, nil
}

// Answered 返回 Raw 中应答的节点数
func (r *Result) Answered() int {
	n := 0
	for _, o := range r.Raw {
		if o.Answered() {
			n++
		}
	}
	return n
}

// Records 返回 Raw 中应答节点的记录，未找到的节点为 nil
func (r *Result) Records() map[types.ID]*types.DataRecord {
	out := make(map[types.ID]*types.DataRecord, len(r.Raw))
	for id, o := range r.Raw {
		if !o.Answered() {
			continue
		}
		out[id] = o.Record
	}
	return out
}

// Responses 返回按距离升序的应答列表
func (r *Result) Responses() []consistency.Response {
	return consistency.Responses(r.Key.Location, r.Records())
}

// Divergent 应答节点之间是否存在分歧
func (r *Result) Divergent() bool {
	return consistency.Divergent(r.Responses())
}

// Aggregate 用 p 重新聚合 Raw
func (r *Result) Aggregate(p consistency.Policy) (types.DataRecord, bool) {
	return consistency.Apply(p, r.Key.Location, r.Records())
}

// PeerErrors 合并 Raw 中的节点错误（不含未找到）
func (r *Result) PeerErrors() error {
	ids := make([]types.ID, 0, len(r.Raw))
	for id, o := range r.Raw {
		if !o.Answered() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return routing.Closer(ids[i], ids[j], r.Key.Location)
	})

	var err error
	for _, id := range ids {
		err = multierr.Append(err, &PeerError{Peer: id, Err: r.Raw[id].Err})
	}
	return err
}
