package replication

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ErrNoPeers 路由表为空，无法开始查找
var ErrNoPeers = errors.New("replication: no peers to query")

// Lookup 迭代查找距离 target 最近的 n 个节点
//
// 每轮向 Alpha 个尚未查询的最近候选发送 FIND_NODE，合并返回的节点，
// 直到最近的 n 个候选全部查询过。无应答的候选被剔除。
func (c *Coordinator) Lookup(ctx context.Context, target types.ID, n int) ([]types.PeerAddress, error) {
	initial := c.table.ClosestPeers(target, n)
	if len(initial) == 0 {
		return nil, ErrNoPeers
	}

	opCtx, cancel := c.operationContext(ctx)
	defer cancel()

	q := &lookup{
		target:  target,
		n:       n,
		self:    c.self.ID,
		known:   make(map[types.ID]types.PeerAddress),
		queried: make(map[types.ID]bool),
		failed:  make(map[types.ID]bool),
	}
	q.add(initial)

	alpha := c.cfg.Alpha
	if alpha <= 0 {
		alpha = 1
	}

	rounds := 0
	for {
		batch := q.next(alpha)
		if len(batch) == 0 {
			break
		}
		rounds++

		g, gctx := errgroup.WithContext(opCtx)
		for _, p := range batch {
			p := p
			g.Go(func() error {
				rctx, rcancel := c.requestContext(gctx)
				defer rcancel()
				resp, err := c.call(rctx, p, protocol.NewFindNode(c.self, target, n))
				if err == nil {
					err = resp.Err()
				}
				if err != nil {
					q.drop(p.ID)
					return nil
				}
				q.add(resp.Peers)
				return nil
			})
		}
		_ = g.Wait()

		if err := opCtx.Err(); err != nil {
			log.Debug("迭代查找中止", "target", target.ShortString(), "rounds", rounds, "err", err)
			break
		}
	}

	out := q.closest(n)
	log.Debug("迭代查找完成",
		"target", target.ShortString(),
		"rounds", rounds,
		"found", len(out))
	return out, nil
}

// lookup 单次迭代查找的状态
type lookup struct {
	target types.ID
	n      int
	self   types.ID

	mu      sync.Mutex
	known   map[types.ID]types.PeerAddress
	queried map[types.ID]bool
	failed  map[types.ID]bool
}

func (q *lookup) add(peers []types.PeerAddress) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range peers {
		if p.ID == q.self || p.ID.IsZero() {
			continue
		}
		if q.failed[p.ID] {
			continue
		}
		q.known[p.ID] = p
	}
}

func (q *lookup) drop(id types.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.known, id)
	q.failed[id] = true
}

// next 取最近 n 个候选中尚未查询的至多 alpha 个，并标记为已查询
func (q *lookup) next(alpha int) []types.PeerAddress {
	q.mu.Lock()
	defer q.mu.Unlock()
	var batch []types.PeerAddress
	for _, p := range q.sortedLocked(q.n) {
		if q.queried[p.ID] {
			continue
		}
		q.queried[p.ID] = true
		batch = append(batch, p)
		if len(batch) == alpha {
			break
		}
	}
	return batch
}

func (q *lookup) closest(n int) []types.PeerAddress {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sortedLocked(n)
}

func (q *lookup) sortedLocked(n int) []types.PeerAddress {
	out := make([]types.PeerAddress, 0, len(q.known))
	for _, p := range q.known {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return routing.Closer(out[i].ID, out[j].ID, q.target)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
