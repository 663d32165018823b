// Package routing 提供基于 XOR 距离的路由表
//
// 路由表按与本地 ID 的共同前缀长度分为 160 个 K 桶，
// 桶容量有界，保留的节点偏向于距离本地更近的节点。
package routing

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// 包级别日志实例
var log = logger.Logger("routing")

// ============================================================================
//                              路由表
// ============================================================================

// Table Kademlia 路由表
//
// 单个互斥锁保护全部状态；所有方法并发安全，不会因表为空而失败。
type Table struct {
	self   types.ID
	config Config
	clock  clock.Clock

	buckets [types.IDBits]*bucket

	// 所有在表条目的索引
	index map[types.ID]*entry

	mu sync.RWMutex
}

// NewTable 创建路由表
func NewTable(self types.ID, cfg Config, clk clock.Clock) *Table {
	if clk == nil {
		clk = clock.New()
	}
	t := &Table{
		self:   self,
		config: cfg,
		clock:  clk,
		index:  make(map[types.ID]*entry),
	}
	for i := range t.buckets {
		t.buckets[i] = &bucket{}
	}
	return t
}

// Self 返回本地 ID
func (t *Table) Self() types.ID {
	return t.self
}

// ============================================================================
//                              成员操作
// ============================================================================

// Insert 添加或刷新节点
//
// 已存在的节点更新地址（最新为准）、清零失败计数并移到桶前端。
// 桶满时：新节点严格比桶内最远节点更接近本地，则顶替最远节点；
// 否则只有最久未确认的节点可被顶替（有失败记录或超过 StaleAfter 未确认）；
// 都不满足时新节点进入替换缓存。返回新节点是否在表中。
func (t *Table) Insert(addr types.PeerAddress) bool {
	if addr.ID == t.self {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	idx := BucketIndex(t.self, addr.ID)
	b := t.buckets[idx]

	if e, ok := t.index[addr.ID]; ok {
		e.addr = addr
		e.lastConfirmed = now
		e.failures = 0
		b.moveToFront(b.indexOf(addr.ID))
		return true
	}

	e := &entry{addr: addr, added: now, lastConfirmed: now}
	b.removeReplacement(addr.ID)

	if len(b.entries) < t.config.BucketSize {
		b.pushFront(e)
		t.index[addr.ID] = e
		return true
	}

	victim := t.displaceable(b, addr.ID)
	if victim < 0 {
		b.addReplacement(e, t.config.ReplacementCacheSize)
		log.Debug("桶已满，加入替换缓存",
			"peer", addr.ID.ShortString(),
			"bucket", idx)
		return false
	}

	old := b.removeAt(victim)
	delete(t.index, old.addr.ID)
	b.pushFront(e)
	t.index[addr.ID] = e

	log.Debug("桶已满，顶替旧节点",
		"peer", addr.ID.ShortString(),
		"evicted", old.addr.ID.ShortString(),
		"bucket", idx)
	return true
}

// displaceable 选出可被 incoming 顶替的条目，没有返回 -1
func (t *Table) displaceable(b *bucket, incoming types.ID) int {
	if far := b.farthestFrom(t.self); far >= 0 && Closer(incoming, b.entries[far].addr.ID, t.self) {
		return far
	}

	lru := len(b.entries) - 1
	e := b.entries[lru]
	if e.failures > 0 {
		return lru
	}
	if t.config.StaleAfter > 0 && t.clock.Since(e.lastConfirmed) > t.config.StaleAfter {
		return lru
	}
	return -1
}

// Remove 显式移除节点（节点离开或被驱逐）
//
// 移除后从替换缓存补充最新的候选。返回节点是否曾在表中。
func (t *Table) Remove(id types.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *Table) removeLocked(id types.ID) bool {
	b := t.buckets[BucketIndex(t.self, id)]
	if _, ok := t.index[id]; !ok {
		return b.removeReplacement(id)
	}

	b.removeAt(b.indexOf(id))
	delete(t.index, id)

	if r := b.popReplacement(); r != nil {
		r.lastConfirmed = t.clock.Now()
		b.entries = append(b.entries, r)
		t.index[r.addr.ID] = r
	}
	return true
}

// MarkUnresponsive 记录一次失败
//
// 连续失败达到 MaxFailures 时条目被驱逐（隐含 Remove），返回 true。
func (t *Table) MarkUnresponsive(id types.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.index[id]
	if !ok {
		return false
	}
	e.failures++
	if e.failures < t.config.MaxFailures {
		return false
	}

	t.removeLocked(id)
	log.Debug("节点连续失败，已驱逐",
		"peer", id.ShortString(),
		"failures", e.failures)
	return true
}

// MarkAlive 确认节点存活：清零失败计数并移到桶前端
func (t *Table) MarkAlive(id types.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.index[id]
	if !ok {
		return false
	}
	e.failures = 0
	e.lastConfirmed = t.clock.Now()
	b := t.buckets[BucketIndex(t.self, id)]
	b.moveToFront(b.indexOf(id))
	return true
}

// ============================================================================
//                              查询操作
// ============================================================================

// Find 查找节点地址
func (t *Table) Find(id types.ID) (types.PeerAddress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.index[id]; ok {
		return e.addr, true
	}
	return types.PeerAddress{}, false
}

// Failures 返回节点当前的连续失败次数
func (t *Table) Failures(id types.ID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.index[id]; ok {
		return e.failures
	}
	return 0
}

// Size 返回路由表大小
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

// Peers 返回所有节点，按到本地的距离升序
func (t *Table) Peers() []types.PeerAddress {
	return t.ClosestPeers(t.self, t.Size())
}

// BucketSizes 返回非空桶的大小
func (t *Table) BucketSizes() map[int]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sizes := make(map[int]int)
	for i, b := range t.buckets {
		if len(b.entries) > 0 {
			sizes[i] = len(b.entries)
		}
	}
	return sizes
}

// ClosestPeers 返回最多 n 个距离 target 最近的已知节点，按距离升序
//
// 从离 target 最近的桶向外迭代，耗时与桶数量成正比而非节点总数：
//
//	c = CommonPrefixLen(self, target)
//	组 1: 桶 c                （与 target 共享前 c+1 位）
//	组 2: 桶 c+1 .. 159 合并   （距离最高位为 c）
//	组 3: 桶 c-1, c-2, .. 0    （每个桶单独成组，逐组变远）
//
// 每组内部按 (距离, ID) 排序；凑够 n 个后在组边界停止。
// 已知节点不足 n 个时返回全部，不报错。
func (t *Table) ClosestPeers(target types.ID, n int) []types.PeerAddress {
	if n <= 0 {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]types.PeerAddress, 0, min(n, len(t.index)))
	var group []types.PeerAddress

	flush := func() bool {
		sort.Slice(group, func(i, j int) bool {
			return Closer(group[i].ID, group[j].ID, target)
		})
		result = append(result, group...)
		group = group[:0]
		return len(result) >= n
	}

	c := CommonPrefixLen(t.self, target)
	if c < types.IDBits {
		group = t.appendBucket(group, c)
		if flush() {
			return result[:n]
		}
		for i := c + 1; i < types.IDBits; i++ {
			group = t.appendBucket(group, i)
		}
		if flush() {
			return result[:n]
		}
	}

	for i := min(c, types.IDBits) - 1; i >= 0; i-- {
		if len(t.buckets[i].entries) == 0 {
			continue
		}
		group = t.appendBucket(group, i)
		if flush() {
			return result[:n]
		}
	}

	return result
}

// appendBucket 将桶 i 的地址追加到 dst
func (t *Table) appendBucket(dst []types.PeerAddress, i int) []types.PeerAddress {
	for _, e := range t.buckets[i].entries {
		dst = append(dst, e.addr)
	}
	return dst
}
