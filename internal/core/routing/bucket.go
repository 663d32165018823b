package routing

import (
	"time"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
//                              路由表条目
// ============================================================================

// entry 路由表条目
type entry struct {
	addr types.PeerAddress

	// added 加入路由表的时间
	added time.Time

	// lastConfirmed 最后一次确认存活的时间
	lastConfirmed time.Time

	// failures 连续失败次数
	failures int
}

// ============================================================================
//                              K 桶
// ============================================================================

// bucket K 桶
//
// entries 按最近确认时间排列，越靠前越新。
// 桶本身不加锁，由 Table 的互斥锁统一保护。
type bucket struct {
	entries []*entry

	// 替换缓存（桶满时存放候选节点，越靠后越新）
	replacements []*entry
}

// indexOf 返回条目位置，不存在返回 -1
func (b *bucket) indexOf(id types.ID) int {
	for i, e := range b.entries {
		if e.addr.ID == id {
			return i
		}
	}
	return -1
}

// moveToFront 将第 i 个条目移动到最前
func (b *bucket) moveToFront(i int) {
	e := b.entries[i]
	copy(b.entries[1:i+1], b.entries[:i])
	b.entries[0] = e
}

// pushFront 在最前插入条目
func (b *bucket) pushFront(e *entry) {
	b.entries = append(b.entries, nil)
	copy(b.entries[1:], b.entries)
	b.entries[0] = e
}

// removeAt 移除第 i 个条目
func (b *bucket) removeAt(i int) *entry {
	e := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return e
}

// farthestFrom 返回距离 self 最远的条目位置
func (b *bucket) farthestFrom(self types.ID) int {
	far := -1
	for i, e := range b.entries {
		if far < 0 || Closer(b.entries[far].addr.ID, e.addr.ID, self) {
			far = i
		}
	}
	return far
}

// addReplacement 加入替换缓存；已存在则更新并移到末尾
func (b *bucket) addReplacement(e *entry, limit int) {
	if limit <= 0 {
		return
	}
	b.removeReplacement(e.addr.ID)
	if len(b.replacements) >= limit {
		b.replacements = b.replacements[1:]
	}
	b.replacements = append(b.replacements, e)
}

// removeReplacement 从替换缓存移除
func (b *bucket) removeReplacement(id types.ID) bool {
	for i, r := range b.replacements {
		if r.addr.ID == id {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			return true
		}
	}
	return false
}

// popReplacement 取出最新的替换候选
func (b *bucket) popReplacement() *entry {
	n := len(b.replacements)
	if n == 0 {
		return nil
	}
	e := b.replacements[n-1]
	b.replacements = b.replacements[:n-1]
	return e
}
