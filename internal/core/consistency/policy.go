// Package consistency 提供副本应答的聚合策略
//
// 协调器把每个应答节点的原始结果交给 Policy，由策略决定返回哪一个值。
// 原始结果始终保留，调用方可以事后用更严格的策略重新聚合。
package consistency

import (
	"bytes"
	"sort"

	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// Response 单个节点的读取应答
type Response struct {
	// Peer 应答节点
	Peer types.ID

	// Record 节点持有的记录，nil 表示该节点没有此键
	Record *types.DataRecord
}

// Found 节点是否持有记录
func (r Response) Found() bool {
	return r.Record != nil
}

// Policy 聚合策略
type Policy interface {
	// Aggregate 从应答中选出一个值
	//
	// target 是键的 Location，用于按距离裁决平局。
	// 没有可接受的值时返回 false。
	Aggregate(target types.ID, responses []Response) (types.DataRecord, bool)

	// Name 策略名称
	Name() string
}

// ============================================================================
//                              内置策略
// ============================================================================

// Default 版本优先策略
//
// 取最高版本；同为最高版本的值之间按出现次数裁决；
// 仍然平局时取距离 target 最近的应答节点所持有的值。
var Default Policy = defaultPolicy{}

// Plurality 多数派策略：忽略版本，出现次数最多的值胜出，平局取最近节点
var Plurality Policy = pluralityPolicy{}

// Majority 严格过半策略：某个值必须被超过半数的应答（含未找到）持有
var Majority Policy = majorityPolicy{}

// Unanimous 一致策略：所有应答都持有完全相同的记录
var Unanimous Policy = unanimousPolicy{}

type defaultPolicy struct{}

func (defaultPolicy) Name() string { return "default" }

func (defaultPolicy) Aggregate(target types.ID, responses []Response) (types.DataRecord, bool) {
	var top uint64
	found := false
	for _, r := range responses {
		if r.Found() && (!found || r.Record.Version > top) {
			top = r.Record.Version
			found = true
		}
	}
	if !found {
		return types.DataRecord{}, false
	}

	latest := make([]Response, 0, len(responses))
	for _, r := range responses {
		if r.Found() && r.Record.Version == top {
			latest = append(latest, r)
		}
	}
	return plurality(target, latest)
}

type pluralityPolicy struct{}

func (pluralityPolicy) Name() string { return "plurality" }

func (pluralityPolicy) Aggregate(target types.ID, responses []Response) (types.DataRecord, bool) {
	return plurality(target, responses)
}

type majorityPolicy struct{}

func (majorityPolicy) Name() string { return "majority" }

func (majorityPolicy) Aggregate(target types.ID, responses []Response) (types.DataRecord, bool) {
	groups := groupByValue(target, responses, true)
	if len(groups) == 0 || groups[0].count*2 <= len(responses) {
		return types.DataRecord{}, false
	}
	return groups[0].record.Clone(), true
}

type unanimousPolicy struct{}

func (unanimousPolicy) Name() string { return "unanimous" }

func (unanimousPolicy) Aggregate(target types.ID, responses []Response) (types.DataRecord, bool) {
	groups := groupByValue(target, responses, true)
	if len(groups) != 1 || groups[0].count != len(responses) {
		return types.DataRecord{}, false
	}
	return groups[0].record.Clone(), true
}

// ============================================================================
//                              辅助函数
// ============================================================================

// group 持有同一记录的应答
type group struct {
	record  types.DataRecord
	count   int
	closest types.ID
}

// groupByValue 按值分组（withVersion 时按值与版本），按出现次数降序、最近节点升序排列
//
// 每组保留距离 target 最近的节点所持有的记录。
func groupByValue(target types.ID, responses []Response, withVersion bool) []*group {
	var groups []*group
	for _, r := range responses {
		if !r.Found() {
			continue
		}
		var g *group
		for _, existing := range groups {
			if same(existing.record, *r.Record, withVersion) {
				g = existing
				break
			}
		}
		if g == nil {
			g = &group{record: *r.Record, closest: r.Peer}
			groups = append(groups, g)
		} else if routing.Closer(r.Peer, g.closest, target) {
			g.record, g.closest = *r.Record, r.Peer
		}
		g.count++
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return routing.Closer(groups[i].closest, groups[j].closest, target)
	})
	return groups
}

func same(a, b types.DataRecord, withVersion bool) bool {
	if withVersion {
		return a.SameValue(b)
	}
	return bytes.Equal(a.Value, b.Value)
}

func plurality(target types.ID, responses []Response) (types.DataRecord, bool) {
	groups := groupByValue(target, responses, false)
	if len(groups) == 0 {
		return types.DataRecord{}, false
	}
	return groups[0].record.Clone(), true
}

// Divergent 报告持有记录的应答之间是否存在不同的值
func Divergent(responses []Response) bool {
	var first *types.DataRecord
	for _, r := range responses {
		if !r.Found() {
			continue
		}
		if first == nil {
			first = r.Record
			continue
		}
		if !first.SameValue(*r.Record) {
			return true
		}
	}
	return false
}

// Responses 将按节点索引的原始结果转换为按距离 target 升序的应答列表
func Responses(target types.ID, raw map[types.ID]*types.DataRecord) []Response {
	out := make([]Response, 0, len(raw))
	for id, rec := range raw {
		out = append(out, Response{Peer: id, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		return routing.Closer(out[i].Peer, out[j].Peer, target)
	})
	return out
}

// Apply 用 p 重新聚合原始结果
func Apply(p Policy, target types.ID, raw map[types.ID]*types.DataRecord) (types.DataRecord, bool) {
	if p == nil {
		p = Default
	}
	return p.Aggregate(target, Responses(target, raw))
}

// ByName 按名称查找内置策略
func ByName(name string) (Policy, bool) {
	for _, p := range []Policy{Default, Plurality, Majority, Unanimous} {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}
