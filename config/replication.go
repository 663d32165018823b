package config

import "time"

// ReplicationConfig 副本协调配置
//
// ReplicationFactor / MinimumAccepted / Parallel 是调用方未指定
// 请求配置时使用的默认值，每次 Put/Get 都可以单独覆盖。
type ReplicationConfig struct {
	// ReplicationFactor 目标副本数
	// 默认值: 3
	ReplicationFactor int `json:"replication_factor"`

	// MinimumAccepted 判定成功所需的最少应答数
	// 默认值: 3
	MinimumAccepted int `json:"minimum_accepted"`

	// Parallel 同时在途的请求数，0 表示全部并发
	// 默认值: 3
	Parallel int `json:"parallel"`

	// RequestTimeout 单个节点请求的截止时间，0 表示只受 OperationTimeout 约束
	// 默认值: 5s
	RequestTimeout Duration `json:"request_timeout"`

	// OperationTimeout 整个操作的截止时间，必须大于 0
	// 默认值: 30s
	OperationTimeout Duration `json:"operation_timeout"`

	// IncludeSelf 本节点是否作为候选副本
	// 默认值: true
	IncludeSelf bool `json:"include_self"`

	// IterativeLookup 选目标前是否先做迭代查找
	// 默认值: false
	IterativeLookup bool `json:"iterative_lookup"`

	// Alpha 迭代查找的并发度
	// 默认值: 3
	Alpha int `json:"alpha"`

	// ResponseCacheSize 服务端按请求 ID 缓存应答的条数
	// 默认值: 1024
	ResponseCacheSize int `json:"response_cache_size"`
}

// DefaultReplicationConfig 返回默认的副本协调配置
func DefaultReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		ReplicationFactor: 3,
		MinimumAccepted:   3,
		Parallel:          3,
		RequestTimeout:    Duration(5 * time.Second),
		OperationTimeout:  Duration(30 * time.Second),
		IncludeSelf:       true,
		Alpha:             3,
		ResponseCacheSize: 1024,
	}
}

func (c ReplicationConfig) validate(v *Validator) {
	v.positive("replication.replication_factor", c.ReplicationFactor)
	v.positive("replication.minimum_accepted", c.MinimumAccepted)
	if c.MinimumAccepted > c.ReplicationFactor {
		v.addError("replication.minimum_accepted", "不能大于 replication_factor (%d > %d)",
			c.MinimumAccepted, c.ReplicationFactor)
	}
	if c.Parallel < 0 {
		v.addError("replication.parallel", "不能为负，当前 %d", c.Parallel)
	}
	v.nonNegative("replication.request_timeout", c.RequestTimeout)
	v.positiveDuration("replication.operation_timeout", c.OperationTimeout)
	v.positive("replication.alpha", c.Alpha)
	v.positive("replication.response_cache_size", c.ResponseCacheSize)
}
