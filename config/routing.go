package config

import "time"

// RoutingConfig 路由表配置
type RoutingConfig struct {
	// BucketSize K 桶容量
	// 默认值: 20
	BucketSize int `json:"bucket_size"`

	// ReplacementCacheSize 每个桶的替换缓存容量
	// 默认值: 20
	ReplacementCacheSize int `json:"replacement_cache_size"`

	// MaxFailures 连续失败多少次后从路由表驱逐
	// 默认值: 3
	MaxFailures int `json:"max_failures"`

	// StaleAfter 超过该时长未确认存活的条目可被新节点顶替
	// 默认值: 15m
	StaleAfter Duration `json:"stale_after"`
}

// DefaultRoutingConfig 返回默认的路由表配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		BucketSize:           20,
		ReplacementCacheSize: 20,
		MaxFailures:          3,
		StaleAfter:           Duration(15 * time.Minute),
	}
}

func (c RoutingConfig) validate(v *Validator) {
	v.positive("routing.bucket_size", c.BucketSize)
	v.positive("routing.max_failures", c.MaxFailures)
	if c.ReplacementCacheSize < 0 {
		v.addError("routing.replacement_cache_size", "不能为负，当前 %d", c.ReplacementCacheSize)
	}
	v.nonNegative("routing.stale_after", c.StaleAfter)
}
