package routing

import (
	"fmt"
	"time"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// Config 路由表配置
type Config struct {
	// BucketSize K 桶容量
	BucketSize int

	// ReplacementCacheSize 每个桶的替换缓存容量
	ReplacementCacheSize int

	// MaxFailures 连续失败多少次后驱逐
	MaxFailures int

	// StaleAfter 超过该时长未确认存活的条目可被新节点顶替
	StaleAfter time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BucketSize:           20,
		ReplacementCacheSize: 20,
		MaxFailures:          3,
		StaleAfter:           15 * time.Minute,
	}
}

// ConfigFromUnified 从统一配置提取路由表配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	r := cfg.Routing
	if r.BucketSize > 0 {
		c.BucketSize = r.BucketSize
	}
	if r.ReplacementCacheSize > 0 {
		c.ReplacementCacheSize = r.ReplacementCacheSize
	}
	if r.MaxFailures > 0 {
		c.MaxFailures = r.MaxFailures
	}
	if r.StaleAfter > 0 {
		c.StaleAfter = r.StaleAfter.Duration()
	}
	return c
}

// Validate 检查配置
func (c Config) Validate() error {
	if c.BucketSize <= 0 {
		return fmt.Errorf("%w: routing bucket size must be positive", types.ErrInvalidConfig)
	}
	if c.MaxFailures <= 0 {
		return fmt.Errorf("%w: routing max failures must be positive", types.ErrInvalidConfig)
	}
	if c.ReplacementCacheSize < 0 {
		return fmt.Errorf("%w: routing replacement cache size must not be negative", types.ErrInvalidConfig)
	}
	return nil
}
