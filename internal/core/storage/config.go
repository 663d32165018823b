package storage

import (
	"fmt"
	"time"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// Config 存储配置
type Config struct {
	// Engine 存储引擎名称
	Engine string

	// SweepInterval 后台清理周期，0 表示不启动后台清理
	SweepInterval time.Duration

	// DefaultTTL 未指定 TTL 的记录使用的存活时间，0 表示永不过期
	DefaultTTL time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Engine:        config.EngineMemory,
		SweepInterval: time.Minute,
	}
}

// ConfigFromUnified 从统一配置提取存储配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Engine:        cfg.Storage.Engine,
		SweepInterval: cfg.Storage.SweepInterval.Duration(),
		DefaultTTL:    cfg.Storage.DefaultTTL.Duration(),
	}
}

// Validate 检查配置
func (c Config) Validate() error {
	switch c.Engine {
	case config.EngineMemory, config.EngineBadger:
	default:
		return fmt.Errorf("%w: unknown storage engine %q", types.ErrInvalidConfig, c.Engine)
	}
	if c.SweepInterval < 0 || c.DefaultTTL < 0 {
		return fmt.Errorf("%w: storage durations must not be negative", types.ErrInvalidConfig)
	}
	return nil
}
