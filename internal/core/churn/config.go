package churn

import (
	"fmt"
	"time"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// Config 流动管理配置
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	ProbeRate     float64
	ProbeBurst    int
	MaxFailures   int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建流动管理配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := config.DefaultChurnConfig()
	if cfg != nil {
		c = cfg.Churn
	}
	return Config{
		ProbeInterval: c.ProbeInterval.Duration(),
		ProbeTimeout:  c.ProbeTimeout.Duration(),
		ProbeRate:     c.ProbeRate,
		ProbeBurst:    c.ProbeBurst,
		MaxFailures:   c.MaxFailures,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("%w: churn max failures must be positive", types.ErrInvalidConfig)
	}
	if c.ProbeRate <= 0 || c.ProbeBurst <= 0 {
		return fmt.Errorf("%w: churn probe rate and burst must be positive", types.ErrInvalidConfig)
	}
	return nil
}
