package replication

import (
	"fmt"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// RequestConfig 单次操作的请求配置
type RequestConfig struct {
	// ReplicationFactor 联系的副本数（Get 中为采样数）
	ReplicationFactor int

	// MinimumAccepted 判定成功所需的应答数
	MinimumAccepted int

	// Parallel 同时在途的请求数，<= 0 表示全部并发
	Parallel int
}

var (
	// Request3 三副本请求
	Request3 = RequestConfig{ReplicationFactor: 3, MinimumAccepted: 3, Parallel: 3}

	// Request6 六副本请求
	Request6 = RequestConfig{ReplicationFactor: 6, MinimumAccepted: 6, Parallel: 6}
)

// RequestFromConfig 从副本配置取默认请求配置
func RequestFromConfig(cfg config.ReplicationConfig) RequestConfig {
	return RequestConfig{
		ReplicationFactor: cfg.ReplicationFactor,
		MinimumAccepted:   cfg.MinimumAccepted,
		Parallel:          cfg.Parallel,
	}
}

// Validate 验证请求配置
func (r RequestConfig) Validate() error {
	if r.ReplicationFactor <= 0 {
		return fmt.Errorf("%w: replication factor must be positive, got %d",
			types.ErrInvalidConfig, r.ReplicationFactor)
	}
	if r.MinimumAccepted <= 0 {
		return fmt.Errorf("%w: minimum accepted must be positive, got %d",
			types.ErrInvalidConfig, r.MinimumAccepted)
	}
	if r.MinimumAccepted > r.ReplicationFactor {
		return fmt.Errorf("%w: minimum accepted %d exceeds replication factor %d",
			types.ErrInvalidConfig, r.MinimumAccepted, r.ReplicationFactor)
	}
	return nil
}

// parallelism 返回针对 n 个目标的实际并发度
func (r RequestConfig) parallelism(n int) int {
	if r.Parallel <= 0 || r.Parallel > n {
		return n
	}
	return r.Parallel
}

// String 返回配置摘要
func (r RequestConfig) String() string {
	return fmt.Sprintf("rf=%d min=%d par=%d", r.ReplicationFactor, r.MinimumAccepted, r.Parallel)
}
