package replication

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kvdht/internal/core/consistency"
	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/transport"
)

// ============================================================================
//                              协调器选项
// ============================================================================

// Option 协调器选项
type Option func(*Coordinator)

// WithLocalHandler 设置本节点作为目标时的进程内处理器
//
// 未设置时本节点不会成为副本目标。
func WithLocalHandler(h transport.Handler) Option {
	return func(c *Coordinator) {
		c.local = h
	}
}

// WithObserver 设置请求结果观察者
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithPolicy 设置 Get 的聚合策略
func WithPolicy(p consistency.Policy) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clk = clk
		}
	}
}

// ============================================================================
//                              Put 选项
// ============================================================================

// PutOption Put 选项
type PutOption func(*putOptions)

type putOptions struct {
	version    uint64
	hasVersion bool
	ttl        time.Duration
	overwrite  bool
}

// WithVersion 使用指定版本戳
func WithVersion(v uint64) PutOption {
	return func(o *putOptions) {
		o.version = v
		o.hasVersion = true
	}
}

// WithTTL 设置记录存活时间
func WithTTL(d time.Duration) PutOption {
	return func(o *putOptions) {
		o.ttl = d
	}
}

// WithPutIfAbsent 只在远端不存在该键时写入
//
// 远端已有记录时该节点计为失败，错误为 types.ErrConflict。
func WithPutIfAbsent() PutOption {
	return func(o *putOptions) {
		o.overwrite = false
	}
}
