package config

import "time"

// 存储引擎名称
const (
	// EngineMemory 进程内 map
	EngineMemory = "memory"

	// EngineBadger BadgerDB 内存模式
	EngineBadger = "badger"
)

// StorageConfig 本地存储配置
//
// 两种引擎都不落盘；badger 引擎使用 InMemory 模式，
// 键按 CompoundKey 字节序排列，支持按位置前缀扫描。
type StorageConfig struct {
	// Engine 存储引擎
	// 可选值: "memory", "badger"
	// 默认值: "memory"
	Engine string `json:"engine"`

	// SweepInterval 过期记录清理周期，0 表示只在读取时惰性清理
	// 默认值: 1m
	SweepInterval Duration `json:"sweep_interval"`

	// DefaultTTL 未显式指定 TTL 的记录的存活时间，0 表示永不过期
	// 默认值: 0
	DefaultTTL Duration `json:"default_ttl"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Engine:        EngineMemory,
		SweepInterval: Duration(time.Minute),
	}
}

func (c StorageConfig) validate(v *Validator) {
	switch c.Engine {
	case EngineMemory, EngineBadger:
	default:
		v.addError("storage.engine", "未知存储引擎 %q", c.Engine)
	}
	v.nonNegative("storage.sweep_interval", c.SweepInterval)
	v.nonNegative("storage.default_ttl", c.DefaultTTL)
}
