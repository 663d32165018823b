package types

import (
	"bytes"
	"time"
)

// DataRecord 存储在本地存储中的数据记录
type DataRecord struct {
	// Value 不透明负载
	Value []byte

	// Version 版本戳，越大越新
	Version uint64

	// TTL 存活时间，0 表示永不过期
	TTL time.Duration

	// Created 写入本地存储的时间（由存储设置）
	Created time.Time
}

// NewRecord 创建未带版本戳的记录
func NewRecord(value []byte) DataRecord {
	return DataRecord{Value: value}
}

// Expired 检查记录在 now 时刻是否已过期
func (r DataRecord) Expired(now time.Time) bool {
	if r.TTL <= 0 || r.Created.IsZero() {
		return false
	}
	return !now.Before(r.Created.Add(r.TTL))
}

// SameValue 比较两个记录的负载与版本是否相同
func (r DataRecord) SameValue(other DataRecord) bool {
	return r.Version == other.Version && bytes.Equal(r.Value, other.Value)
}

// Clone 返回深拷贝
func (r DataRecord) Clone() DataRecord {
	out := r
	if r.Value != nil {
		out.Value = make([]byte, len(r.Value))
		copy(out.Value, r.Value)
	}
	return out
}

// String 返回负载的字符串形式（便于示例输出）
func (r DataRecord) String() string {
	return string(r.Value)
}

// DigestEntry 摘要条目：键与版本，不含负载
//
// 用于比较不同节点上同一 Location 的副本集合。
type DigestEntry struct {
	Key     CompoundKey
	Version uint64
}
