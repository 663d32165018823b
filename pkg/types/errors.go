// Package types 定义 kvdht 的基础类型
//
// 本文件定义所有公共错误类型。
package types

import "errors"

// ============================================================================
//                              副本协议错误
// ============================================================================

var (
	// ErrInsufficientReplicas 应答节点少于最少接受数
	//
	// 可恢复：调用方可以增大 ReplicationFactor 重试。
	ErrInsufficientReplicas = errors.New("kvdht: insufficient replicas")

	// ErrConflict 本地覆盖被拒绝（overwrite=false 且键已存在）
	ErrConflict = errors.New("kvdht: record already exists")

	// ErrNotFound 某个节点没有该键的记录
	//
	// 只要其他节点有应答，这不是整体失败。
	ErrNotFound = errors.New("kvdht: record not found")
)

// ============================================================================
//                              网络相关错误
// ============================================================================

var (
	// ErrTimeout 单次请求超过截止时间
	ErrTimeout = errors.New("kvdht: request timeout")

	// ErrUnreachable 传输层无法投递到目标节点
	ErrUnreachable = errors.New("kvdht: peer unreachable")
)

// ============================================================================
//                              通用错误
// ============================================================================

var (
	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("kvdht: invalid config")

	// ErrClosed 组件已关闭
	ErrClosed = errors.New("kvdht: closed")
)
