package kvdht

import (
	"errors"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("kvdht: node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("kvdht: node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("kvdht: node closed")

	// ErrNoNetwork 既没有端点也没有网络
	ErrNoNetwork = errors.New("kvdht: no endpoint or network configured")

	// ────────────────────────────────────────────────────────────────────────
	// 副本协议错误（pkg/types 的别名）
	// ────────────────────────────────────────────────────────────────────────

	// ErrInsufficientReplicas 应答节点少于最少接受数
	ErrInsufficientReplicas = types.ErrInsufficientReplicas

	// ErrConflict 键已存在且不允许覆盖
	ErrConflict = types.ErrConflict

	// ErrNotFound 节点没有该键的记录
	ErrNotFound = types.ErrNotFound

	// ErrTimeout 请求超时
	ErrTimeout = types.ErrTimeout

	// ErrUnreachable 节点不可达
	ErrUnreachable = types.ErrUnreachable

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrClosed 组件已关闭
	ErrClosed = types.ErrClosed
)
