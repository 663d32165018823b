// Package engine 定义本地存储使用的键值引擎接口
//
// 引擎只处理字节，记录的编码与过期语义由上层 storage.Store 负责。
// 所有实现必须并发安全，Scan 按键的字节序升序回调。
package engine

import "errors"

var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("engine: key not found")

	// ErrClosed 引擎已关闭
	ErrClosed = errors.New("engine: closed")
)

// Engine 键值存储引擎
type Engine interface {
	// Get 读取键，不存在返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 写入键（覆盖）
	Put(key, value []byte) error

	// Delete 删除键，不存在不报错
	Delete(key []byte) error

	// Scan 按字节序遍历具有指定前缀的键；fn 返回 false 时停止
	//
	// 回调中的切片只在回调期间有效。
	Scan(prefix []byte, fn func(key, value []byte) bool) error

	// Len 返回键数量
	Len() int

	// Close 关闭引擎
	Close() error
}
