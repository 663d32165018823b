// Package memory 提供进程内 map 存储引擎
package memory

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/dep2p/go-kvdht/internal/core/storage/engine"
)

// Engine 基于 map 的存储引擎
type Engine struct {
	data   map[string][]byte
	closed bool
	mu     sync.RWMutex
}

var _ engine.Engine = (*Engine)(nil)

// New 创建内存引擎
func New() *Engine {
	return &Engine{data: make(map[string][]byte)}
}

// Get 读取键
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, engine.ErrClosed
	}
	v, ok := e.data[string(key)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Put 写入键
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return engine.ErrClosed
	}
	e.data[string(key)] = bytes.Clone(value)
	return nil
}

// Delete 删除键
func (e *Engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return engine.ErrClosed
	}
	delete(e.data, string(key))
	return nil
}

// Scan 按字节序遍历前缀
func (e *Engine) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return engine.ErrClosed
	}
	p := string(prefix)
	keys := make([]string, 0)
	for k := range e.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = e.data[k]
	}
	e.mu.RUnlock()

	// 回调在锁外执行，允许回调中写入引擎
	for i, k := range keys {
		if !fn([]byte(k), values[i]) {
			break
		}
	}
	return nil
}

// Len 返回键数量
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.data)
}

// Close 关闭引擎
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.data = nil
	return nil
}
