// Package badger 提供基于 BadgerDB 的存储引擎实现
//
// 引擎固定使用 InMemory 模式，不在磁盘上留下任何文件；
// 键按字节序排列，Scan 使用 badger 前缀迭代器。
//
// # 使用示例
//
//	db, err := badger.New()
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Put([]byte("key"), []byte("value")); err != nil {
//	    return err
//	}
package badger

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-kvdht/internal/core/storage/engine"
	"github.com/dep2p/go-kvdht/internal/util/logger"
)

// 包级别日志实例
var log = logger.Logger("storage/badger")

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	closed atomic.Bool
}

var _ engine.Engine = (*Engine)(nil)

// New 创建内存模式的 BadgerDB 引擎
func New() (*Engine, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db}, nil
}

// badgerLogger 将 badger 日志转发到子系统日志，只保留错误与警告
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error("badger", "msg", sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn("badger", "msg", sprintf(format, args...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}

func sprintf(format string, args ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

// Get 读取键
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, engine.ErrNotFound
	}
	return value, err
}

// Put 写入键
func (e *Engine) Put(key, value []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete 删除键
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Scan 按字节序遍历前缀
//
// 先在只读事务中收集快照，再在事务外回调。
func (e *Engine) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}

	var keys, values [][]byte
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keys = append(keys, item.KeyCopy(nil))
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range keys {
		if !fn(keys[i], values[i]) {
			break
		}
	}
	return nil
}

// Len 返回键数量
func (e *Engine) Len() int {
	if e.closed.Load() {
		return 0
	}

	n := 0
	_ = e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Close 关闭引擎
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.db.Close()
}
