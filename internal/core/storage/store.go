package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/storage/engine"
	"github.com/dep2p/go-kvdht/internal/core/storage/engine/badger"
	"github.com/dep2p/go-kvdht/internal/core/storage/engine/memory"
	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// 包级别日志实例
var log = logger.Logger("storage")

// Store 本地记录存储
//
// 单个互斥锁串行化所有读改写操作，保证 overwrite=false 的
// 检查与写入是原子的。
type Store struct {
	eng        engine.Engine
	clock      clock.Clock
	defaultTTL time.Duration

	mu sync.Mutex

	// 后台清理
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewEngine 根据名称创建存储引擎
func NewEngine(name string) (engine.Engine, error) {
	switch name {
	case "", config.EngineMemory:
		return memory.New(), nil
	case config.EngineBadger:
		return badger.New()
	default:
		return nil, fmt.Errorf("%w: unknown storage engine %q", types.ErrInvalidConfig, name)
	}
}

// New 创建存储
//
// eng 为 nil 时使用内存引擎；clk 为 nil 时使用系统时钟。
func New(eng engine.Engine, clk clock.Clock, defaultTTL time.Duration) *Store {
	if eng == nil {
		eng = memory.New()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		eng:        eng,
		clock:      clk,
		defaultTTL: defaultTTL,
	}
}

// NewMemory 创建内存存储（测试和示例使用）
func NewMemory() *Store {
	return New(nil, nil, 0)
}

// ============================================================================
//                              读写操作
// ============================================================================

// Put 写入记录
//
// overwrite 为 false 且键已存在（未过期）时返回 types.ErrConflict。
// 记录的 Created 未设置时取当前时间；TTL 未设置时取默认 TTL。
func (s *Store) Put(key types.CompoundKey, rec types.DataRecord, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.Bytes()
	now := s.clock.Now()

	if !overwrite {
		existing, err := s.getLocked(k)
		switch {
		case err == nil && !existing.Expired(now):
			return types.ErrConflict
		case err != nil && !errors.Is(err, types.ErrNotFound):
			return err
		}
	}

	rec = rec.Clone()
	if rec.Created.IsZero() {
		rec.Created = now
	}
	if rec.TTL == 0 {
		rec.TTL = s.defaultTTL
	}

	if err := s.eng.Put(k, protocol.MarshalRecord(rec)); err != nil {
		return mapEngineErr(err)
	}
	log.Debug("记录已写入",
		"location", key.Location.ShortString(),
		"version", rec.Version)
	return nil
}

// Get 读取记录
//
// 键不存在或已过期返回 types.ErrNotFound；过期记录同时被删除。
func (s *Store) Get(key types.CompoundKey) (types.DataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.Bytes()
	rec, err := s.getLocked(k)
	if err != nil {
		return types.DataRecord{}, err
	}
	if rec.Expired(s.clock.Now()) {
		if err := s.eng.Delete(k); err != nil {
			return types.DataRecord{}, mapEngineErr(err)
		}
		return types.DataRecord{}, types.ErrNotFound
	}
	return rec, nil
}

func (s *Store) getLocked(k []byte) (types.DataRecord, error) {
	raw, err := s.eng.Get(k)
	if err != nil {
		return types.DataRecord{}, mapEngineErr(err)
	}
	return protocol.UnmarshalRecord(raw)
}

// Delete 删除记录
func (s *Store) Delete(key types.CompoundKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mapEngineErr(s.eng.Delete(key.Bytes()))
}

// KeysNear 列出与 location 相同（domain 非零时还要求 domain 相同）的记录摘要
//
// 结果按 CompoundKey 字节序排列，不含已过期记录。
func (s *Store) KeysNear(location, domain types.ID) ([]types.DigestEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := location[:]
	if !domain.IsZero() {
		prefix = append(append(make([]byte, 0, 2*types.IDLength), location[:]...), domain[:]...)
	}

	now := s.clock.Now()
	var (
		out     []types.DigestEntry
		scanErr error
	)
	err := s.eng.Scan(prefix, func(k, v []byte) bool {
		key, err := types.CompoundKeyFromBytes(k)
		if err != nil {
			scanErr = err
			return false
		}
		rec, err := protocol.UnmarshalRecord(v)
		if err != nil {
			scanErr = err
			return false
		}
		if !rec.Expired(now) {
			out = append(out, types.DigestEntry{Key: key, Version: rec.Version})
		}
		return true
	})
	if err != nil {
		return nil, mapEngineErr(err)
	}
	return out, scanErr
}

// Expire 删除所有已过期记录，返回删除数量
func (s *Store) Expire() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var expired [][]byte
	err := s.eng.Scan(nil, func(k, v []byte) bool {
		rec, err := protocol.UnmarshalRecord(v)
		if err == nil && rec.Expired(now) {
			expired = append(expired, append([]byte(nil), k...))
		}
		return true
	})
	if err != nil {
		return 0, mapEngineErr(err)
	}

	for _, k := range expired {
		if err := s.eng.Delete(k); err != nil {
			return 0, mapEngineErr(err)
		}
	}
	if len(expired) > 0 {
		log.Debug("清理过期记录", "count", len(expired))
	}
	return len(expired), nil
}

// Len 返回记录数量（含尚未清理的过期记录）
func (s *Store) Len() int {
	return s.eng.Len()
}

// ============================================================================
//                              生命周期
// ============================================================================

// StartSweep 启动后台清理任务
//
// interval <= 0 时不启动。重复调用无效果。
func (s *Store) StartSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.sweepCancel, s.sweepDone = cancel, done
	ticker := s.clock.Ticker(interval)

	// 协程只持有局部的 done，StopSweep 会清空字段
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Expire(); err != nil {
					log.Warn("清理过期记录失败", "error", err)
				}
			}
		}
	}()
}

// StopSweep 停止后台清理任务
func (s *Store) StopSweep() {
	s.mu.Lock()
	cancel, done := s.sweepCancel, s.sweepDone
	s.sweepCancel, s.sweepDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Close 停止清理并关闭引擎
func (s *Store) Close() error {
	s.StopSweep()
	return s.eng.Close()
}

func mapEngineErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrNotFound):
		return types.ErrNotFound
	case errors.Is(err, engine.ErrClosed):
		return types.ErrClosed
	default:
		return err
	}
}
