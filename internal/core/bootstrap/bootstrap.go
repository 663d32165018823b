// Package bootstrap 通过种子节点发现初始邻居
//
// Discover 向种子发送以本节点为目标的 FIND_NODE（指数退避重试），
// 再并发 Ping 返回的节点。应答的节点会把本节点加入各自的路由表，
// 调用方把返回的节点交给流动管理器即可完成加入。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

var log = logger.Logger("bootstrap")

// ErrNoSeeds 没有可用的种子节点
var ErrNoSeeds = errors.New("bootstrap: no seed answered")

// Config 引导配置
type Config struct {
	// MaxRetries 每个种子的最大重试次数
	MaxRetries int

	// InitialBackoff 首次重试前的等待时间
	InitialBackoff time.Duration

	// MaxBackoff 重试等待上限
	MaxBackoff time.Duration

	// Count 向种子请求的节点数
	Count int

	// RequestTimeout 单次请求超时，0 表示不限
	RequestTimeout time.Duration

	// PingParallel 并发 Ping 的上限
	PingParallel int
}

// ConfigFromUnified 从统一配置创建引导配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return Config{
		MaxRetries:     cfg.Bootstrap.MaxRetries,
		InitialBackoff: cfg.Bootstrap.InitialBackoff.Duration(),
		MaxBackoff:     cfg.Bootstrap.MaxBackoff.Duration(),
		Count:          cfg.Routing.BucketSize,
		RequestTimeout: cfg.Replication.RequestTimeout.Duration(),
		PingParallel:   cfg.Replication.Alpha,
	}
}

// newBackOff 按配置创建退避策略
func (c Config) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialBackoff > 0 {
		b.InitialInterval = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		b.MaxInterval = c.MaxBackoff
	}
	// 次数由 MaxRetries 控制
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.MaxRetries, 0))), ctx)
}

// ============================================================================
//                              发现
// ============================================================================

// Discover 从单个种子发现邻居
//
// 返回应答了 Ping 的节点（包括种子本身），按距离 self 升序。
func Discover(ctx context.Context, t transport.Transport, self, seed types.PeerAddress, cfg Config) ([]types.PeerAddress, error) {
	if seed.ID == self.ID {
		return nil, fmt.Errorf("%w: seed is self", ErrNoSeeds)
	}

	var resp *protocol.Message
	attempts := 0
	op := func() error {
		attempts++
		r, err := send(ctx, t, seed, protocol.NewFindNode(self, self.ID, cfg.Count), cfg.RequestTimeout)
		if err != nil {
			if errors.Is(err, types.ErrClosed) {
				return backoff.Permanent(err)
			}
			log.Debug("种子未应答，稍后重试", "seed", seed.String(), "attempt", attempts, "err", err)
			return err
		}
		resp = r
		return nil
	}
	if err := backoff.Retry(op, cfg.newBackOff(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrNoSeeds, seed.ID.ShortString(), attempts, err)
	}

	live := []types.PeerAddress{resp.Sender}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.PingParallel, 1))
	for _, p := range resp.Peers {
		if p.ID == self.ID || p.ID == resp.Sender.ID {
			continue
		}
		p := p
		g.Go(func() error {
			pong, err := send(gctx, t, p, protocol.NewPing(self), cfg.RequestTimeout)
			if err != nil {
				log.Debug("邻居未应答", "peer", p.ID.ShortString(), "err", err)
				return nil
			}
			mu.Lock()
			live = append(live, pong.Sender)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(live, func(i, j int) bool {
		return routing.Closer(live[i].ID, live[j].ID, self.ID)
	})
	log.Debug("引导完成",
		"self", self.ID.ShortString(),
		"seed", seed.ID.ShortString(),
		"offered", len(resp.Peers),
		"live", len(live))
	return live, nil
}

// DiscoverAll 依次从每个种子发现邻居并去重
//
// 至少一个种子应答即成功；全部失败时返回合并的错误。
func DiscoverAll(ctx context.Context, t transport.Transport, self types.PeerAddress,
	seeds []types.PeerAddress, cfg Config) ([]types.PeerAddress, error) {
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}

	seen := make(map[types.ID]struct{})
	var (
		out  []types.PeerAddress
		errs []error
	)
	for _, seed := range seeds {
		peers, err := Discover(ctx, t, self, seed, cfg)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		for _, p := range peers {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, multierr.Combine(errs...)
	}
	sort.Slice(out, func(i, j int) bool {
		return routing.Closer(out[i].ID, out[j].ID, self.ID)
	})
	return out, nil
}

func send(ctx context.Context, t transport.Transport, to types.PeerAddress, msg *protocol.Message,
	timeout time.Duration) (*protocol.Message, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := t.Send(ctx, to, msg)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}
