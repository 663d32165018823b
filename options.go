package kvdht

import (
	"fmt"
	"io"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/consistency"
	"github.com/dep2p/go-kvdht/internal/core/replication"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// Option 用户配置选项函数
type Option func(*nodeConfig) error

// nodeConfig 内部选项结构
type nodeConfig struct {
	// config 统一配置
	config *config.Config

	// 身份
	id       types.ID
	hasID    bool
	idSource io.Reader
	flags    types.Reachability

	// 网络：endpoint 优先于 network
	endpoint transport.Endpoint
	network  transport.Network

	clock clock.Clock

	// localStore 外部提供的存储，节点关闭时不关闭
	localStore *storage.Store

	policy consistency.Policy

	// seeds 启动时引导的种子节点（追加到 config.Bootstrap.Peers 之后）
	seeds []types.PeerAddress
}

func defaultNodeConfig() *nodeConfig {
	return &nodeConfig{
		config: config.NewConfig(),
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整配置替换当前配置
//
// 后续选项在此基础上修改，因此应放在其他配置类选项之前。
func WithConfig(cfg *config.Config) Option {
	return func(c *nodeConfig) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidConfig)
		}
		c.config = cfg.Clone()
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(c *nodeConfig) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		c.config = cfg
		return nil
	}
}

// WithBucketSize 设置路由表桶容量
func WithBucketSize(n int) Option {
	return func(c *nodeConfig) error {
		if n <= 0 {
			return fmt.Errorf("%w: bucket size must be positive, got %d", ErrInvalidConfig, n)
		}
		c.config.Routing.BucketSize = n
		return nil
	}
}

// WithStorageEngine 设置存储引擎（memory / badger）
func WithStorageEngine(name string) Option {
	return func(c *nodeConfig) error {
		c.config.Storage.Engine = name
		return nil
	}
}

// WithDefaultRequest 设置配置中的默认请求参数
func WithDefaultRequest(rc replication.RequestConfig) Option {
	return func(c *nodeConfig) error {
		if err := rc.Validate(); err != nil {
			return err
		}
		c.config.Replication.ReplicationFactor = rc.ReplicationFactor
		c.config.Replication.MinimumAccepted = rc.MinimumAccepted
		c.config.Replication.Parallel = rc.Parallel
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              身份与网络
// ════════════════════════════════════════════════════════════════════════════

// WithID 使用固定 ID
func WithID(id types.ID) Option {
	return func(c *nodeConfig) error {
		if id.IsZero() {
			return fmt.Errorf("%w: zero id", ErrInvalidConfig)
		}
		c.id, c.hasID = id, true
		return nil
	}
}

// WithIDSource 随机 ID 的熵源（传入带种子的源即可复现 ID）
func WithIDSource(r io.Reader) Option {
	return func(c *nodeConfig) error {
		c.idSource = r
		return nil
	}
}

// WithReachability 设置对外公布的可达性标志
func WithReachability(flags types.Reachability) Option {
	return func(c *nodeConfig) error {
		c.flags = flags
		return nil
	}
}

// WithEndpoint 使用已挂接的端点，节点 ID 取自端点
func WithEndpoint(ep transport.Endpoint) Option {
	return func(c *nodeConfig) error {
		c.endpoint = ep
		return nil
	}
}

// WithNetwork 启动时在 nw 上为节点创建端点
func WithNetwork(nw transport.Network) Option {
	return func(c *nodeConfig) error {
		c.network = nw
		return nil
	}
}

// WithBootstrapPeers 启动后从这些种子节点引导
func WithBootstrapPeers(peers ...types.PeerAddress) Option {
	return func(c *nodeConfig) error {
		c.seeds = append(c.seeds, peers...)
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              组件替换
// ════════════════════════════════════════════════════════════════════════════

// WithClock 注入时钟（TTL、探测周期、版本戳）
func WithClock(clk clock.Clock) Option {
	return func(c *nodeConfig) error {
		c.clock = clk
		return nil
	}
}

// WithLocalStore 复用已有的本地存储
//
// 节点关闭时不会关闭该存储，可以带着旧数据重新加入网络。
func WithLocalStore(s *storage.Store) Option {
	return func(c *nodeConfig) error {
		c.localStore = s
		return nil
	}
}

// WithPolicy 设置 Get 的聚合策略
func WithPolicy(p consistency.Policy) Option {
	return func(c *nodeConfig) error {
		c.policy = p
		return nil
	}
}
