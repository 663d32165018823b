package kvdht

import (
	"github.com/dep2p/go-kvdht/internal/core/consistency"
	"github.com/dep2p/go-kvdht/internal/core/replication"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/core/transport/simnet"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// ID 160 位节点/键标识
	ID = types.ID

	// PeerAddress 节点地址
	PeerAddress = types.PeerAddress

	// CompoundKey 复合键
	CompoundKey = types.CompoundKey

	// DataRecord 数据记录
	DataRecord = types.DataRecord

	// RequestConfig 副本请求配置
	RequestConfig = replication.RequestConfig

	// Result 副本操作结果
	Result = replication.Result

	// Outcome 单个节点的请求结果
	Outcome = replication.Outcome

	// PutOption Put 选项
	PutOption = replication.PutOption

	// Policy 聚合策略
	Policy = consistency.Policy

	// Store 本地存储
	Store = storage.Store

	// Network 端点工厂
	Network = transport.Network

	// Endpoint 网络端点
	Endpoint = transport.Endpoint

	// SimNetwork 进程内模拟网络
	SimNetwork = simnet.Network
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设与构造函数
// ════════════════════════════════════════════════════════════════════════════

var (
	// Request3 三副本，三个全部应答才返回
	Request3 = replication.Request3

	// Request6 六副本，六个全部应答才返回
	Request6 = replication.Request6

	// PolicyDefault 最高版本优先，再按多数，最后取最近节点
	PolicyDefault = consistency.Default

	// PolicyPlurality 忽略版本，取出现最多的值
	PolicyPlurality = consistency.Plurality

	// PolicyMajority 需要严格多数
	PolicyMajority = consistency.Majority

	// PolicyUnanimous 需要全部一致
	PolicyUnanimous = consistency.Unanimous
)

// Put 选项
var (
	WithVersion     = replication.WithVersion
	WithTTL         = replication.WithTTL
	WithPutIfAbsent = replication.WithPutIfAbsent
)

// LocationKey 只有 Location 分量的复合键
func LocationKey(location ID) CompoundKey {
	return types.LocationKey(location)
}

// HashID 由字符串派生 ID
func HashID(s string) ID {
	return types.HashID(s)
}

// ParseID 解析十六进制 ID
func ParseID(s string) (ID, error) {
	return types.ParseID(s)
}

// NewSimNetwork 创建带种子的模拟网络
func NewSimNetwork(seed int64, opts ...simnet.Option) *SimNetwork {
	return simnet.New(append([]simnet.Option{simnet.WithSeed(seed)}, opts...)...)
}

// NewMemoryStore 创建内存存储，可通过 WithLocalStore 在重新加入时复用
func NewMemoryStore() *Store {
	return storage.NewMemory()
}
