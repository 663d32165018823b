// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入各组件的子配置，每个子配置在独立文件中定义，
// 可以从 JSON 文件加载。各组件包从统一配置中提取自己关心的字段。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Replication.ReplicationFactor = 6
//
//	// 从文件加载（未出现的字段保留默认值）
//	cfg, err := config.LoadFile("kvdht.json")
package config

// Config 是 kvdht 节点的完整配置
//
//   - Routing: 路由表
//   - Storage: 本地存储
//   - Replication: 副本协调与请求超时
//   - Churn: 节点存活探测
//   - Bootstrap: 引导节点
type Config struct {
	// Routing 路由表配置
	Routing RoutingConfig `json:"routing"`

	// Storage 本地存储配置
	Storage StorageConfig `json:"storage"`

	// Replication 副本协调配置
	Replication ReplicationConfig `json:"replication"`

	// Churn 节点流动管理配置
	Churn ChurnConfig `json:"churn"`

	// Bootstrap 引导配置
	Bootstrap BootstrapConfig `json:"bootstrap"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Routing:     DefaultRoutingConfig(),
		Storage:     DefaultStorageConfig(),
		Replication: DefaultReplicationConfig(),
		Churn:       DefaultChurnConfig(),
		Bootstrap:   DefaultBootstrapConfig(),
	}
}

// Validate 验证配置的有效性
//
// 收集所有子配置的错误后一并返回，返回值可用
// errors.Is(err, types.ErrInvalidConfig) 判断。
func (c *Config) Validate() error {
	v := NewValidator()
	c.Routing.validate(v)
	c.Storage.validate(v)
	c.Replication.validate(v)
	c.Churn.validate(v)
	c.Bootstrap.validate(v)
	if v.Errors().HasErrors() {
		return v.Errors()
	}
	return nil
}

// Clone 深拷贝配置
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cloned := *c
	cloned.Bootstrap.Peers = append([]string(nil), c.Bootstrap.Peers...)
	return &cloned
}
