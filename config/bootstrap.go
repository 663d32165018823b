package config

import (
	"time"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// BootstrapConfig 引导配置
type BootstrapConfig struct {
	// Peers 引导节点，格式为 "id@endpoint"
	// 例如 "0x4bca44fd09461db1981e387e99e41e7d22d06893@sim:1"
	Peers []string `json:"peers,omitempty"`

	// MaxRetries 每个引导节点的最大重试次数
	// 默认值: 5
	MaxRetries int `json:"max_retries"`

	// InitialBackoff 首次重试前的等待时间
	// 默认值: 100ms
	InitialBackoff Duration `json:"initial_backoff"`

	// MaxBackoff 重试等待上限
	// 默认值: 5s
	MaxBackoff Duration `json:"max_backoff"`
}

// DefaultBootstrapConfig 返回默认的引导配置
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		MaxRetries:     5,
		InitialBackoff: Duration(100 * time.Millisecond),
		MaxBackoff:     Duration(5 * time.Second),
	}
}

// PeerAddresses 解析引导节点地址
func (c BootstrapConfig) PeerAddresses() ([]types.PeerAddress, error) {
	out := make([]types.PeerAddress, 0, len(c.Peers))
	for _, s := range c.Peers {
		a, err := types.ParsePeerAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (c BootstrapConfig) validate(v *Validator) {
	if c.MaxRetries < 0 {
		v.addError("bootstrap.max_retries", "不能为负，当前 %d", c.MaxRetries)
	}
	v.nonNegative("bootstrap.initial_backoff", c.InitialBackoff)
	v.nonNegative("bootstrap.max_backoff", c.MaxBackoff)
	if c.MaxBackoff < c.InitialBackoff {
		v.addError("bootstrap.max_backoff", "不能小于 initial_backoff")
	}
	for i, s := range c.Peers {
		if _, err := types.ParsePeerAddress(s); err != nil {
			v.addError("bootstrap.peers", "第 %d 个地址 %q 无效: %v", i, s, err)
		}
	}
}
