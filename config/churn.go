package config

import "time"

// ChurnConfig 节点流动管理配置
type ChurnConfig struct {
	// ProbeInterval 周期性探测间隔，0 表示不启动后台探测
	// 默认值: 1m
	ProbeInterval Duration `json:"probe_interval"`

	// ProbeTimeout 单次探测超时
	// 默认值: 2s
	ProbeTimeout Duration `json:"probe_timeout"`

	// ProbeRate 每秒最多发出的探测数
	// 默认值: 50
	ProbeRate float64 `json:"probe_rate"`

	// ProbeBurst 探测突发上限
	// 默认值: 10
	ProbeBurst int `json:"probe_burst"`

	// MaxFailures Suspect 状态下连续失败多少次后驱逐
	// 默认值: 3
	MaxFailures int `json:"max_failures"`
}

// DefaultChurnConfig 返回默认的节点流动管理配置
func DefaultChurnConfig() ChurnConfig {
	return ChurnConfig{
		ProbeInterval: Duration(time.Minute),
		ProbeTimeout:  Duration(2 * time.Second),
		ProbeRate:     50,
		ProbeBurst:    10,
		MaxFailures:   3,
	}
}

func (c ChurnConfig) validate(v *Validator) {
	v.nonNegative("churn.probe_interval", c.ProbeInterval)
	v.nonNegative("churn.probe_timeout", c.ProbeTimeout)
	if c.ProbeRate <= 0 {
		v.addError("churn.probe_rate", "必须大于 0，当前 %g", c.ProbeRate)
	}
	v.positive("churn.probe_burst", c.ProbeBurst)
	v.positive("churn.max_failures", c.MaxFailures)
}
