package config

import "errors"

// ProtocolConfig 协议层配置
type ProtocolConfig struct {
	// RequirePayment 发布事件是否必须携带有效支付声明
	// 为 false 时无声明或声明无效的事件仍被接受（免费事件）
	RequirePayment bool `json:"require_payment" yaml:"require_payment"`

	// DefaultTTL 元数据未携带 ttl 时使用的初始跳数
	DefaultTTL int `json:"default_ttl" yaml:"default_ttl"`

	// MaxTTL 入站 ttl 上限，超出部分被截断
	MaxTTL int `json:"max_ttl" yaml:"max_ttl"`
}

// DefaultProtocolConfig 返回默认协议配置
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		RequirePayment: false,
		DefaultTTL:     5,
		MaxTTL:         16,
	}
}

// Validate 验证协议配置
func (c *ProtocolConfig) Validate() error {
	if c.DefaultTTL <= 0 {
		return errors.New("protocol: default_ttl must be positive")
	}
	if c.MaxTTL < c.DefaultTTL {
		return errors.New("protocol: max_ttl must be >= default_ttl")
	}
	return nil
}
