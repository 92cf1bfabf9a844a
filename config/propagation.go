package config

import (
	"errors"
	"time"
)

// PropagationConfig 事件传播配置
type PropagationConfig struct {
	// DedupTTL 去重缓存条目有效期
	DedupTTL Duration `json:"dedup_ttl" yaml:"dedup_ttl"`

	// DedupSweepEvery 每插入多少条触发一次全量清理
	DedupSweepEvery int `json:"dedup_sweep_every" yaml:"dedup_sweep_every"`

	// BaseRate 默认令牌桶容量与补充速率（事件/秒）
	BaseRate float64 `json:"base_rate" yaml:"base_rate"`

	// PaymentUnitsPerBase 支付速率每达到该值，容量等于 BaseRate
	// capacity = BaseRate * paymentAmount / PaymentUnitsPerBase
	PaymentUnitsPerBase float64 `json:"payment_units_per_base" yaml:"payment_units_per_base"`

	// MaxConcurrentSends 单个事件扇出时的最大并发发送数
	MaxConcurrentSends int `json:"max_concurrent_sends" yaml:"max_concurrent_sends"`

	// DeliveredPerPeer 每个节点记录的已投递事件数量上限
	DeliveredPerPeer int `json:"delivered_per_peer" yaml:"delivered_per_peer"`
}

// DefaultPropagationConfig 返回默认传播配置
func DefaultPropagationConfig() PropagationConfig {
	return PropagationConfig{
		DedupTTL:            Duration(24 * time.Hour),
		DedupSweepEvery:     1000,
		BaseRate:            100,
		PaymentUnitsPerBase: 1000,
		MaxConcurrentSends:  16,
		DeliveredPerPeer:    10_000,
	}
}

// Validate 验证传播配置
func (c *PropagationConfig) Validate() error {
	if c.DedupTTL <= 0 {
		return errors.New("propagation: dedup_ttl must be positive")
	}
	if c.DedupSweepEvery <= 0 {
		return errors.New("propagation: dedup_sweep_every must be positive")
	}
	if c.BaseRate <= 0 || c.PaymentUnitsPerBase <= 0 {
		return errors.New("propagation: base_rate and payment_units_per_base must be positive")
	}
	if c.MaxConcurrentSends <= 0 {
		return errors.New("propagation: max_concurrent_sends must be positive")
	}
	if c.DeliveredPerPeer <= 0 {
		return errors.New("propagation: delivered_per_peer must be positive")
	}
	return nil
}
