package config

import (
	"errors"
	"time"
)

// DiscoveryConfig 节点发现配置
//
// 节点启动时以本配置生成公告事件；配置变化后重新发布。
type DiscoveryConfig struct {
	// AddressPrefix ILP 地址前缀，地址 = 前缀 + "." + 公钥前 16 个十六进制字符
	AddressPrefix string `json:"address_prefix" yaml:"address_prefix"`

	// Endpoint 本节点对外可达的传输端点（例如 ws://host:port/btp）
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SettlementAddress 结算链上的收款地址
	SettlementAddress string `json:"settlement_address,omitempty" yaml:"settlement_address,omitempty"`

	// Features 公告的功能列表
	Features []string `json:"features,omitempty" yaml:"features,omitempty"`

	// Metadata 可选的自由格式元数据，写入公告 content
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// CacheSize 公告缓存容量
	CacheSize int `json:"cache_size" yaml:"cache_size"`

	// CacheTTL 正向缓存有效期
	CacheTTL Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// NegativeCacheTTL "无公告"结果的缓存有效期
	NegativeCacheTTL Duration `json:"negative_cache_ttl" yaml:"negative_cache_ttl"`
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		AddressPrefix:    "g.btpnips",
		Features:         []string{"subscriptions", "payments", "routing"},
		CacheSize:        4096,
		CacheTTL:         Duration(10 * time.Minute),
		NegativeCacheTTL: Duration(time.Minute),
	}
}

// Validate 验证发现配置
func (c *DiscoveryConfig) Validate() error {
	if c.AddressPrefix == "" {
		return errors.New("discovery: address_prefix cannot be empty")
	}
	if c.CacheSize <= 0 {
		return errors.New("discovery: cache_size must be positive")
	}
	if c.CacheTTL <= 0 || c.NegativeCacheTTL <= 0 {
		return errors.New("discovery: cache ttls must be positive")
	}
	return nil
}
