package config

import (
	"errors"
	"fmt"
	"time"
)

// PaymentConfig 支付声明配置
type PaymentConfig struct {
	// SupportedCurrencies 接受的币种
	SupportedCurrencies []string `json:"supported_currencies" yaml:"supported_currencies"`
}

// DefaultPaymentConfig 返回默认支付配置
func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		SupportedCurrencies: []string{"AKT", "ATOM", "ETH", "USDC"},
	}
}

// Validate 验证支付配置
func (c *PaymentConfig) Validate() error {
	if len(c.SupportedCurrencies) == 0 {
		return errors.New("payment: supported_currencies cannot be empty")
	}
	return nil
}

// SettlementConfig 结算配置
//
// 以下阈值是经验值，作为可配置默认值保留：
//   - Threshold: 自上次结算以来累计金额达到该值即结算
//   - Interval: 距上次声明超过该时长即结算
//   - ExpiryWindow: 距通道过期不足该时长即结算
//   - MaxClaims: 自上次结算以来声明次数达到该值即结算
type SettlementConfig struct {
	Threshold    uint64   `json:"threshold" yaml:"threshold"`
	Interval     Duration `json:"interval" yaml:"interval"`
	ExpiryWindow Duration `json:"expiry_window" yaml:"expiry_window"`
	MaxClaims    uint64   `json:"max_claims" yaml:"max_claims"`

	// EVM EVM 兼容链结算（ETH / USDC）
	EVM EVMSettlementConfig `json:"evm" yaml:"evm"`
}

// EVMSettlementConfig EVM 结算模块配置
//
// Enable 为 false 时使用 disabled 模块，所有结算返回固定空结果。
type EVMSettlementConfig struct {
	Enable          bool   `json:"enable" yaml:"enable"`
	RPCURL          string `json:"rpc_url,omitempty" yaml:"rpc_url,omitempty"`
	ChainID         int64  `json:"chain_id,omitempty" yaml:"chain_id,omitempty"`
	ContractAddress string `json:"contract_address,omitempty" yaml:"contract_address,omitempty"`
	PrivateKey      string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	GasLimit        uint64 `json:"gas_limit,omitempty" yaml:"gas_limit,omitempty"`
}

// DefaultSettlementConfig 返回默认结算配置
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		Threshold:    1_000_000,
		Interval:     Duration(time.Hour),
		ExpiryWindow: Duration(24 * time.Hour),
		MaxClaims:    100,
		EVM: EVMSettlementConfig{
			GasLimit: 200_000,
		},
	}
}

// Validate 验证结算配置
func (c *SettlementConfig) Validate() error {
	if c.Threshold == 0 {
		return errors.New("settlement: threshold must be positive")
	}
	if c.Interval <= 0 {
		return errors.New("settlement: interval must be positive")
	}
	if c.ExpiryWindow <= 0 {
		return errors.New("settlement: expiry_window must be positive")
	}
	if c.MaxClaims == 0 {
		return errors.New("settlement: max_claims must be positive")
	}
	if c.EVM.Enable {
		if c.EVM.RPCURL == "" || c.EVM.ContractAddress == "" || c.EVM.PrivateKey == "" {
			return fmt.Errorf("settlement: evm enabled but rpc_url/contract_address/private_key missing")
		}
		if c.EVM.ChainID <= 0 {
			return errors.New("settlement: evm chain_id must be positive")
		}
	}
	return nil
}
