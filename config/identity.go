package config

import (
	"encoding/hex"
	"errors"
)

// IdentityConfig 身份配置
//
// 节点的社交身份是一对 secp256k1 x-only 密钥（Nostr 格式）。
// 公告、ACK 与认证挑战应答都用该密钥签名。
type IdentityConfig struct {
	// SecretKey 十六进制私钥（64 字符）
	// 为空时从 KeyFile 读取，均为空且 AutoGenerate 时生成临时密钥
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`

	// KeyFile 私钥文件路径
	KeyFile string `json:"key_file,omitempty" yaml:"key_file,omitempty"`

	// AutoGenerate 当没有可用密钥时是否自动生成
	AutoGenerate bool `json:"auto_generate" yaml:"auto_generate"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		AutoGenerate: true,
	}
}

// Validate 验证身份配置
func (c *IdentityConfig) Validate() error {
	if c.SecretKey != "" {
		raw, err := hex.DecodeString(c.SecretKey)
		if err != nil || len(raw) != 32 {
			return errors.New("identity: secret_key must be 64 hex characters")
		}
	}
	if c.SecretKey == "" && c.KeyFile == "" && !c.AutoGenerate {
		return errors.New("identity: no secret_key or key_file and auto_generate disabled")
	}
	return nil
}
