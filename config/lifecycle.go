package config

import (
	"errors"
	"time"
)

// LifecycleConfig 对等连接生命周期配置
//
// 第 n 次重连延迟 = min(MaxReconnectDelay, InitialReconnectDelay * 2^n)，
// 超过 MaxReconnectAttempts 后连接进入 FAILED，只能手动重试。
type LifecycleConfig struct {
	InitialReconnectDelay Duration `json:"initial_reconnect_delay" yaml:"initial_reconnect_delay"`
	MaxReconnectDelay     Duration `json:"max_reconnect_delay" yaml:"max_reconnect_delay"`
	MaxReconnectAttempts  int      `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`

	// ConnectTimeout 单次连接尝试的超时
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DefaultLifecycleConfig 返回默认生命周期配置
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		InitialReconnectDelay: Duration(time.Second),
		MaxReconnectDelay:     Duration(5 * time.Minute),
		MaxReconnectAttempts:  10,
		ConnectTimeout:        Duration(30 * time.Second),
	}
}

// Validate 验证生命周期配置
func (c *LifecycleConfig) Validate() error {
	if c.InitialReconnectDelay <= 0 {
		return errors.New("lifecycle: initial_reconnect_delay must be positive")
	}
	if c.MaxReconnectDelay < c.InitialReconnectDelay {
		return errors.New("lifecycle: max_reconnect_delay must be >= initial_reconnect_delay")
	}
	if c.MaxReconnectAttempts <= 0 {
		return errors.New("lifecycle: max_reconnect_attempts must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("lifecycle: connect_timeout must be positive")
	}
	return nil
}
