package config

import (
	"errors"
	"time"
)

// TransportConfig 参考传输层（WebSocket）配置
type TransportConfig struct {
	// ListenAddr 监听地址，例如 ":7447"；为空则不接受入站连接
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// Path WebSocket 路径
	Path string `json:"path" yaml:"path"`

	// WriteTimeout 单帧写超时
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`

	// MaxFrameSize 最大帧长度（4 字节头 + 65535 字节负载）
	MaxFrameSize int64 `json:"max_frame_size" yaml:"max_frame_size"`

	// InboundBuffer 入站队列长度
	InboundBuffer int `json:"inbound_buffer" yaml:"inbound_buffer"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenAddr:    ":7447",
		Path:          "/btp",
		WriteTimeout:  Duration(10 * time.Second),
		MaxFrameSize:  4 + 65535,
		InboundBuffer: 1024,
	}
}

// Validate 验证传输配置
func (c *TransportConfig) Validate() error {
	if c.Path == "" {
		return errors.New("transport: path cannot be empty")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("transport: write_timeout must be positive")
	}
	if c.MaxFrameSize < 4 {
		return errors.New("transport: max_frame_size too small")
	}
	if c.InboundBuffer <= 0 {
		return errors.New("transport: inbound_buffer must be positive")
	}
	return nil
}
