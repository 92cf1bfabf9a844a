package config

import (
	"errors"
	"fmt"
	"strings"
)

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug / info / warn / error
	Level string `json:"level" yaml:"level"`

	// Format 输出格式：text / json
	Format string `json:"format" yaml:"format"`

	// File 日志文件路径，为空时输出到 stderr
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate 验证日志配置
func (c *LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Format)
	}
	return nil
}

// MetricsConfig 指标与观测接口配置
type MetricsConfig struct {
	// Enable 是否启动观测 HTTP 服务（/metrics、/stats）
	Enable bool `json:"enable" yaml:"enable"`

	// ListenAddr 观测服务监听地址
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enable:     false,
		ListenAddr: "127.0.0.1:9477",
	}
}

// Validate 验证指标配置
func (c *MetricsConfig) Validate() error {
	if c.Enable && c.ListenAddr == "" {
		return errors.New("metrics: listen_addr required when enabled")
	}
	return nil
}
