package config

import (
	"errors"
	"path/filepath"
	"time"
)

// StorageConfig 存储配置
//
// 事件、通道状态、连接记录、关注列表统一存放在一个 BadgerDB 中，
// 通过 Key 前缀隔离。
//
//	${DataDir}/
//	└── btpnips.db/
type StorageConfig struct {
	// DataDir 数据目录路径，默认 "./data"
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// InMemory 使用内存模式（测试和临时节点）
	InMemory bool `json:"in_memory,omitempty" yaml:"in_memory,omitempty"`

	// SyncWrites 每次写入都同步到磁盘
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// GCInterval 值日志 GC 间隔，0 表示不启用
	GCInterval Duration `json:"gc_interval" yaml:"gc_interval"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:    "./data",
		SyncWrites: false,
		GCInterval: Duration(10 * time.Minute),
	}
}

// Validate 验证存储配置的有效性
func (c *StorageConfig) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return errors.New("storage: data_dir cannot be empty")
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c *StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "btpnips.db")
}
