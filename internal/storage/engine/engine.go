// Package engine 定义存储引擎的内部接口
//
// 在 pkg/interfaces.Engine 之上增加前缀迭代与原子批量写入，
// 供 kv 层实现命名空间隔离与扫描查询。
package engine

import (
	"github.com/dep2p/go-btpnips/pkg/interfaces"
)

// InternalEngine 内部扩展接口
type InternalEngine interface {
	interfaces.Engine

	// NewPrefixIterator 创建前缀迭代器，调用者负责 Close()
	NewPrefixIterator(prefix []byte) Iterator

	// NewBatch 创建批量写入对象
	NewBatch() Batch
}

// Batch 批量写入
//
// 不是线程安全的，不应在多个 goroutine 中并发使用。
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Write 原子写入所有操作
	Write() error

	// Size 返回待写入的操作数量
	Size() int
}

// Iterator 迭代器
//
// 使用模式:
//
//	iter := eng.NewPrefixIterator(prefix)
//	defer iter.Close()
//
//	for iter.First(); iter.Valid(); iter.Next() {
//	    key, value := iter.Key(), iter.Value()
//	}
//	if err := iter.Error(); err != nil {
//	    return err
//	}
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool

	// Key 返回当前键的副本
	Key() []byte

	// Value 返回当前值的副本
	Value() []byte

	Close()
	Error() error
}
