// Package kv 提供带前缀隔离的 KV 存储抽象层
//
// # 键空间设计
//
//   - e/  - 事件（e/i/<id>、e/d/<id> 删除标记、e/r/<kind>:<pubkey>[:d] 可替换索引）
//   - c/  - 支付通道状态
//   - l/  - 对等连接记录
//   - f/  - 关注列表
//
// # 使用示例
//
//	eng, _ := badger.New(engine.DefaultConfig(path))
//	channels := kv.New(eng, []byte("c/"))
//	_ = channels.PutJSON([]byte(channelID), state)
package kv

import (
	"encoding/json"

	"github.com/dep2p/go-btpnips/internal/storage/engine"
)

// Store 带前缀隔离的 KV 存储
type Store struct {
	engine engine.InternalEngine
	prefix []byte
}

// New 创建新的 KVStore
func New(eng engine.InternalEngine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: prefix,
	}
}

// Sub 返回嵌套前缀的子存储
func (s *Store) Sub(prefix []byte) *Store {
	return New(s.engine, s.prefixKey(prefix))
}

func (s *Store) prefixKey(key []byte) []byte {
	if len(s.prefix) == 0 {
		return key
	}
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

func (s *Store) stripPrefix(key []byte) []byte {
	if len(key) < len(s.prefix) {
		return key
	}
	return key[len(s.prefix):]
}

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// Has 检查键是否存在
func (s *Store) Has(key []byte) (bool, error) {
	return s.engine.Has(s.prefixKey(key))
}

// GetJSON 获取并反序列化 JSON 值
func (s *Store) GetJSON(key []byte, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return engine.ErrCorrupted
	}
	return nil
}

// PutJSON 序列化并存储 JSON 值
func (s *Store) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// ForEach 遍历本存储下所有键值对（键已去掉前缀）
//
// fn 返回 false 时停止遍历。
func (s *Store) ForEach(fn func(key, value []byte) bool) error {
	iter := s.engine.NewPrefixIterator(s.prefix)
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(s.stripPrefix(iter.Key()), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// Batch 创建在本前缀下写入的批量操作
func (s *Store) Batch() *Batch {
	return &Batch{store: s, batch: s.engine.NewBatch()}
}

// Batch 前缀感知的批量写入
type Batch struct {
	store *Store
	batch engine.Batch
}

// Put 添加写入操作
func (b *Batch) Put(key, value []byte) {
	b.batch.Put(b.store.prefixKey(key), value)
}

// PutJSON 添加 JSON 写入操作
func (b *Batch) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Put(key, data)
	return nil
}

// Delete 添加删除操作
func (b *Batch) Delete(key []byte) {
	b.batch.Delete(b.store.prefixKey(key))
}

// Write 原子提交
func (b *Batch) Write() error {
	return b.batch.Write()
}
