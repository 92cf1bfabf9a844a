package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dep2p/go-btpnips/internal/storage/engine"
	"github.com/dep2p/go-btpnips/internal/storage/kv"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// ConnectionStore 连接记录持久化
type ConnectionStore interface {
	Save(ctx context.Context, conn *Connection) error
	Delete(ctx context.Context, identity types.PeerID) error
	LoadAll(ctx context.Context) ([]*Connection, error)
}

// KVConnectionStore 基于 KV 存储的连接记录
type KVConnectionStore struct {
	store *kv.Store
}

var _ ConnectionStore = (*KVConnectionStore)(nil)

// NewKVConnectionStore 创建连接存储
func NewKVConnectionStore(store *kv.Store) *KVConnectionStore {
	return &KVConnectionStore{store: store}
}

// Save 实现 ConnectionStore
func (s *KVConnectionStore) Save(_ context.Context, conn *Connection) error {
	return s.store.PutJSON([]byte(conn.Identity), conn)
}

// Delete 实现 ConnectionStore
func (s *KVConnectionStore) Delete(_ context.Context, identity types.PeerID) error {
	err := s.store.Delete([]byte(identity))
	if engine.IsNotFound(err) {
		return nil
	}
	return err
}

// LoadAll 实现 ConnectionStore
//
// 损坏的记录被跳过，错误一并返回。
func (s *KVConnectionStore) LoadAll(_ context.Context) ([]*Connection, error) {
	var (
		out  []*Connection
		errs []error
	)
	err := s.store.ForEach(func(key, value []byte) bool {
		var c Connection
		if err := json.Unmarshal(value, &c); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", key, engine.ErrCorrupted))
			return true
		}
		out = append(out, &c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, errors.Join(errs...)
}

// MemoryConnectionStore 内存连接存储
type MemoryConnectionStore struct {
	mu    sync.Mutex
	conns map[types.PeerID]*Connection
}

var _ ConnectionStore = (*MemoryConnectionStore)(nil)

// NewMemoryConnectionStore 创建内存连接存储
func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{conns: make(map[types.PeerID]*Connection)}
}

// Save 实现 ConnectionStore
func (s *MemoryConnectionStore) Save(_ context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.Identity] = conn.Clone()
	return nil
}

// Delete 实现 ConnectionStore
func (s *MemoryConnectionStore) Delete(_ context.Context, identity types.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, identity)
	return nil
}

// LoadAll 实现 ConnectionStore
func (s *MemoryConnectionStore) LoadAll(_ context.Context) ([]*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.Clone())
	}
	return out, nil
}
