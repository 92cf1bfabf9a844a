package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-btpnips/internal/storage/engine"
	"github.com/dep2p/go-btpnips/internal/storage/kv"
)

// ChannelStatus 通道状态
type ChannelStatus string

// 通道状态定义
const (
	StatusOpen   ChannelStatus = "OPEN"
	StatusClosed ChannelStatus = "CLOSED"
)

// ChannelState 支付通道状态
//
// HighestClaim 与 HighestNonce 单调不减。
// Settled* 字段记录上次结算时的高水位，用于计算"自上次结算以来"的累计量。
type ChannelState struct {
	ChannelID string        `json:"channel_id"`
	Currency  Currency      `json:"currency"`
	Sender    string        `json:"sender"`
	Recipient string        `json:"recipient"`
	Status    ChannelStatus `json:"status"`

	// SenderPubKey Cosmos 系通道的发送方压缩公钥（hex）
	SenderPubKey string `json:"sender_pubkey,omitempty"`

	Capacity      uint64 `json:"capacity"`
	HighestClaim  uint64 `json:"highest_claim"`
	HighestNonce  uint64 `json:"highest_nonce"`
	Expiration    int64  `json:"expiration"`
	LastClaimTime int64  `json:"last_claim_time"`
	TotalClaims   uint64 `json:"total_claims"`

	// HighestSignature / HighestSignedNonce 高水位声明的签名及其 nonce，结算时提交
	HighestSignature   string `json:"highest_signature,omitempty"`
	HighestSignedNonce uint64 `json:"highest_signed_nonce,omitempty"`

	SettledAmount  uint64 `json:"settled_amount"`
	SettledClaims  uint64 `json:"settled_claims"`
	LastSettlement int64  `json:"last_settlement,omitempty"`
}

// Clone 返回副本
func (s *ChannelState) Clone() *ChannelState {
	c := *s
	return &c
}

// Validate 检查状态字段
func (s *ChannelState) Validate() error {
	if len(s.ChannelID) < MinChannelIDLength || len(s.ChannelID) > MaxChannelIDLength {
		return fmt.Errorf("%w: channel id length %d", ErrInvalidChannel, len(s.ChannelID))
	}
	if s.Status != StatusOpen && s.Status != StatusClosed {
		return fmt.Errorf("%w: status %q", ErrInvalidChannel, s.Status)
	}
	if s.Capacity == 0 {
		return fmt.Errorf("%w: zero capacity", ErrInvalidChannel)
	}
	if s.HighestClaim > s.Capacity {
		return fmt.Errorf("%w: highest claim exceeds capacity", ErrInvalidChannel)
	}
	return nil
}

// UnsettledAmount 自上次结算以来的累计金额
func (s *ChannelState) UnsettledAmount() uint64 {
	if s.HighestClaim < s.SettledAmount {
		return 0
	}
	return s.HighestClaim - s.SettledAmount
}

// UnsettledClaims 自上次结算以来的声明次数
func (s *ChannelState) UnsettledClaims() uint64 {
	if s.TotalClaims < s.SettledClaims {
		return 0
	}
	return s.TotalClaims - s.SettledClaims
}

// ExpiresAt 过期时间
func (s *ChannelState) ExpiresAt() time.Time {
	return time.Unix(s.Expiration, 0)
}

// ============================================================================
//                              通道存储
// ============================================================================

// ChannelStore 通道状态持久化接口
type ChannelStore interface {
	// Get 获取通道状态，不存在时返回 ErrChannelNotFound
	Get(ctx context.Context, channelID string) (*ChannelState, error)

	// Put 写入通道状态
	Put(ctx context.Context, state *ChannelState) error

	// List 列出所有通道
	List(ctx context.Context) ([]*ChannelState, error)
}

// KVChannelStore 基于 KV 存储的通道存储
type KVChannelStore struct {
	store *kv.Store
}

var _ ChannelStore = (*KVChannelStore)(nil)

// NewKVChannelStore 创建通道存储
func NewKVChannelStore(store *kv.Store) *KVChannelStore {
	return &KVChannelStore{store: store}
}

// Get 实现 ChannelStore
func (s *KVChannelStore) Get(_ context.Context, channelID string) (*ChannelState, error) {
	var state ChannelState
	if err := s.store.GetJSON([]byte(channelID), &state); err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	return &state, nil
}

// Put 实现 ChannelStore
func (s *KVChannelStore) Put(_ context.Context, state *ChannelState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	return s.store.PutJSON([]byte(state.ChannelID), state)
}

// List 实现 ChannelStore
func (s *KVChannelStore) List(_ context.Context) ([]*ChannelState, error) {
	var (
		states []*ChannelState
		errs   []error
	)
	err := s.store.ForEach(func(key, value []byte) bool {
		var st ChannelState
		if err := json.Unmarshal(value, &st); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", key, engine.ErrCorrupted))
			return true
		}
		states = append(states, &st)
		return true
	})
	if err != nil {
		return nil, err
	}
	return states, errors.Join(errs...)
}

// MemoryChannelStore 内存通道存储
type MemoryChannelStore struct {
	mu       sync.RWMutex
	channels map[string]*ChannelState
}

var _ ChannelStore = (*MemoryChannelStore)(nil)

// NewMemoryChannelStore 创建内存通道存储
func NewMemoryChannelStore() *MemoryChannelStore {
	return &MemoryChannelStore{channels: make(map[string]*ChannelState)}
}

// Get 实现 ChannelStore
func (s *MemoryChannelStore) Get(_ context.Context, channelID string) (*ChannelState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return st.Clone(), nil
}

// Put 实现 ChannelStore
func (s *MemoryChannelStore) Put(_ context.Context, state *ChannelState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[state.ChannelID] = state.Clone()
	return nil
}

// List 实现 ChannelStore
func (s *MemoryChannelStore) List(_ context.Context) ([]*ChannelState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ChannelState, 0, len(s.channels))
	for _, st := range s.channels {
		out = append(out, st.Clone())
	}
	return out, nil
}
