package discovery

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/internal/peer/lifecycle"
	"github.com/dep2p/go-btpnips/internal/storage/engine"
	"github.com/dep2p/go-btpnips/internal/storage/kv"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// FollowPriority 新关注节点的连接优先级
const FollowPriority = lifecycle.MinPriority

// Connector 连接管理（*lifecycle.Manager 满足该接口）
type Connector interface {
	Connect(ctx context.Context, identity types.PeerID, priority int) (*lifecycle.Connection, error)
	Disconnect(ctx context.Context, identity types.PeerID) error
}

// FollowRecord 已处理的关注列表版本
type FollowRecord struct {
	EventID   string         `json:"event_id"`
	CreatedAt int64          `json:"created_at"`
	Follows   []types.PeerID `json:"follows"`
}

// FollowDiff 一次处理的结果
type FollowDiff struct {
	Processed bool
	Added     []types.PeerID
	Removed   []types.PeerID
	Failed    []types.PeerID
}

// FollowMonitor 监听本节点的关注列表并驱动连接
//
// 只处理更新的版本；连接或断开失败只记录日志，新列表在处理后总会持久化。
type FollowMonitor struct {
	owner     types.PeerID
	store     *kv.Store
	connector Connector

	mu sync.Mutex
}

// NewFollowMonitor 创建关注列表监视器
func NewFollowMonitor(owner types.PeerID, store *kv.Store, connector Connector) *FollowMonitor {
	return &FollowMonitor{
		owner:     owner,
		store:     store,
		connector: connector,
	}
}

// Owner 被监视的身份
func (m *FollowMonitor) Owner() types.PeerID {
	return m.owner
}

// Current 当前持久化的关注列表
func (m *FollowMonitor) Current() (*FollowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// HandleFollowList 处理一条关注列表事件
//
// 其他作者的列表与旧版本返回 Processed=false。
func (m *FollowMonitor) HandleFollowList(ctx context.Context, evt *nostr.Event) (FollowDiff, error) {
	if evt == nil || evt.Kind != types.KindFollowList {
		return FollowDiff{}, ErrNotFollowList
	}
	if types.PeerID(evt.PubKey) != m.owner {
		return FollowDiff{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.load()
	if err != nil {
		return FollowDiff{}, err
	}
	if prev != nil && !newerRevision(evt, prev) {
		logger.Debug("忽略旧版本关注列表", "id", log.TruncateID(evt.ID, 16))
		return FollowDiff{}, nil
	}

	next := m.follows(evt)
	var before []types.PeerID
	if prev != nil {
		before = prev.Follows
	}
	diff := FollowDiff{Processed: true}
	for _, id := range next {
		if !slices.Contains(before, id) {
			diff.Added = append(diff.Added, id)
		}
	}
	for _, id := range before {
		if !slices.Contains(next, id) {
			diff.Removed = append(diff.Removed, id)
		}
	}

	for _, id := range diff.Added {
		if _, err := m.connector.Connect(ctx, id, FollowPriority); err != nil {
			diff.Failed = append(diff.Failed, id)
			logger.Warn("连接新关注节点失败", "peer", id.ShortString(), "error", err)
		}
	}
	for _, id := range diff.Removed {
		err := m.connector.Disconnect(ctx, id)
		if err != nil && !errors.Is(err, lifecycle.ErrConnectionNotFound) {
			diff.Failed = append(diff.Failed, id)
			logger.Warn("断开取消关注节点失败", "peer", id.ShortString(), "error", err)
		}
	}

	record := &FollowRecord{EventID: evt.ID, CreatedAt: int64(evt.CreatedAt), Follows: next}
	if err := m.store.PutJSON([]byte(m.owner), record); err != nil {
		return diff, err
	}

	logger.Info("关注列表已更新",
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"failed", len(diff.Failed))
	return diff, nil
}

func (m *FollowMonitor) load() (*FollowRecord, error) {
	var rec FollowRecord
	if err := m.store.GetJSON([]byte(m.owner), &rec); err != nil {
		if engine.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// follows 提取 p 标签中合法且去重的身份，排除自己
func (m *FollowMonitor) follows(evt *nostr.Event) []types.PeerID {
	var out []types.PeerID
	for _, v := range types.TagValues(evt, types.TagPubKey) {
		id, err := types.ParsePeerID(v)
		if err != nil || id == m.owner || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// newerRevision created_at 更大，相同时 id 字典序更小者胜出
func newerRevision(evt *nostr.Event, prev *FollowRecord) bool {
	created := int64(evt.CreatedAt)
	if created != prev.CreatedAt {
		return created > prev.CreatedAt
	}
	return evt.ID < prev.EventID
}
