package discovery

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// 缓存默认值
const (
	DefaultCacheSize        = 4096
	DefaultCacheTTL         = 10 * time.Minute
	DefaultNegativeCacheTTL = time.Minute
)

// CachedStore 基于事件存储的公告查询，带正向与负缓存
type CachedStore struct {
	events   interfaces.EventStore
	positive *expirable.LRU[types.PeerID, *nostr.Event]
	negative *expirable.LRU[types.PeerID, struct{}]
}

var _ interfaces.DiscoveryStore = (*CachedStore)(nil)

// NewCachedStore 创建公告缓存
func NewCachedStore(events interfaces.EventStore, size int, ttl, negativeTTL time.Duration) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = DefaultNegativeCacheTTL
	}
	return &CachedStore{
		events:   events,
		positive: expirable.NewLRU[types.PeerID, *nostr.Event](size, nil, ttl),
		negative: expirable.NewLRU[types.PeerID, struct{}](size, nil, negativeTTL),
	}
}

// GetAnnouncement 实现 DiscoveryStore
func (s *CachedStore) GetAnnouncement(ctx context.Context, identity types.PeerID) (*nostr.Event, error) {
	if evt, ok := s.positive.Get(identity); ok {
		return copyEvent(evt), nil
	}
	if _, ok := s.negative.Get(identity); ok {
		return nil, nil
	}

	found, err := s.query(ctx, []types.PeerID{identity})
	if err != nil {
		return nil, err
	}
	evt, ok := found[identity]
	if !ok {
		s.negative.Add(identity, struct{}{})
		return nil, nil
	}
	s.positive.Add(identity, evt)
	return copyEvent(evt), nil
}

// BatchGet 实现 DiscoveryStore
//
// 缓存未命中的身份合并为一次查询。
func (s *CachedStore) BatchGet(ctx context.Context, identities []types.PeerID) (map[types.PeerID]*nostr.Event, error) {
	out := make(map[types.PeerID]*nostr.Event, len(identities))
	var misses []types.PeerID
	for _, id := range identities {
		if evt, ok := s.positive.Get(id); ok {
			out[id] = copyEvent(evt)
			continue
		}
		if _, ok := s.negative.Get(id); ok {
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	found, err := s.query(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, id := range misses {
		evt, ok := found[id]
		if !ok {
			s.negative.Add(id, struct{}{})
			continue
		}
		s.positive.Add(id, evt)
		out[id] = copyEvent(evt)
	}
	return out, nil
}

// Invalidate 实现 DiscoveryStore
func (s *CachedStore) Invalidate(identity types.PeerID) {
	s.positive.Remove(identity)
	s.negative.Remove(identity)
}

// query 查询每个身份最新的公告
func (s *CachedStore) query(ctx context.Context, identities []types.PeerID) (map[types.PeerID]*nostr.Event, error) {
	authors := make([]string, len(identities))
	for i, id := range identities {
		authors[i] = id.String()
	}
	events, err := s.events.QueryByFilters(ctx, []types.Filter{{
		Authors: authors,
		Kinds:   []int{types.KindNodeAnnouncement},
		Tags:    map[string][]string{types.TagD: {AnnouncementD}},
	}})
	if err != nil {
		return nil, err
	}

	found := make(map[types.PeerID]*nostr.Event, len(identities))
	for _, evt := range events {
		id := types.PeerID(evt.PubKey)
		if cur, ok := found[id]; !ok || evt.CreatedAt > cur.CreatedAt {
			found[id] = evt
		}
	}
	return found, nil
}

func copyEvent(evt *nostr.Event) *nostr.Event {
	out := *evt
	return &out
}
