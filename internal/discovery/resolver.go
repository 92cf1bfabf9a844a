package discovery

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// Resolver 社交身份 → 可连接地址
type Resolver struct {
	store interfaces.DiscoveryStore
}

// NewResolver 创建解析器
func NewResolver(store interfaces.DiscoveryStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve 解析身份的公告
//
// 没有公告或公告无效时返回 (nil, nil)；只有存储错误才返回 error。
func (r *Resolver) Resolve(ctx context.Context, identity types.PeerID) (*types.PeerAddress, error) {
	evt, err := r.store.GetAnnouncement(ctx, identity)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, nil
	}
	return project(identity, evt), nil
}

// BatchResolve 批量解析，缺失或无效的身份不出现在结果中
func (r *Resolver) BatchResolve(ctx context.Context, identities []types.PeerID) (map[types.PeerID]*types.PeerAddress, error) {
	events, err := r.store.BatchGet(ctx, identities)
	if err != nil {
		return nil, err
	}
	out := make(map[types.PeerID]*types.PeerAddress, len(events))
	for id, evt := range events {
		if addr := project(id, evt); addr != nil {
			out[id] = addr
		}
	}
	return out, nil
}

// project 解析公告并核对作者
func project(identity types.PeerID, evt *nostr.Event) *types.PeerAddress {
	addr, err := ParseAnnouncement(evt)
	if err == nil && addr.Identity != identity {
		err = ErrIdentityMismatch
	}
	if err != nil {
		if !errors.Is(err, ErrNotAnnouncement) {
			logger.Warn("忽略无效公告", "peer", identity.ShortString(), "error", err)
		}
		return nil
	}
	return addr
}
