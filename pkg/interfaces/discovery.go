package interfaces

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// DiscoveryStore 节点公告查询接口
//
// 实现负责缓存与负缓存；调用方只关心"有或没有"。
type DiscoveryStore interface {
	// GetAnnouncement 获取身份的最新公告，不存在时返回 (nil, nil)
	GetAnnouncement(ctx context.Context, identity types.PeerID) (*nostr.Event, error)

	// BatchGet 批量获取公告，缺失的身份不出现在结果中
	BatchGet(ctx context.Context, identities []types.PeerID) (map[types.PeerID]*nostr.Event, error)

	// Invalidate 使某个身份的缓存失效
	Invalidate(identity types.PeerID)
}
