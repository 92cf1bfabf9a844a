package lifecycle

import (
	"context"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// Resolver 解析节点公告，节点未公告时返回 nil, nil
type Resolver interface {
	Resolve(ctx context.Context, identity types.PeerID) (*types.PeerAddress, error)
}

// Dialer 建立与关闭传输连接
type Dialer interface {
	Dial(ctx context.Context, peer types.PeerID, endpoint string) error
	Close(peer types.PeerID) error
}

// ChannelProvider 支付通道协商
type ChannelProvider interface {
	// FindChannel 查找可用通道；ok 为 true 时无需再开通道（channelID 可为空）
	FindChannel(ctx context.Context, peer types.PeerID, addr *types.PeerAddress) (channelID string, ok bool, err error)

	// OpenChannel 为节点开通通道
	OpenChannel(ctx context.Context, peer types.PeerID, addr *types.PeerAddress) (string, error)
}
