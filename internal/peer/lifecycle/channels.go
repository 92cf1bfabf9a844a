package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// ErrNoChannel 尚无可用的支付通道
var ErrNoChannel = errors.New("lifecycle: no open payment channel")

// StoreChannelProvider 基于通道存储的通道查找
//
// 通道的链上开通由外部完成并写入通道存储；OpenChannel 只是重新查找，
// 找不到时返回 ErrNoChannel，由退避重连等待通道就绪。
// RequirePayment 为 false 时无需通道即可连接。
type StoreChannelProvider struct {
	Store          claim.ChannelStore
	Clock          clock.Clock
	RequirePayment bool
}

var _ ChannelProvider = (*StoreChannelProvider)(nil)

// FindChannel 实现 ChannelProvider
func (p *StoreChannelProvider) FindChannel(ctx context.Context, _ types.PeerID, addr *types.PeerAddress) (string, bool, error) {
	id, err := p.lookup(ctx, addr)
	if err != nil {
		return "", false, err
	}
	if id != "" {
		return id, true, nil
	}
	return "", !p.RequirePayment, nil
}

// OpenChannel 实现 ChannelProvider
func (p *StoreChannelProvider) OpenChannel(ctx context.Context, _ types.PeerID, addr *types.PeerAddress) (string, error) {
	id, err := p.lookup(ctx, addr)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoChannel
	}
	return id, nil
}

// lookup 查找收款地址为节点结算地址的开放且未过期通道
func (p *StoreChannelProvider) lookup(ctx context.Context, addr *types.PeerAddress) (string, error) {
	if p.Store == nil || addr == nil || addr.SettlementAddress == "" {
		return "", nil
	}
	channels, err := p.Store.List(ctx)
	if err != nil {
		return "", err
	}
	now := p.now()
	for _, ch := range channels {
		if ch.Status != claim.StatusOpen || !strings.EqualFold(ch.Recipient, addr.SettlementAddress) {
			continue
		}
		if ch.Expiration > 0 && !now.Before(ch.ExpiresAt()) {
			continue
		}
		return ch.ChannelID, nil
	}
	return "", nil
}

func (p *StoreChannelProvider) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock.Now()
}
