package lifecycle

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/internal/storage"
	"github.com/dep2p/go-btpnips/internal/storage/engine"
)

// Module 返回 lifecycle Fx 模块
//
// Resolver 与 Dialer 由节点层提供；未提供 ChannelProvider 时使用通道存储查找。
func Module() fx.Option {
	return fx.Module("lifecycle",
		fx.Provide(
			ProvideConnectionStore,
			ProvideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

// Params Manager 依赖
type Params struct {
	fx.In

	Config   *config.Config
	Clock    clock.Clock
	Store    ConnectionStore
	Resolver Resolver
	Dialer   Dialer
	Channels ChannelProvider    `optional:"true"`
	Ledger   claim.ChannelStore `optional:"true"`
}

// ProvideConnectionStore 在 l/ 前缀下创建连接存储
func ProvideConnectionStore(eng engine.InternalEngine) ConnectionStore {
	return NewKVConnectionStore(storage.NewKVStore(eng, storage.PrefixConnections))
}

// ProvideManager 按配置创建生命周期管理器
func ProvideManager(p Params) *Manager {
	lc := p.Config.Lifecycle
	channels := p.Channels
	if channels == nil {
		channels = &StoreChannelProvider{
			Store:          p.Ledger,
			Clock:          p.Clock,
			RequirePayment: p.Config.Protocol.RequirePayment,
		}
	}
	cfg := Config{
		Backoff: Backoff{
			Initial: lc.InitialReconnectDelay.Duration(),
			Max:     lc.MaxReconnectDelay.Duration(),
		},
		MaxAttempts:    lc.MaxReconnectAttempts,
		ConnectTimeout: lc.ConnectTimeout.Duration(),
	}
	return NewManager(cfg, p.Resolver, p.Dialer, channels, p.Store, p.Clock)
}

func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := m.Recover(ctx)
			return err
		},
		OnStop: func(context.Context) error {
			return m.Close()
		},
	})
}
