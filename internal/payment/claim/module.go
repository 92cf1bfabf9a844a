package claim

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/internal/storage"
	"github.com/dep2p/go-btpnips/internal/storage/engine"
)

// Module 返回 claim Fx 模块
func Module() fx.Option {
	return fx.Module("claim",
		fx.Provide(
			ProvideChannelStore,
			NewVerifier,
		),
	)
}

// ProvideChannelStore 在 c/ 前缀下创建通道存储
func ProvideChannelStore(eng engine.InternalEngine) ChannelStore {
	return NewKVChannelStore(storage.NewKVStore(eng, storage.PrefixChannels))
}
