package discovery

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/peer/lifecycle"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
)

// Module 返回 discovery Fx 模块
//
// 提供公告缓存与解析器；解析器同时作为 lifecycle.Resolver 注入。
// Announcer 与 FollowMonitor 依赖节点身份，由节点层构造。
func Module() fx.Option {
	return fx.Module("discovery",
		fx.Provide(
			ProvideCachedStore,
			NewResolver,
			func(r *Resolver) lifecycle.Resolver { return r },
		),
	)
}

// ProvideCachedStore 按配置创建公告缓存
func ProvideCachedStore(cfg *config.Config, events interfaces.EventStore) interfaces.DiscoveryStore {
	dc := cfg.Discovery
	return NewCachedStore(events, dc.CacheSize, dc.CacheTTL.Duration(), dc.NegativeCacheTTL.Duration())
}
