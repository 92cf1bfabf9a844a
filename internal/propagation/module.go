package propagation

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/config"
)

// Module 返回 propagation Fx 模块
//
// 依赖 Sender 与 Encoder 由节点层提供；Observer 可选。
func Module() fx.Option {
	return fx.Module("propagation",
		fx.Provide(ProvideEngine),
	)
}

// Params 引擎依赖
type Params struct {
	fx.In

	Config   *config.Config
	Clock    clock.Clock
	Sender   Sender
	Encoder  Encoder
	Observer Observer `optional:"true"`
}

// ProvideEngine 按配置创建转发引擎
func ProvideEngine(p Params) *Engine {
	pc := p.Config.Propagation
	return NewEngine(
		NewDedupCache(pc.DedupTTL.Duration(), pc.DedupSweepEvery, p.Clock),
		NewHopLimiter(p.Config.Protocol.DefaultTTL, p.Config.Protocol.MaxTTL),
		NewRateLimiter(pc.BaseRate, pc.PaymentUnitsPerBase, p.Clock),
		NewDeliveredTracker(pc.DeliveredPerPeer, pc.DedupTTL.Duration(), p.Clock),
		p.Sender,
		p.Encoder,
		Options{
			MaxConcurrentSends: pc.MaxConcurrentSends,
			Observer:           p.Observer,
		},
	)
}
