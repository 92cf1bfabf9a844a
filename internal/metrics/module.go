package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/internal/propagation"
)

// Module 返回 metrics Fx 模块
//
// 提供 *Metrics、*BandwidthCounter，并把 *Metrics 作为 propagation.Observer。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(
			New,
			func(m *Metrics) *BandwidthCounter { return m.Bandwidth() },
			func(m *Metrics) propagation.Observer { return m },
		),
	)
}
