package settlement

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
)

// Module 返回 settlement Fx 模块
func Module() fx.Option {
	return fx.Module("settlement",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

// Params Manager 依赖
type Params struct {
	fx.In

	Config   *config.Config
	Verifier *claim.Verifier
	Clock    clock.Clock
}

// ProvideManager 根据配置创建结算管理器
//
// EVM 结算启用时连接 RPC 节点，否则所有币种使用 Disabled 模块。
func ProvideManager(p Params) (*Manager, error) {
	modules := make(map[claim.Family]Ledger)

	evmCfg := p.Config.Settlement.EVM
	if evmCfg.Enable {
		client, err := ethclient.DialContext(context.Background(), evmCfg.RPCURL)
		if err != nil {
			return nil, err
		}
		evm, err := NewEVM(client, evmCfg)
		if err != nil {
			client.Close()
			return nil, err
		}
		modules[claim.FamilyEVM] = evm
		logger.Info("EVM 结算已启用", "from", evm.From().Hex(), "chainID", evmCfg.ChainID)
	}

	return NewManager(p.Verifier, claim.PolicyFromConfig(p.Config.Settlement), p.Clock, modules), nil
}

func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: m.Start,
		OnStop:  m.Stop,
	})
}
