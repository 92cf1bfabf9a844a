package node

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/discovery"
	"github.com/dep2p/go-btpnips/internal/eventstore"
	"github.com/dep2p/go-btpnips/internal/metrics"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/internal/payment/settlement"
	"github.com/dep2p/go-btpnips/internal/peer/lifecycle"
	"github.com/dep2p/go-btpnips/internal/propagation"
	"github.com/dep2p/go-btpnips/internal/storage"
	"github.com/dep2p/go-btpnips/internal/storage/engine"
	"github.com/dep2p/go-btpnips/internal/transport/ws"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
)

// Module 返回 node Fx 模块
func Module() fx.Option {
	return fx.Module("node",
		fx.Provide(
			ProvideIdentity,
			ProvideTransport,
			ProvideEncoder,
			ProvideFollowMonitor,
			ProvideHandler,
			ProvideAnnouncer,
			ProvideObservability,
			ProvideNode,
		),
		fx.Invoke(registerLifecycle),
	)
}

// Options 返回组装完整节点所需的全部 Fx 选项
//
// 加载顺序（按依赖）：
//  1. 存储：storage → eventstore
//  2. 支付：claim → settlement
//  3. 指标 → 转发 → 生命周期 → 发现
//  4. 节点：身份、传输、入站处理器、主循环
func Options(cfg *config.Config) []fx.Option {
	return []fx.Option{
		fx.Supply(cfg),
		fx.Provide(func() clock.Clock { return clock.New() }),

		storage.Module(),
		eventstore.Module(),
		claim.Module(),
		settlement.Module(),
		metrics.Module(),
		propagation.Module(),
		lifecycle.Module(),
		discovery.Module(),
		Module(),

		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	}
}

// NewApp 校验配置并构建节点 Fx 应用
func NewApp(cfg *config.Config, extra ...fx.Option) (*fx.App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	app := fx.New(append(Options(cfg), extra...)...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// ============================================================================
//                              构造函数
// ============================================================================

// ProvideIdentity 加载节点身份
func ProvideIdentity(cfg *config.Config) (*Identity, error) {
	return LoadIdentity(cfg.Identity)
}

// TransportResult 参考传输层同时以多个接口提供
type TransportResult struct {
	fx.Out

	WS        *ws.Transport
	Transport interfaces.Transport
	Dialer    lifecycle.Dialer
	Sender    propagation.Sender
}

// ProvideTransport 创建 WebSocket 传输
func ProvideTransport(cfg *config.Config, id *Identity, bw *metrics.BandwidthCounter) TransportResult {
	t := ws.New(cfg.Transport, id.PeerID(), bw)
	return TransportResult{WS: t, Transport: t, Dialer: t, Sender: t}
}

// ProvideEncoder 创建转发包编码器
func ProvideEncoder(cfg *config.Config, id *Identity, clk clock.Clock) propagation.Encoder {
	return propagation.NotifyEncoder(address(cfg, id), cfg.Payment.SupportedCurrencies[0], clk)
}

// ProvideFollowMonitor 在 f/ 前缀下创建关注列表监视器
func ProvideFollowMonitor(eng engine.InternalEngine, id *Identity, lm *lifecycle.Manager) *discovery.FollowMonitor {
	return discovery.NewFollowMonitor(id.PeerID(), storage.NewKVStore(eng, storage.PrefixFollows), lm)
}

// HandlerParams 入站处理器依赖
type HandlerParams struct {
	fx.In

	Config     *config.Config
	Clock      clock.Clock
	Identity   *Identity
	Sender     propagation.Sender
	Encoder    propagation.Encoder
	Events     interfaces.EventStore
	Verifier   *claim.Verifier
	Settlement *settlement.Manager
	Engine     *propagation.Engine
	Lifecycle  *lifecycle.Manager
	Follow     *discovery.FollowMonitor
	Discovery  interfaces.DiscoveryStore
	Metrics    *metrics.Metrics
}

// ProvideHandler 创建入站处理器
func ProvideHandler(p HandlerParams) (*Handler, error) {
	return NewHandler(HandlerConfig{
		Protocol: p.Config.Protocol,
		Address:  address(p.Config, p.Identity),
		Currency: p.Config.Payment.SupportedCurrencies[0],
	}, Deps{
		Identity:  p.Identity,
		Sender:    p.Sender,
		Events:    p.Events,
		Claims:    p.Verifier,
		Engine:    p.Engine,
		Encoder:   p.Encoder,
		Settler:   p.Settlement,
		Lifecycle: p.Lifecycle,
		Follow:    p.Follow,
		Discovery: p.Discovery,
		Recorder:  p.Metrics,
		Clock:     p.Clock,
	})
}

// ProvideAnnouncer 创建公告发布器，公告经入站处理器存储并转发
func ProvideAnnouncer(cfg *config.Config, id *Identity, h *Handler, clk clock.Clock) (*discovery.Announcer, error) {
	info := discovery.Info{
		AddressPrefix:     cfg.Discovery.AddressPrefix,
		Endpoint:          cfg.Discovery.Endpoint,
		SettlementAddress: cfg.Discovery.SettlementAddress,
		Currencies:        cfg.Payment.SupportedCurrencies,
		Features:          cfg.Discovery.Features,
		Metadata:          cfg.Discovery.Metadata,
	}
	return discovery.NewAnnouncer(id.SecretKey(), info, discovery.PublisherFunc(h.Publish), clk)
}

// ProvideObservability 创建观测服务
func ProvideObservability(cfg *config.Config, m *metrics.Metrics, e *propagation.Engine, v *claim.Verifier, lm *lifecycle.Manager) *ObservabilityServer {
	return NewObservabilityServer(cfg.Metrics, m, e, v.Store(), lm)
}

// NodeParams 节点依赖
type NodeParams struct {
	fx.In

	Clock     clock.Clock
	Handler   *Handler
	Transport interfaces.Transport
	Engine    *propagation.Engine
	Lifecycle *lifecycle.Manager
	Announcer *discovery.Announcer
	Metrics   *metrics.Metrics
}

// ProvideNode 创建节点主循环
func ProvideNode(p NodeParams) *Node {
	return NewNode(Components{
		Handler:   p.Handler,
		Transport: p.Transport,
		Engine:    p.Engine,
		Lifecycle: p.Lifecycle,
		Announcer: p.Announcer,
		Observer:  p.Metrics,
		Bandwidth: p.Metrics.Bandwidth(),
		Clock:     p.Clock,
	})
}

func address(cfg *config.Config, id *Identity) string {
	return discovery.ILPAddress(cfg.Discovery.AddressPrefix, id.PubKey())
}

type lifecycleParams struct {
	fx.In

	LC         fx.Lifecycle
	Node       *Node
	Transport  *ws.Transport
	Settlement *settlement.Manager
	Metrics    *metrics.Metrics
	Observe    *ObservabilityServer
}

func registerLifecycle(p lifecycleParams) {
	p.Settlement.OnResult(p.Metrics.SettlementResult)

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Transport.Start(ctx); err != nil {
				return err
			}
			if err := p.Observe.Start(ctx); err != nil {
				return multierr.Append(err, p.Transport.Shutdown(ctx))
			}
			return p.Node.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return multierr.Combine(
				p.Node.Stop(ctx),
				p.Observe.Stop(ctx),
				p.Transport.Shutdown(ctx),
			)
		},
	})
}
