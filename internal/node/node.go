package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-btpnips/internal/discovery"
	"github.com/dep2p/go-btpnips/internal/metrics"
	"github.com/dep2p/go-btpnips/internal/peer/lifecycle"
	"github.com/dep2p/go-btpnips/internal/propagation"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// RelaySubscriptionID 连接建立后向对端发起的转发订阅 ID
const RelaySubscriptionID = "btpnips-relay"

// 维护任务参数
const (
	maintenanceInterval = time.Minute
	bandwidthIdle       = 10 * time.Minute
)

// ConnectionObserver 接收连接状态变化（如 Prometheus 导出）
type ConnectionObserver interface {
	ConnectionTransition(from, to string, removed bool)
}

// Components 节点组件；Lifecycle / Announcer / Observer / Bandwidth 可为空
type Components struct {
	Handler   *Handler
	Transport interfaces.Transport
	Engine    *propagation.Engine
	Lifecycle *lifecycle.Manager
	Announcer *discovery.Announcer
	Observer  ConnectionObserver
	Bandwidth *metrics.BandwidthCounter
	Clock     clock.Clock
}

// Node 把传输层、生命周期与入站处理器串起来的主循环
type Node struct {
	c Components

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewNode 创建节点
func NewNode(c Components) *Node {
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return &Node{c: c}
}

// Handler 返回入站处理器
func (n *Node) Handler() *Handler { return n.c.Handler }

// Start 启动主循环并发布节点公告
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.started = true
	n.mu.Unlock()

	n.wg.Add(2)
	go n.run(runCtx)
	go n.maintain(runCtx)

	if n.c.Announcer != nil {
		evt, err := n.c.Announcer.Publish(ctx)
		if err != nil {
			logger.Warn("发布节点公告失败", "error", err)
		} else {
			logger.Info("节点公告已发布", "address", n.c.Announcer.ILPAddress(), "eventID", log.TruncateID(evt.ID, 8))
		}
	}
	return nil
}

// Stop 停止主循环
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	n.cancel()
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) run(ctx context.Context) {
	defer n.wg.Done()

	inbound := n.c.Transport.Inbound()
	disconnected := n.c.Transport.Disconnected()
	var changes <-chan lifecycle.Change
	if n.c.Lifecycle != nil {
		changes = n.c.Lifecycle.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			n.c.Handler.HandlePacket(ctx, in.From, in.Data)
		case peer, ok := <-disconnected:
			if !ok {
				disconnected = nil
				continue
			}
			n.onConnectionLost(peer)
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			n.onChange(ctx, ch)
		}
	}
}

func (n *Node) onConnectionLost(peer types.PeerID) {
	n.dropPeer(peer)
	if n.c.Lifecycle == nil {
		return
	}
	if err := n.c.Lifecycle.HandleConnectionLost(peer); err != nil && !errors.Is(err, lifecycle.ErrConnectionNotFound) {
		logger.Debug("连接丢失处理失败", "peer", peer.ShortString(), "error", err)
	}
}

func (n *Node) onChange(ctx context.Context, ch lifecycle.Change) {
	if n.c.Observer != nil {
		n.c.Observer.ConnectionTransition(string(ch.From), string(ch.To), ch.Removed)
	}

	switch {
	case ch.Removed, ch.To == lifecycle.StateDisconnected, ch.To == lifecycle.StateFailed:
		n.dropPeer(ch.Identity)
	case ch.To == lifecycle.StateConnected:
		since := n.c.Clock.Now().Unix()
		filters := []types.Filter{{Since: &since}}
		if err := n.c.Handler.Subscribe(ctx, ch.Identity, RelaySubscriptionID, filters); err != nil {
			logger.Warn("发起转发订阅失败", "peer", ch.Identity.ShortString(), "error", err)
		}
	}
}

// dropPeer 清除节点的订阅、限速与认证状态
func (n *Node) dropPeer(peer types.PeerID) {
	removed := n.c.Engine.RemovePeer(peer)
	n.c.Handler.ForgetPeer(peer)
	if len(removed) > 0 {
		logger.Debug("已移除断开节点的订阅", "peer", peer.ShortString(), "count", len(removed))
	}
}

func (n *Node) maintain(ctx context.Context) {
	defer n.wg.Done()
	ticker := n.c.Clock.Ticker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept := n.c.Engine.Dedup().Sweep()
			trimmed := 0
			if n.c.Bandwidth != nil {
				trimmed = n.c.Bandwidth.TrimIdle(n.c.Clock.Now().Add(-bandwidthIdle))
			}
			if swept > 0 || trimmed > 0 {
				logger.Debug("维护完成", "dedupSwept", swept, "bandwidthTrimmed", trimmed)
			}
		}
	}
}
