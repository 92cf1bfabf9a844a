package btpnips

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/discovery"
	"github.com/dep2p/go-btpnips/internal/node"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/internal/peer/lifecycle"
	"github.com/dep2p/go-btpnips/internal/propagation"
	"github.com/dep2p/go-btpnips/internal/transport/ws"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

var logger = log.Logger("btpnips")

// DefaultPriority Connect 未指定优先级时使用的值
const DefaultPriority = 5

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateStarting 启动中（Fx App 启动中）
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopping 停止中
	StateStopping

	// StateStopped 已停止
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node BTP-NIPs 中继节点
type Node struct {
	cfg *config.Config
	app *fx.App

	// 由 Fx 注入
	identity  *node.Identity
	core      *node.Node
	engine    *propagation.Engine
	lifecycle *lifecycle.Manager
	verifier  *claim.Verifier
	announcer *discovery.Announcer
	events    interfaces.EventStore
	transport *ws.Transport

	mu     sync.Mutex
	state  NodeState
	closed bool
}

// New 创建节点但不启动
//
// 示例：
//
//	node, err := btpnips.New(ctx,
//	    btpnips.WithInMemoryStorage(),
//	    btpnips.WithListenAddr("127.0.0.1:7447"),
//	)
func New(_ context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	n := &Node{cfg: o.cfg}
	extra := append([]fx.Option{
		fx.Populate(
			&n.identity,
			&n.core,
			&n.engine,
			&n.lifecycle,
			&n.verifier,
			&n.announcer,
			&n.events,
			&n.transport,
		),
	}, o.fxOptions...)

	app, err := node.NewApp(o.cfg, extra...)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	n.app = app
	return n, nil
}

// Start 创建并立即启动节点，等价于 New() + Start()
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	n, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return n, nil
}

// Start 启动节点：传输层监听、恢复持久化连接、发布节点公告
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.state == StateRunning {
		return ErrAlreadyStarted
	}

	n.state = StateStarting
	if err := n.app.Start(ctx); err != nil {
		n.state = StateStopped
		return fmt.Errorf("start fx app: %w", err)
	}
	n.state = StateRunning
	logger.Info("节点已启动", "pubkey", n.identity.PeerID().ShortString(), "address", n.ILPAddress())
	return nil
}

// Stop 停止节点
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.state != StateRunning {
		return ErrNotStarted
	}

	n.state = StateStopping
	err := n.app.Stop(ctx)
	n.state = StateStopped
	if err != nil {
		logger.Error("停止节点失败", "error", err)
		return fmt.Errorf("stop fx app: %w", err)
	}
	logger.Info("节点已停止")
	return nil
}

// Close 停止节点并释放资源，之后不可再启动
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	running := n.state == StateRunning
	n.mu.Unlock()

	var err error
	if running {
		ctx, cancel := context.WithTimeout(context.Background(), n.app.StopTimeout())
		err = n.Stop(ctx)
		cancel()
	}

	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return err
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// ════════════════════════════════════════════════════════════════════════════
//                              身份与地址
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点标识（社交身份公钥）
func (n *Node) ID() types.PeerID { return n.identity.PeerID() }

// ILPAddress 返回节点的 ILP 地址
func (n *Node) ILPAddress() string { return n.announcer.ILPAddress() }

// ListenAddr 返回传输层实际监听地址，未监听时为空
func (n *Node) ListenAddr() string {
	if addr := n.transport.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Announcement 返回最近一次发布的节点公告
func (n *Node) Announcement() *nostr.Event { return n.announcer.Current() }

// AnnouncementInfo 公告中可在运行期修改的字段
type AnnouncementInfo struct {
	Endpoint          string
	SettlementAddress string
	Features          []string
	Metadata          map[string]string
}

// UpdateAnnouncement 以新的端点、结算地址、特性与元数据重新发布公告
//
// 信息未变化时不发布并返回 false；新公告的 created_at 严格大于上一版本。
func (n *Node) UpdateAnnouncement(ctx context.Context, update AnnouncementInfo) (bool, error) {
	if n.State() != StateRunning {
		return false, ErrNotStarted
	}
	info := n.announcer.Info()
	info.Endpoint = update.Endpoint
	info.SettlementAddress = update.SettlementAddress
	info.Features = update.Features
	info.Metadata = update.Metadata
	return n.announcer.Update(ctx, info)
}

// Sign 以节点身份签名事件
func (n *Node) Sign(evt *nostr.Event) error { return n.identity.Sign(evt) }

// ════════════════════════════════════════════════════════════════════════════
//                              事件
// ════════════════════════════════════════════════════════════════════════════

// Publish 发布已签名的本地事件：校验、存储并转发给订阅者
func (n *Node) Publish(ctx context.Context, evt *nostr.Event) error {
	return n.core.Handler().Publish(ctx, evt)
}

// Query 查询本地存储中匹配任一过滤器的事件
func (n *Node) Query(ctx context.Context, filters ...types.Filter) ([]*nostr.Event, error) {
	return n.events.QueryByFilters(ctx, filters)
}

// AddPeer 导入其他节点的公告，使其可以通过 Connect 解析
func (n *Node) AddPeer(ctx context.Context, announcement *nostr.Event) (*types.PeerAddress, error) {
	addr, err := discovery.ParseAnnouncement(announcement)
	if err != nil {
		return nil, err
	}
	if err := n.Publish(ctx, announcement); err != nil {
		return nil, err
	}
	return addr, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接与订阅
// ════════════════════════════════════════════════════════════════════════════

// Connect 连接已公告的节点；连接建立后自动订阅其转发流
//
// priority 为 0 时使用 DefaultPriority。
func (n *Node) Connect(ctx context.Context, peer types.PeerID, priority int) (*lifecycle.Connection, error) {
	if priority == 0 {
		priority = DefaultPriority
	}
	return n.lifecycle.Connect(ctx, peer, priority)
}

// Disconnect 断开连接并删除连接记录
func (n *Node) Disconnect(ctx context.Context, peer types.PeerID) error {
	return n.lifecycle.Disconnect(ctx, peer)
}

// Connections 返回所有连接记录
func (n *Node) Connections() []*lifecycle.Connection {
	return n.lifecycle.List()
}

// Subscribe 向 peer 发起订阅
func (n *Node) Subscribe(ctx context.Context, peer types.PeerID, subID string, filters ...types.Filter) error {
	return n.core.Handler().Subscribe(ctx, peer, subID, filters)
}

// Unsubscribe 取消对 peer 的订阅
func (n *Node) Unsubscribe(ctx context.Context, peer types.PeerID, subID string) error {
	return n.core.Handler().Unsubscribe(ctx, peer, subID)
}

// Challenge 向 peer 发起认证挑战
func (n *Node) Challenge(ctx context.Context, peer types.PeerID) error {
	_, err := n.core.Handler().Challenge(ctx, peer)
	return err
}

// Authenticated 返回 peer 是否已通过认证挑战
func (n *Node) Authenticated(peer types.PeerID) bool {
	return n.core.Handler().Authenticated(peer)
}

// ════════════════════════════════════════════════════════════════════════════
//                              支付通道与统计
// ════════════════════════════════════════════════════════════════════════════

// RegisterChannel 登记（或更新）一个入账支付通道
func (n *Node) RegisterChannel(ctx context.Context, state *claim.ChannelState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	return n.verifier.Store().Put(ctx, state)
}

// Channel 返回支付通道状态
func (n *Node) Channel(ctx context.Context, channelID string) (*claim.ChannelState, error) {
	return n.verifier.Store().Get(ctx, channelID)
}

// Stats 返回转发统计
func (n *Node) Stats() propagation.Stats {
	return n.engine.Stats()
}
