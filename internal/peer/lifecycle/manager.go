package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

var logger = log.Logger("btpnips/lifecycle")

// 默认值
const (
	DefaultMaxAttempts    = 10
	DefaultConnectTimeout = 30 * time.Second

	// RecoverStagger 启动恢复时按优先级错开的间隔
	RecoverStagger = 100 * time.Millisecond

	changesBuffer = 1024
)

// Config 管理器参数
type Config struct {
	Backoff        Backoff
	MaxAttempts    int
	ConnectTimeout time.Duration
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Backoff:        Backoff{Initial: time.Second, Max: 5 * time.Minute},
		MaxAttempts:    DefaultMaxAttempts,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Manager 对等连接生命周期管理器
type Manager struct {
	cfg      Config
	resolver Resolver
	dialer   Dialer
	channels ChannelProvider
	store    ConnectionStore
	clock    clock.Clock

	mu         sync.Mutex
	conns      map[types.PeerID]*Connection
	timers     map[types.PeerID]*clock.Timer
	attempting map[types.PeerID]bool
	closed     bool

	changes chan Change
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager 创建生命周期管理器
func NewManager(cfg Config, resolver Resolver, dialer Dialer, channels ChannelProvider, store ConnectionStore, clk clock.Clock) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		resolver:   resolver,
		dialer:     dialer,
		channels:   channels,
		store:      store,
		clock:      clk,
		conns:      make(map[types.PeerID]*Connection),
		timers:     make(map[types.PeerID]*clock.Timer),
		attempting: make(map[types.PeerID]bool),
		changes:    make(chan Change, changesBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Changes 状态变化通道，Close 后关闭
func (m *Manager) Changes() <-chan Change {
	return m.changes
}

// ============================================================================
//                              公共操作
// ============================================================================

// Connect 建立（或确认）与节点的连接
//
// 新节点从 DISCOVERING 开始并立即尝试一次；失败时按退避安排重连并返回错误。
// 已 CONNECTED 的节点只更新优先级；FAILED 节点需调用 Retry。
func (m *Manager) Connect(ctx context.Context, identity types.PeerID, priority int) (*Connection, error) {
	if priority < MinPriority || priority > MaxPriority {
		return nil, ErrInvalidPriority
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	conn, ok := m.conns[identity]
	if ok {
		if conn.Priority != priority {
			conn.Priority = priority
			conn.UpdatedAt = m.clock.Now()
			m.persistLocked(conn)
		}
		_, scheduled := m.timers[identity]
		if conn.State == StateConnected || conn.State == StateFailed || scheduled || m.attempting[identity] {
			if conn.State == StateFailed {
				logger.Info("连接处于 FAILED，需手动重试", "peer", identity.ShortString())
			}
			out := conn.Clone()
			m.mu.Unlock()
			return out, nil
		}
	} else {
		now := m.clock.Now()
		conn = &Connection{
			ID:        uuid.NewString(),
			Identity:  identity,
			State:     StateDiscovering,
			Priority:  priority,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.conns[identity] = conn
		m.persistLocked(conn)
		m.emitLocked(Change{Identity: identity, To: StateDiscovering})
		logger.Info("新建对等连接", "peer", identity.ShortString(), "priority", priority)
	}
	m.mu.Unlock()

	err := m.attempt(ctx, identity)
	out, _ := m.Get(identity)
	return out, err
}

// Disconnect 主动断开并删除连接记录，不再重连
func (m *Manager) Disconnect(ctx context.Context, identity types.PeerID) error {
	m.mu.Lock()
	conn, ok := m.conns[identity]
	if !ok {
		m.mu.Unlock()
		return ErrConnectionNotFound
	}
	m.stopTimerLocked(identity)

	if conn.State == StateConnected {
		// 失败只记录日志，记录随后被删除
		_ = m.transitionLocked(conn, StateDisconnected)
	}
	delete(m.conns, identity)
	if err := m.store.Delete(ctx, identity); err != nil {
		logger.Warn("删除连接记录失败", "peer", identity.ShortString(), "error", err)
	}
	m.emitLocked(Change{Identity: identity, From: conn.State, To: conn.State, Removed: true})
	m.mu.Unlock()

	if err := m.dialer.Close(identity); err != nil && !errors.Is(err, interfaces.ErrPeerNotConnected) {
		logger.Debug("关闭传输连接失败", "peer", identity.ShortString(), "error", err)
	}
	logger.Info("已断开对等连接", "peer", identity.ShortString())
	return nil
}

// HandleConnectionLost 传输层报告连接断开
//
// CONNECTED 的连接转为 DISCONNECTED 并安排重连；其他状态忽略。
func (m *Manager) HandleConnectionLost(identity types.PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[identity]
	if !ok {
		return ErrConnectionNotFound
	}
	if conn.State != StateConnected {
		return nil
	}
	if err := m.transitionLocked(conn, StateDisconnected); err != nil {
		return err
	}
	conn.ReconnectAttempts = 0
	m.persistLocked(conn)
	m.scheduleLocked(conn)
	logger.Info("连接断开，已安排重连", "peer", identity.ShortString())
	return nil
}

// Retry 手动重试 FAILED 连接
func (m *Manager) Retry(ctx context.Context, identity types.PeerID) error {
	m.mu.Lock()
	conn, ok := m.conns[identity]
	if !ok {
		m.mu.Unlock()
		return ErrConnectionNotFound
	}
	if conn.State != StateFailed {
		m.mu.Unlock()
		return checkTransition(conn.State, StateDiscovering)
	}
	if err := m.transitionLocked(conn, StateDiscovering); err != nil {
		m.mu.Unlock()
		return err
	}
	conn.ReconnectAttempts = 0
	m.persistLocked(conn)
	m.mu.Unlock()

	logger.Info("手动重试连接", "peer", identity.ShortString())
	return m.attempt(ctx, identity)
}

// Recover 启动时恢复持久化的连接
//
// CONNECTED / CONNECTING 记录先标记为 DISCONNECTED，
// 然后对所有非 FAILED 连接按优先级升序安排重连。返回安排的数量。
func (m *Manager) Recover(ctx context.Context) (int, error) {
	loaded, err := m.store.LoadAll(ctx)
	if err != nil && loaded == nil {
		return 0, err
	}
	if err != nil {
		logger.Warn("部分连接记录无法恢复", "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*Connection
	for _, conn := range loaded {
		if !conn.State.Valid() {
			logger.Warn("忽略状态无效的连接记录", "peer", conn.Identity.ShortString(), "state", conn.State)
			continue
		}
		if conn.State == StateConnected || conn.State == StateConnecting {
			// 进程重启后传输连接已不存在
			conn.State = StateDisconnected
			conn.Subscriptions = nil
			conn.UpdatedAt = m.clock.Now()
		}
		conn.ReconnectAttempts = 0
		m.conns[conn.Identity] = conn
		m.persistLocked(conn)
		m.emitLocked(Change{Identity: conn.Identity, To: conn.State})
		if conn.State != StateFailed {
			pending = append(pending, conn)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority < pending[j].Priority
		}
		return pending[i].Identity < pending[j].Identity
	})
	for rank, conn := range pending {
		delay := m.cfg.Backoff.Delay(0) + time.Duration(rank)*RecoverStagger
		m.scheduleAfterLocked(conn.Identity, delay)
	}

	logger.Info("连接恢复完成", "loaded", len(loaded), "scheduled", len(pending))
	return len(pending), nil
}

// Get 返回连接副本
func (m *Manager) Get(identity types.PeerID) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[identity]
	if !ok {
		return nil, false
	}
	return conn.Clone(), true
}

// List 按优先级返回所有连接副本
func (m *Manager) List() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

// Touch 记录心跳
func (m *Manager) Touch(identity types.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[identity]; ok {
		now := m.clock.Now()
		conn.LastHeartbeat = &now
	}
}

// AddSubscription 记录连接上的活跃订阅
func (m *Manager) AddSubscription(identity types.PeerID, subID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[identity]
	if !ok {
		return ErrConnectionNotFound
	}
	if !slices.Contains(conn.Subscriptions, subID) {
		conn.Subscriptions = append(conn.Subscriptions, subID)
		m.persistLocked(conn)
	}
	return nil
}

// RemoveSubscription 删除连接上的订阅记录
func (m *Manager) RemoveSubscription(identity types.PeerID, subID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[identity]
	if !ok {
		return ErrConnectionNotFound
	}
	if i := slices.Index(conn.Subscriptions, subID); i >= 0 {
		conn.Subscriptions = slices.Delete(conn.Subscriptions, i, i+1)
		m.persistLocked(conn)
	}
	return nil
}

// Close 停止所有重连定时器并关闭 Changes 通道
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	close(m.changes)
	return nil
}

// ============================================================================
//                              连接尝试
// ============================================================================

// attempt 从当前状态推进到 CONNECTED，失败时安排重连
func (m *Manager) attempt(ctx context.Context, identity types.PeerID) error {
	m.mu.Lock()
	if m.attempting[identity] {
		m.mu.Unlock()
		return ErrAttemptInProgress
	}
	m.attempting[identity] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.attempting, identity)
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	err := m.drive(ctx, identity)
	if err != nil && !errors.Is(err, ErrConnectionNotFound) {
		m.onAttemptFailed(identity, err)
	}
	return err
}

func (m *Manager) drive(ctx context.Context, identity types.PeerID) error {
	for {
		m.mu.Lock()
		conn, ok := m.conns[identity]
		if !ok {
			m.mu.Unlock()
			return ErrConnectionNotFound
		}
		state := conn.State
		var addr *types.PeerAddress
		if conn.Address != nil {
			a := *conn.Address
			addr = &a
		}
		m.mu.Unlock()

		switch state {
		case StateConnected:
			return nil

		case StateFailed:
			return checkTransition(StateFailed, StateConnecting)

		case StateDisconnected:
			if err := m.advance(identity, state, StateDiscovering, nil); err != nil {
				return err
			}

		case StateDiscovering:
			resolved, err := m.resolver.Resolve(ctx, identity)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			if resolved == nil || resolved.Endpoint == "" {
				return ErrPeerNotAnnounced
			}
			err = m.advance(identity, state, StateConnecting, func(c *Connection) {
				c.Address = resolved
				c.Endpoint = resolved.Endpoint
				c.SettlementAddress = resolved.SettlementAddress
			})
			if err != nil {
				return err
			}

		case StateConnecting:
			if addr == nil {
				return ErrPeerNotAnnounced
			}
			if err := m.dialer.Dial(ctx, identity, addr.Endpoint); err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			channelID, found, err := m.channels.FindChannel(ctx, identity, addr)
			if err != nil {
				return fmt.Errorf("find channel: %w", err)
			}
			next := StateChannelNeeded
			if found {
				next = StateConnected
			}
			err = m.advance(identity, state, next, func(c *Connection) {
				if found {
					c.ChannelID = channelID
				}
			})
			if err != nil {
				return err
			}

		case StateChannelNeeded:
			if err := m.advance(identity, state, StateChannelOpening, nil); err != nil {
				return err
			}

		case StateChannelOpening:
			if addr == nil {
				return ErrPeerNotAnnounced
			}
			channelID, err := m.channels.OpenChannel(ctx, identity, addr)
			if err != nil {
				return fmt.Errorf("open channel: %w", err)
			}
			err = m.advance(identity, state, StateConnected, func(c *Connection) {
				c.ChannelID = channelID
			})
			if err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: unknown state %s", ErrInvalidTransition, state)
		}
	}
}

// advance 在状态仍为 from 时转换到 to
func (m *Manager) advance(identity types.PeerID, from, to State, mutate func(*Connection)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[identity]
	if !ok {
		return ErrConnectionNotFound
	}
	if conn.State != from {
		return fmt.Errorf("%w: state changed to %s during attempt", ErrInvalidTransition, conn.State)
	}
	if mutate != nil {
		mutate(conn)
	}
	if err := m.transitionLocked(conn, to); err != nil {
		return err
	}
	m.persistLocked(conn)
	return nil
}

func (m *Manager) onAttemptFailed(identity types.PeerID, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[identity]
	if !ok || m.closed || conn.State == StateConnected || conn.State == StateFailed {
		return
	}
	conn.ReconnectAttempts++
	conn.UpdatedAt = m.clock.Now()
	logger.Debug("连接尝试失败",
		"peer", identity.ShortString(),
		"state", conn.State,
		"attempts", conn.ReconnectAttempts,
		"error", cause)
	m.persistLocked(conn)
	m.scheduleLocked(conn)
}

// ============================================================================
//                              状态与定时器
// ============================================================================

func (m *Manager) transitionLocked(conn *Connection, to State) error {
	from := conn.State
	if err := checkTransition(from, to); err != nil {
		logger.Error("非法状态转换", "peer", conn.Identity.ShortString(), "from", from, "to", to)
		return err
	}
	conn.State = to
	conn.UpdatedAt = m.clock.Now()

	switch to {
	case StateConnected:
		conn.ReconnectAttempts = 0
		now := m.clock.Now()
		conn.LastHeartbeat = &now
		m.stopTimerLocked(conn.Identity)
		logger.Info("对等连接已建立", "peer", conn.Identity.ShortString(), "channel", log.TruncateID(conn.ChannelID, 16))
	case StateDisconnected, StateFailed:
		conn.Subscriptions = nil
	}

	m.emitLocked(Change{Identity: conn.Identity, From: from, To: to})
	return nil
}

// scheduleLocked 按已尝试次数安排下一次重连，超过上限转为 FAILED
func (m *Manager) scheduleLocked(conn *Connection) {
	if conn.ReconnectAttempts >= m.cfg.MaxAttempts {
		m.stopTimerLocked(conn.Identity)
		if err := m.transitionLocked(conn, StateFailed); err == nil {
			m.persistLocked(conn)
			logger.Warn("重连次数超限，连接进入 FAILED",
				"peer", conn.Identity.ShortString(),
				"attempts", conn.ReconnectAttempts,
				"error", ErrMaxReconnectAttempts)
		}
		return
	}
	m.scheduleAfterLocked(conn.Identity, m.cfg.Backoff.Delay(conn.ReconnectAttempts))
}

// scheduleAfterLocked 安排重连，已有定时器先取消
func (m *Manager) scheduleAfterLocked(identity types.PeerID, delay time.Duration) {
	if m.closed {
		return
	}
	m.stopTimerLocked(identity)

	var timer *clock.Timer
	timer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.closed || m.timers[identity] != timer {
			m.mu.Unlock()
			return
		}
		delete(m.timers, identity)
		m.wg.Add(1)
		m.mu.Unlock()

		defer m.wg.Done()
		if err := m.attempt(m.ctx, identity); err == nil {
			logger.Debug("重连成功", "peer", identity.ShortString())
		}
	})
	m.timers[identity] = timer
	logger.Debug("已安排重连", "peer", identity.ShortString(), "delay", delay)
}

func (m *Manager) stopTimerLocked(identity types.PeerID) {
	if t, ok := m.timers[identity]; ok {
		t.Stop()
		delete(m.timers, identity)
	}
}

// Scheduled 节点是否有待执行的重连
func (m *Manager) Scheduled(identity types.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[identity]
	return ok
}

func (m *Manager) persistLocked(conn *Connection) {
	if err := m.store.Save(m.ctx, conn); err != nil {
		logger.Warn("保存连接记录失败", "peer", conn.Identity.ShortString(), "error", err)
	}
}

func (m *Manager) emitLocked(c Change) {
	if m.closed {
		return
	}
	select {
	case m.changes <- c:
	default:
		logger.Warn("状态变化通道已满，丢弃通知", "peer", c.Identity.ShortString(), "to", c.To)
	}
}
