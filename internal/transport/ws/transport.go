package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/metrics"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

var logger = log.Logger("btpnips/transport/ws")

// HeaderPeerID 升级请求中的身份头
const HeaderPeerID = "X-BTP-Peer"

const disconnectBuffer = 256

// conn 一条对等连接
type conn struct {
	id   string
	peer types.PeerID
	ws   *websocket.Conn

	writeMu sync.Mutex
	closing atomic.Bool
}

func (c *conn) close() error {
	c.closing.Store(true)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Transport WebSocket 传输层
type Transport struct {
	cfg       config.TransportConfig
	local     types.PeerID
	bandwidth *metrics.BandwidthCounter

	dialer   *websocket.Dialer
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[types.PeerID]*conn

	inbound      chan interfaces.InboundPacket
	disconnected chan types.PeerID
	done         chan struct{}

	server   *http.Server
	listener net.Listener

	closed atomic.Bool
	wg     sync.WaitGroup
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建传输层；bandwidth 可为 nil
func New(cfg config.TransportConfig, local types.PeerID, bandwidth *metrics.BandwidthCounter) *Transport {
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = config.DefaultTransportConfig().InboundBuffer
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = config.DefaultTransportConfig().MaxFrameSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultTransportConfig().WriteTimeout
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultTransportConfig().Path
	}
	return &Transport{
		cfg:       cfg,
		local:     local,
		bandwidth: bandwidth,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:        make(map[types.PeerID]*conn),
		inbound:      make(chan interfaces.InboundPacket, cfg.InboundBuffer),
		disconnected: make(chan types.PeerID, disconnectBuffer),
		done:         make(chan struct{}),
	}
}

// Start 开始监听入站连接；ListenAddr 为空时只做出站
func (t *Transport) Start(_ context.Context) error {
	if t.cfg.ListenAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.cfg.ListenAddr, err)
	}

	router := mux.NewRouter()
	router.HandleFunc(t.cfg.Path, t.handleUpgrade).Methods(http.MethodGet)

	t.listener = ln
	t.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebSocket 服务退出", "error", err)
		}
	}()
	logger.Info("WebSocket 传输已监听", "addr", ln.Addr().String(), "path", t.cfg.Path)
	return nil
}

// Addr 实际监听地址，未监听时返回 nil
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Inbound 实现 Transport
func (t *Transport) Inbound() <-chan interfaces.InboundPacket {
	return t.inbound
}

// Disconnected 实现 Transport
func (t *Transport) Disconnected() <-chan types.PeerID {
	return t.disconnected
}

// Dial 实现 Transport，已连接时直接返回
func (t *Transport) Dial(ctx context.Context, peer types.PeerID, endpoint string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.Connected(peer) {
		return nil
	}

	header := http.Header{}
	header.Set(HeaderPeerID, t.local.String())
	ws, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	t.register(peer, ws)
	return nil
}

// Send 实现 Transport
func (t *Transport) Send(_ context.Context, peer types.PeerID, data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if int64(len(data)) > t.cfg.MaxFrameSize {
		return ErrFrameTooLarge
	}
	t.mu.RLock()
	c := t.conns[peer]
	t.mu.RUnlock()
	if c == nil {
		return interfaces.ErrPeerNotConnected
	}

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout.Duration()))
	err := c.ws.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		logger.Debug("发送失败，关闭连接", "peer", peer.ShortString(), "conn", c.id, "error", err)
		_ = c.ws.Close()
		return fmt.Errorf("send to %s: %w", peer.ShortString(), err)
	}
	if t.bandwidth != nil {
		t.bandwidth.LogSent(peer, int64(len(data)))
	}
	return nil
}

// Close 实现 Transport：主动关闭不产生 Disconnected 通知
func (t *Transport) Close(peer types.PeerID) error {
	t.mu.Lock()
	c := t.conns[peer]
	delete(t.conns, peer)
	t.mu.Unlock()
	if c == nil {
		return interfaces.ErrPeerNotConnected
	}
	return c.close()
}

// Connected 是否有到节点的连接
func (t *Transport) Connected(peer types.PeerID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.conns[peer]
	return ok
}

// Peers 当前连接的节点
func (t *Transport) Peers() []types.PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.PeerID, 0, len(t.conns))
	for id := range t.conns {
		out = append(out, id)
	}
	return out
}

// Shutdown 关闭监听与所有连接，随后关闭 Inbound / Disconnected 通道
func (t *Transport) Shutdown(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)

	var errs error
	if t.server != nil {
		errs = multierr.Append(errs, t.server.Shutdown(ctx))
	}

	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[types.PeerID]*conn)
	t.mu.Unlock()
	for _, c := range conns {
		errs = multierr.Append(errs, ignoreClosed(c.close()))
	}

	t.wg.Wait()
	close(t.inbound)
	close(t.disconnected)
	logger.Info("WebSocket 传输已关闭")
	return errs
}

// ============================================================================
//                              内部实现
// ============================================================================

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	peer, err := types.ParsePeerID(r.Header.Get(HeaderPeerID))
	if err != nil {
		http.Error(w, ErrMissingPeerHeader.Error(), http.StatusBadRequest)
		return
	}
	if t.closed.Load() {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("WebSocket 升级失败", "remote", r.RemoteAddr, "error", err)
		return
	}
	t.register(peer, ws)
}

// register 登记连接并启动读循环，替换同一节点的旧连接
func (t *Transport) register(peer types.PeerID, ws *websocket.Conn) {
	ws.SetReadLimit(t.cfg.MaxFrameSize)
	c := &conn{id: uuid.NewString(), peer: peer, ws: ws}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		_ = ws.Close()
		return
	}
	old := t.conns[peer]
	t.conns[peer] = c
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		logger.Debug("替换旧连接", "peer", peer.ShortString(), "old", old.id, "new", c.id)
		_ = old.close()
	}
	logger.Info("对等连接已建立", "peer", peer.ShortString(), "conn", c.id, "remote", ws.RemoteAddr().String())

	go t.readLoop(c)
}

func (t *Transport) readLoop(c *conn) {
	defer t.wg.Done()
	defer t.unregister(c)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closing.Load() {
				logger.Debug("连接读取结束", "peer", c.peer.ShortString(), "conn", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if t.bandwidth != nil {
			t.bandwidth.LogRecv(c.peer, int64(len(data)))
		}
		select {
		case t.inbound <- interfaces.InboundPacket{From: c.peer, Data: data}:
		case <-t.done:
			return
		}
	}
}

// unregister 连接结束；非主动关闭时通知 Disconnected
func (t *Transport) unregister(c *conn) {
	t.mu.Lock()
	current := t.conns[c.peer] == c
	if current {
		delete(t.conns, c.peer)
	}
	t.mu.Unlock()
	_ = c.ws.Close()

	if !current || c.closing.Load() || t.closed.Load() {
		return
	}
	logger.Info("对等连接已断开", "peer", c.peer.ShortString(), "conn", c.id)
	select {
	case t.disconnected <- c.peer:
	default:
		logger.Warn("断开通知队列已满", "peer", c.peer.ShortString())
	}
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
