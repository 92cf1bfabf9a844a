package testutil

import (
	"context"
	"sync"

	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/types"
)

const memBuffer = 256

// MemNetwork 进程内网络
//
// 节点通过 Join 获得传输；Send 把帧投递到目标节点的入站通道，
// 发送方会被自动视为目标的已连接对端。
type MemNetwork struct {
	mu    sync.Mutex
	nodes map[types.PeerID]*MemTransport
}

// NewMemNetwork 创建内存网络
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{nodes: make(map[types.PeerID]*MemTransport)}
}

// Join 为 id 创建传输
func (n *MemNetwork) Join(id types.PeerID) *MemTransport {
	t := &MemTransport{
		local:        id,
		network:      n,
		peers:        make(map[types.PeerID]struct{}),
		inbound:      make(chan interfaces.InboundPacket, memBuffer),
		disconnected: make(chan types.PeerID, memBuffer),
	}
	n.mu.Lock()
	n.nodes[id] = t
	n.mu.Unlock()
	return t
}

func (n *MemNetwork) lookup(id types.PeerID) *MemTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[id]
}

// SendCall 记录一次 Send
type SendCall struct {
	Peer types.PeerID
	Data []byte
}

// MemTransport 实现 interfaces.Transport
type MemTransport struct {
	local   types.PeerID
	network *MemNetwork

	// 可覆盖的方法
	DialFunc func(ctx context.Context, peer types.PeerID, endpoint string) error
	SendFunc func(ctx context.Context, peer types.PeerID, data []byte) error

	mu        sync.Mutex
	peers     map[types.PeerID]struct{}
	sendCalls []SendCall

	inbound      chan interfaces.InboundPacket
	disconnected chan types.PeerID
}

var _ interfaces.Transport = (*MemTransport)(nil)

// Local 本地节点 ID
func (t *MemTransport) Local() types.PeerID { return t.local }

// Dial 建立到 peer 的连接；peer 不在网络中时返回 ErrPeerNotConnected
func (t *MemTransport) Dial(ctx context.Context, peer types.PeerID, endpoint string) error {
	if t.DialFunc != nil {
		if err := t.DialFunc(ctx, peer, endpoint); err != nil {
			return err
		}
	}
	remote := t.network.lookup(peer)
	if remote == nil {
		return interfaces.ErrPeerNotConnected
	}
	t.connect(peer)
	remote.connect(t.local)
	return nil
}

// Send 投递一帧到对端入站通道
func (t *MemTransport) Send(ctx context.Context, peer types.PeerID, data []byte) error {
	t.mu.Lock()
	t.sendCalls = append(t.sendCalls, SendCall{Peer: peer, Data: append([]byte(nil), data...)})
	t.mu.Unlock()

	if t.SendFunc != nil {
		return t.SendFunc(ctx, peer, data)
	}
	remote := t.network.lookup(peer)
	if remote == nil {
		return interfaces.ErrPeerNotConnected
	}
	remote.connect(t.local)
	select {
	case remote.inbound <- interfaces.InboundPacket{From: t.local, Data: append([]byte(nil), data...)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 断开与 peer 的连接并通知对端
func (t *MemTransport) Close(peer types.PeerID) error {
	t.mu.Lock()
	_, ok := t.peers[peer]
	delete(t.peers, peer)
	t.mu.Unlock()
	if !ok {
		return interfaces.ErrPeerNotConnected
	}
	if remote := t.network.lookup(peer); remote != nil {
		remote.Drop(t.local)
	}
	return nil
}

// Drop 模拟连接丢失：移除 peer 并发出断开通知
func (t *MemTransport) Drop(peer types.PeerID) {
	t.mu.Lock()
	_, ok := t.peers[peer]
	delete(t.peers, peer)
	t.mu.Unlock()
	if ok {
		t.disconnected <- peer
	}
}

// Inbound 入站帧通道
func (t *MemTransport) Inbound() <-chan interfaces.InboundPacket { return t.inbound }

// Disconnected 断开通知通道
func (t *MemTransport) Disconnected() <-chan types.PeerID { return t.disconnected }

// Connected 是否与 peer 相连
func (t *MemTransport) Connected(peer types.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[peer]
	return ok
}

// SendCalls 返回 Send 调用记录副本
func (t *MemTransport) SendCalls() []SendCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SendCall(nil), t.sendCalls...)
}

func (t *MemTransport) connect(peer types.PeerID) {
	t.mu.Lock()
	t.peers[peer] = struct{}{}
	t.mu.Unlock()
}
