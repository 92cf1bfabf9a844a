package interfaces

import (
	"context"
	"errors"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// ErrPeerNotConnected 目标节点没有可用的传输连接
var ErrPeerNotConnected = errors.New("transport: peer not connected")

// InboundPacket 从某个对等节点收到的一帧原始字节
type InboundPacket struct {
	From types.PeerID
	Data []byte
}

// Transport 传输层接口
//
// 传输层只负责字节的收发，不理解包格式。
// 同一个 PeerID 同时最多有一条连接。
type Transport interface {
	// Send 向节点发送一帧字节
	//
	// 节点没有连接时返回 ErrPeerNotConnected。
	Send(ctx context.Context, peer types.PeerID, data []byte) error

	// Dial 建立到节点端点的连接
	Dial(ctx context.Context, peer types.PeerID, endpoint string) error

	// Close 关闭与节点的连接
	Close(peer types.PeerID) error

	// Inbound 返回入站帧通道
	Inbound() <-chan InboundPacket

	// Disconnected 返回连接丢失通知通道
	Disconnected() <-chan types.PeerID
}
