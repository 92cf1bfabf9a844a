package lifecycle

import (
	"time"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// 优先级范围，1 最高
const (
	MinPriority = 1
	MaxPriority = 10
)

// Connection 对等连接记录
type Connection struct {
	ID                string             `json:"id"`
	Identity          types.PeerID       `json:"identity"`
	Address           *types.PeerAddress `json:"address,omitempty"`
	State             State              `json:"state"`
	Endpoint          string             `json:"endpoint,omitempty"`
	SettlementAddress string             `json:"settlement_address,omitempty"`
	ChannelID         string             `json:"channel_id,omitempty"`
	Priority          int                `json:"priority"`
	LastHeartbeat     *time.Time         `json:"last_heartbeat,omitempty"`
	ReconnectAttempts int                `json:"reconnect_attempts"`
	Subscriptions     []string           `json:"subscriptions,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Clone 深拷贝
func (c *Connection) Clone() *Connection {
	out := *c
	if c.Address != nil {
		addr := *c.Address
		out.Address = &addr
	}
	if c.LastHeartbeat != nil {
		hb := *c.LastHeartbeat
		out.LastHeartbeat = &hb
	}
	out.Subscriptions = append([]string(nil), c.Subscriptions...)
	return &out
}

// Change 状态变化通知
//
// Removed 为 true 表示连接记录已被删除（取消关注）。
type Change struct {
	Identity types.PeerID
	From     State
	To       State
	Removed  bool
}
