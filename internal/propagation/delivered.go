package propagation

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// DefaultDeliveredPerPeer 每个节点记录的已投递事件数上限
const DefaultDeliveredPerPeer = 10000

// DeliveredTracker 按节点记录已投递的事件
//
// 与全局去重缓存相互独立；每个节点一个有界 LRU，条目超过 ttl 视为未投递。
type DeliveredTracker struct {
	mu      sync.Mutex
	peers   map[types.PeerID]*lru.Cache[string, time.Time]
	perPeer int
	ttl     time.Duration
	clock   clock.Clock
}

// NewDeliveredTracker 创建投递记录
func NewDeliveredTracker(perPeer int, ttl time.Duration, clk clock.Clock) *DeliveredTracker {
	if perPeer <= 0 {
		perPeer = DefaultDeliveredPerPeer
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DeliveredTracker{
		peers:   make(map[types.PeerID]*lru.Cache[string, time.Time]),
		perPeer: perPeer,
		ttl:     ttl,
		clock:   clk,
	}
}

// WasDelivered 事件是否已投递给该节点
func (d *DeliveredTracker) WasDelivered(peer types.PeerID, eventID string) bool {
	d.mu.Lock()
	cache, ok := d.peers[peer]
	d.mu.Unlock()
	if !ok {
		return false
	}
	ts, ok := cache.Get(eventID)
	if !ok {
		return false
	}
	if d.clock.Now().Sub(ts) >= d.ttl {
		cache.Remove(eventID)
		return false
	}
	return true
}

// MarkDelivered 记录投递
func (d *DeliveredTracker) MarkDelivered(peer types.PeerID, eventID string) {
	d.mu.Lock()
	cache, ok := d.peers[peer]
	if !ok {
		// size > 0 时不会返回错误
		cache, _ = lru.New[string, time.Time](d.perPeer)
		d.peers[peer] = cache
	}
	d.mu.Unlock()
	cache.Add(eventID, d.clock.Now())
}

// RemovePeer 清除节点的投递记录
func (d *DeliveredTracker) RemovePeer(peer types.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, peer)
}

// Count 节点的投递记录数
func (d *DeliveredTracker) Count(peer types.PeerID) int {
	d.mu.Lock()
	cache, ok := d.peers[peer]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return cache.Len()
}
