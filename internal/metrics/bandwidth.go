package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// Stats 带宽快照
type Stats struct {
	TotalIn  int64   `json:"total_in"`
	TotalOut int64   `json:"total_out"`
	RateIn   float64 `json:"rate_in"`
	RateOut  float64 `json:"rate_out"`
}

type peerMeter struct {
	in      atomic.Int64
	out     atomic.Int64
	inRate  *RateMeter
	outRate *RateMeter
}

// BandwidthCounter 传输层带宽计数
type BandwidthCounter struct {
	clock clock.Clock

	totalIn      atomic.Int64
	totalOut     atomic.Int64
	totalInRate  *RateMeter
	totalOutRate *RateMeter

	mu    sync.RWMutex
	peers map[types.PeerID]*peerMeter
}

// NewBandwidthCounter 创建带宽计数器
func NewBandwidthCounter(clk clock.Clock) *BandwidthCounter {
	if clk == nil {
		clk = clock.New()
	}
	return &BandwidthCounter{
		clock:        clk,
		totalInRate:  NewRateMeter(clk),
		totalOutRate: NewRateMeter(clk),
		peers:        make(map[types.PeerID]*peerMeter),
	}
}

// LogSent 记录发往节点的字节数
func (b *BandwidthCounter) LogSent(peer types.PeerID, size int64) {
	b.totalOut.Add(size)
	b.totalOutRate.Add(size)
	m := b.meter(peer)
	m.out.Add(size)
	m.outRate.Add(size)
}

// LogRecv 记录来自节点的字节数
func (b *BandwidthCounter) LogRecv(peer types.PeerID, size int64) {
	b.totalIn.Add(size)
	b.totalInRate.Add(size)
	m := b.meter(peer)
	m.in.Add(size)
	m.inRate.Add(size)
}

// Totals 总带宽
func (b *BandwidthCounter) Totals() Stats {
	return Stats{
		TotalIn:  b.totalIn.Load(),
		TotalOut: b.totalOut.Load(),
		RateIn:   b.totalInRate.Rate(),
		RateOut:  b.totalOutRate.Rate(),
	}
}

// ForPeer 单个节点的带宽
func (b *BandwidthCounter) ForPeer(peer types.PeerID) Stats {
	b.mu.RLock()
	m := b.peers[peer]
	b.mu.RUnlock()
	if m == nil {
		return Stats{}
	}
	return Stats{
		TotalIn:  m.in.Load(),
		TotalOut: m.out.Load(),
		RateIn:   m.inRate.Rate(),
		RateOut:  m.outRate.Rate(),
	}
}

// ByPeer 所有节点的累计带宽
func (b *BandwidthCounter) ByPeer() map[types.PeerID]Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[types.PeerID]Stats, len(b.peers))
	for id, m := range b.peers {
		out[id] = Stats{TotalIn: m.in.Load(), TotalOut: m.out.Load()}
	}
	return out
}

// TrimIdle 清理 since 之后没有流量的节点
func (b *BandwidthCounter) TrimIdle(since time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, m := range b.peers {
		if m.inRate.LastUpdate().Before(since) && m.outRate.LastUpdate().Before(since) {
			delete(b.peers, id)
			n++
		}
	}
	return n
}

func (b *BandwidthCounter) meter(peer types.PeerID) *peerMeter {
	b.mu.RLock()
	m := b.peers[peer]
	b.mu.RUnlock()
	if m != nil {
		return m
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if m = b.peers[peer]; m == nil {
		m = &peerMeter{inRate: NewRateMeter(b.clock), outRate: NewRateMeter(b.clock)}
		b.peers[peer] = m
	}
	return m
}
