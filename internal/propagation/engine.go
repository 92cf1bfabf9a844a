package propagation

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

var logger = log.Logger("btpnips/propagation")

// DefaultMaxConcurrentSends 单个事件的并发发送上限
const DefaultMaxConcurrentSends = 16

// Sender 发送已编码的包
type Sender interface {
	Send(ctx context.Context, peer types.PeerID, data []byte) error
}

// Encoder 为某个订阅编码转发包，ttl 为递减后的跳数
type Encoder func(sub *Subscription, evt *nostr.Event, ttl int) ([]byte, error)

// Options 引擎参数
type Options struct {
	MaxConcurrentSends int
	RecentSummaries    int
	Observer           Observer
}

// Engine 事件转发引擎
type Engine struct {
	dedup     *DedupCache
	hops      *HopLimiter
	index     *SubscriptionIndex
	limiter   *RateLimiter
	delivered *DeliveredTracker

	sender Sender
	encode Encoder
	opts   Options
	stats  *statsRecorder

	mu       sync.Mutex
	peerSubs map[types.PeerID]map[string]struct{}
}

// NewEngine 创建转发引擎
func NewEngine(
	dedup *DedupCache,
	hops *HopLimiter,
	limiter *RateLimiter,
	delivered *DeliveredTracker,
	sender Sender,
	encode Encoder,
	opts Options,
) *Engine {
	if opts.MaxConcurrentSends <= 0 {
		opts.MaxConcurrentSends = DefaultMaxConcurrentSends
	}
	return &Engine{
		dedup:     dedup,
		hops:      hops,
		index:     NewSubscriptionIndex(),
		limiter:   limiter,
		delivered: delivered,
		sender:    sender,
		encode:    encode,
		opts:      opts,
		stats:     newStatsRecorder(opts.RecentSummaries),
		peerSubs:  make(map[types.PeerID]map[string]struct{}),
	}
}

// ============================================================================
//                              订阅管理
// ============================================================================

// Subscribe 注册（或替换）节点的订阅
func (e *Engine) Subscribe(peer types.PeerID, id string, filters []types.Filter) (*Subscription, error) {
	switch {
	case peer.IsEmpty():
		return nil, ErrEmptyPeer
	case id == "":
		return nil, ErrEmptySubscriptionID
	case len(filters) == 0:
		return nil, ErrNoFilters
	}

	sub := &Subscription{ID: id, PeerID: peer, Filters: filters}
	e.index.Add(sub)

	e.mu.Lock()
	set, ok := e.peerSubs[peer]
	if !ok {
		set = make(map[string]struct{})
		e.peerSubs[peer] = set
	}
	set[id] = struct{}{}
	e.mu.Unlock()

	logger.Debug("订阅已注册", "peer", peer.ShortString(), "subID", id, "filters", len(filters))
	return sub, nil
}

// Unsubscribe 取消订阅，返回订阅是否存在
func (e *Engine) Unsubscribe(peer types.PeerID, id string) bool {
	removed := e.index.Remove(subscriptionKey(peer, id))

	e.mu.Lock()
	if set, ok := e.peerSubs[peer]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(e.peerSubs, peer)
		}
	}
	e.mu.Unlock()
	return removed
}

// RemovePeer 删除节点的全部订阅、投递记录与令牌桶
//
// 返回被删除的订阅 ID。
func (e *Engine) RemovePeer(peer types.PeerID) []string {
	e.mu.Lock()
	set := e.peerSubs[peer]
	delete(e.peerSubs, peer)
	e.mu.Unlock()

	ids := make([]string, 0, len(set))
	for id := range set {
		e.index.Remove(subscriptionKey(peer, id))
		ids = append(ids, id)
	}
	e.delivered.RemovePeer(peer)
	e.limiter.Remove(peer)

	if len(ids) > 0 {
		logger.Debug("已清理节点订阅", "peer", peer.ShortString(), "count", len(ids))
	}
	return ids
}

// PeerSubscriptions 节点当前的订阅 ID
func (e *Engine) PeerSubscriptions(peer types.PeerID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.peerSubs[peer]))
	for id := range e.peerSubs[peer] {
		ids = append(ids, id)
	}
	return ids
}

// SetPaymentRate 根据节点的支付金额调整限流
func (e *Engine) SetPaymentRate(peer types.PeerID, amount uint64) {
	e.limiter.SetPaymentRate(peer, amount)
}

// ============================================================================
//                              转发
// ============================================================================

// Propagate 转发事件
//
// ttl 为收到时的跳数（nil 使用默认值）；source 为事件来源节点，
// 本地发布的事件 source 为空。
func (e *Engine) Propagate(ctx context.Context, evt *nostr.Event, ttl *int, source types.PeerID) Summary {
	summary := Summary{EventID: evt.ID}
	defer func() { e.finish(summary) }()

	if e.dedup.CheckAndMark(evt.ID) {
		summary.Duplicate = true
		return summary
	}

	next, ok := e.hops.Next(ttl)
	if !ok {
		summary.TTLExhausted = true
		logger.Debug("跳数耗尽", "eventID", log.TruncateID(evt.ID, 8))
		return summary
	}

	candidates := e.index.Candidates(evt)
	summary.Candidates = len(candidates)

	// 每个节点只投递一次，取第一个匹配的订阅
	targets := make([]*Subscription, 0, len(candidates))
	chosen := make(map[types.PeerID]struct{}, len(candidates))
	for _, sub := range candidates {
		if _, done := chosen[sub.PeerID]; done {
			continue
		}
		if !types.MatchAny(sub.Filters, evt) {
			continue
		}
		chosen[sub.PeerID] = struct{}{}

		switch {
		case sub.PeerID == source:
			summary.SkippedSource++
		case e.delivered.WasDelivered(sub.PeerID, evt.ID):
			summary.SkippedDuplicate++
		case !e.limiter.TryConsume(sub.PeerID):
			summary.SkippedRateLimited++
		default:
			targets = append(targets, sub)
		}
	}

	if len(targets) == 0 {
		return summary
	}

	var (
		mu     sync.Mutex
		sent   int
		failed int
	)
	g := new(errgroup.Group)
	g.SetLimit(e.opts.MaxConcurrentSends)
	for _, sub := range targets {
		sub := sub
		g.Go(func() error {
			if err := e.deliver(ctx, sub, evt, next); err != nil {
				logger.Debug("事件发送失败",
					"peer", sub.PeerID.ShortString(),
					"eventID", log.TruncateID(evt.ID, 8),
					"error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.Sent = sent
	summary.Failed = failed
	return summary
}

func (e *Engine) deliver(ctx context.Context, sub *Subscription, evt *nostr.Event, ttl int) error {
	data, err := e.encode(sub, evt, ttl)
	if err != nil {
		return err
	}
	if err := e.sender.Send(ctx, sub.PeerID, data); err != nil {
		return err
	}
	e.delivered.MarkDelivered(sub.PeerID, evt.ID)
	return nil
}

func (e *Engine) finish(s Summary) {
	e.stats.record(s)
	if e.opts.Observer != nil {
		e.opts.Observer.ObservePropagation(s)
	}
	if s.Sent > 0 || s.Failed > 0 || s.SkippedRateLimited > 0 {
		logger.Debug("事件转发完成",
			"eventID", log.TruncateID(s.EventID, 8),
			"sent", s.Sent,
			"failed", s.Failed,
			"rateLimited", s.SkippedRateLimited)
	}
}

// Stats 返回转发统计快照
func (e *Engine) Stats() Stats {
	totals, recent := e.stats.snapshot()
	return Stats{
		Totals:        totals,
		Recent:        recent,
		Subscriptions: e.index.Len(),
		DedupEntries:  e.dedup.Len(),
	}
}

// Dedup 返回去重缓存
func (e *Engine) Dedup() *DedupCache {
	return e.dedup
}
