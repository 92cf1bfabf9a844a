package propagation

import (
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// 令牌桶默认值
const (
	DefaultBaseRate            = 100.0
	DefaultPaymentUnitsPerBase = 1000
)

// RateLimiter 按节点的令牌桶
//
// 容量与补充速率默认均为 BaseRate/秒；
// SetPaymentRate 按 BaseRate × amount / unitsPerBase 线性缩放（最小为 1）。
// 补充在每次消费时按时间差惰性计算，没有后台定时器。
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[types.PeerID]*rate.Limiter
	baseRate     float64
	unitsPerBase float64
	clock        clock.Clock
}

// NewRateLimiter 创建限流器
func NewRateLimiter(baseRate, unitsPerBase float64, clk clock.Clock) *RateLimiter {
	if baseRate <= 0 {
		baseRate = DefaultBaseRate
	}
	if unitsPerBase <= 0 {
		unitsPerBase = DefaultPaymentUnitsPerBase
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		buckets:      make(map[types.PeerID]*rate.Limiter),
		baseRate:     baseRate,
		unitsPerBase: unitsPerBase,
		clock:        clk,
	}
}

func (r *RateLimiter) bucketLocked(peer types.PeerID) *rate.Limiter {
	l, ok := r.buckets[peer]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.baseRate), burstOf(r.baseRate))
		r.buckets[peer] = l
	}
	return l
}

func burstOf(capacity float64) int {
	if capacity < 1 {
		return 1
	}
	return int(capacity)
}

// TryConsume 尝试消费一个令牌
//
// 令牌不足时返回 false 且不产生副作用。
func (r *RateLimiter) TryConsume(peer types.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucketLocked(peer).AllowN(r.clock.Now(), 1)
}

// SetPaymentRate 按节点的支付速率调整容量与补充速率
func (r *RateLimiter) SetPaymentRate(peer types.PeerID, amount uint64) {
	capacity := r.baseRate * float64(amount) / r.unitsPerBase
	if capacity < 1 {
		capacity = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	l := r.bucketLocked(peer)
	l.SetLimitAt(now, rate.Limit(capacity))
	l.SetBurstAt(now, burstOf(capacity))
}

// Capacity 返回节点当前桶容量
func (r *RateLimiter) Capacity(peer types.PeerID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucketLocked(peer).Burst()
}

// Tokens 返回节点当前可用令牌
func (r *RateLimiter) Tokens(peer types.PeerID) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucketLocked(peer).TokensAt(r.clock.Now())
}

// Remove 删除节点的桶
func (r *RateLimiter) Remove(peer types.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, peer)
}
