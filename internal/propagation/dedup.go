package propagation

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// 去重缓存默认值
const (
	DefaultDedupTTL   = 24 * time.Hour
	DefaultSweepEvery = 1000
)

// DedupCache 事件去重缓存
//
// HasSeen 对过期条目惰性删除，过期后不会再返回 true；
// 每插入 sweepEvery 次做一次全量清理。
type DedupCache struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	ttl        time.Duration
	sweepEvery int
	inserts    int
	clock      clock.Clock
}

// NewDedupCache 创建去重缓存
func NewDedupCache(ttl time.Duration, sweepEvery int, clk clock.Clock) *DedupCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepEvery
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DedupCache{
		seen:       make(map[string]time.Time),
		ttl:        ttl,
		sweepEvery: sweepEvery,
		clock:      clk,
	}
}

// HasSeen 事件是否在有效期内见过
func (d *DedupCache) HasSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasSeenLocked(id, d.clock.Now())
}

// MarkSeen 标记事件已见，重复标记会刷新有效期
func (d *DedupCache) MarkSeen(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markLocked(id, d.clock.Now())
}

// CheckAndMark 原子地检查并标记
//
// 已见过返回 true（不刷新）；否则标记并返回 false。
func (d *DedupCache) CheckAndMark(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if d.hasSeenLocked(id, now) {
		return true
	}
	d.markLocked(id, now)
	return false
}

// Len 当前条目数（含未清理的过期条目）
func (d *DedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Sweep 清理全部过期条目，返回清理数量
func (d *DedupCache) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweepLocked(d.clock.Now())
}

func (d *DedupCache) hasSeenLocked(id string, now time.Time) bool {
	ts, ok := d.seen[id]
	if !ok {
		return false
	}
	if now.Sub(ts) >= d.ttl {
		delete(d.seen, id)
		return false
	}
	return true
}

func (d *DedupCache) markLocked(id string, now time.Time) {
	d.seen[id] = now
	d.inserts++
	if d.inserts%d.sweepEvery == 0 {
		if n := d.sweepLocked(now); n > 0 {
			logger.Debug("去重缓存清理完成", "removed", n, "remaining", len(d.seen))
		}
	}
}

func (d *DedupCache) sweepLocked(now time.Time) int {
	removed := 0
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}
