package propagation

import (
	"sync"
)

// Summary 单次转发结果
type Summary struct {
	EventID string `json:"event_id"`

	// Duplicate 事件在去重缓存中，未做任何转发
	Duplicate bool `json:"duplicate,omitempty"`

	// TTLExhausted 跳数耗尽，未做任何转发
	TTLExhausted bool `json:"ttl_exhausted,omitempty"`

	Candidates         int `json:"candidates"`
	Sent               int `json:"sent"`
	SkippedSource      int `json:"skipped_source"`
	SkippedDuplicate   int `json:"skipped_duplicate"`
	SkippedRateLimited int `json:"skipped_rate_limited"`
	Failed             int `json:"failed"`
}

// Totals 累计计数
type Totals struct {
	Events             uint64 `json:"events"`
	Duplicates         uint64 `json:"duplicates"`
	TTLExhausted       uint64 `json:"ttl_exhausted"`
	Sent               uint64 `json:"sent"`
	SkippedSource      uint64 `json:"skipped_source"`
	SkippedDuplicate   uint64 `json:"skipped_duplicate"`
	SkippedRateLimited uint64 `json:"skipped_rate_limited"`
	Failed             uint64 `json:"failed"`
}

// Stats 转发统计快照
type Stats struct {
	Totals        Totals    `json:"totals"`
	Recent        []Summary `json:"recent"`
	Subscriptions int       `json:"subscriptions"`
	DedupEntries  int       `json:"dedup_entries"`
}

// Observer 接收每次转发的结果（如 Prometheus 导出）
type Observer interface {
	ObservePropagation(s Summary)
}

// DefaultRecentSummaries 保留的最近结果数
const DefaultRecentSummaries = 64

type statsRecorder struct {
	mu     sync.Mutex
	totals Totals
	recent []Summary
	next   int
	full   bool
}

func newStatsRecorder(size int) *statsRecorder {
	if size <= 0 {
		size = DefaultRecentSummaries
	}
	return &statsRecorder{recent: make([]Summary, size)}
}

func (r *statsRecorder) record(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totals.Events++
	if s.Duplicate {
		r.totals.Duplicates++
	}
	if s.TTLExhausted {
		r.totals.TTLExhausted++
	}
	r.totals.Sent += uint64(s.Sent)
	r.totals.SkippedSource += uint64(s.SkippedSource)
	r.totals.SkippedDuplicate += uint64(s.SkippedDuplicate)
	r.totals.SkippedRateLimited += uint64(s.SkippedRateLimited)
	r.totals.Failed += uint64(s.Failed)

	r.recent[r.next] = s
	r.next = (r.next + 1) % len(r.recent)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot 返回累计计数与按时间顺序排列的最近结果
func (r *statsRecorder) snapshot() (Totals, []Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Summary
	if r.full {
		out = append(out, r.recent[r.next:]...)
	}
	out = append(out, r.recent[:r.next]...)
	return r.totals, out
}
