package propagation

// 跳数默认值
const (
	DefaultTTL    = 5
	DefaultMaxTTL = 16
)

// HopLimiter 跳数管理
//
// 未携带 TTL 的事件使用默认值，超过上限的 TTL 被截断。
type HopLimiter struct {
	defaultTTL int
	maxTTL     int
}

// NewHopLimiter 创建跳数管理器
func NewHopLimiter(defaultTTL, maxTTL int) *HopLimiter {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if maxTTL < defaultTTL {
		maxTTL = defaultTTL
	}
	return &HopLimiter{defaultTTL: defaultTTL, maxTTL: maxTTL}
}

// Next 递减 TTL
//
// 返回递减后的值；结果 <= 0 时 ok 为 false，事件不再转发。
func (h *HopLimiter) Next(ttl *int) (next int, ok bool) {
	current := h.defaultTTL
	if ttl != nil {
		current = *ttl
	}
	if current > h.maxTTL {
		current = h.maxTTL
	}
	next = current - 1
	return next, next > 0
}
